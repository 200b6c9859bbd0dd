package gate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Args — аргументы вызова инструмента в том виде, в каком их прислал клиент.
type Args map[string]any

// Extractor достаёт значение поля команды из аргументов вызова.
type Extractor func(args Args) (string, error)

// Arg — обязательный строковый аргумент.
func Arg(key string) Extractor {
	return func(args Args) (string, error) {
		v, err := OptionalArg(key)(args)
		if err != nil {
			return "", err
		}
		if v == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
		}
		return v, nil
	}
}

// OptionalArg — необязательный строковый аргумент: отсутствие даёт пустую строку.
func OptionalArg(key string) Extractor {
	return func(args Args) (string, error) {
		raw, ok := args[key]
		if !ok || raw == nil {
			return "", nil
		}
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgument, key, raw)
		}
		return strings.TrimSpace(s), nil
	}
}
