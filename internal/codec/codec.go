// Package codec упаковывает отложенную команду в одну непрозрачную строку,
// которую Slack переносит в значении интерактивной кнопки, и распаковывает её
// обратно при получении колбэка.
//
// Формат: resourceType|resourceName|namespace|actionLabel. Экранирования нет,
// поэтому разделитель внутри полей запрещён и отвергается при кодировании.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/approval-gateway/internal/domain"
)

const (
	Delimiter  = "|"
	fieldCount = 4
)

var (
	ErrMalformedCommand = errors.New("codec: malformed command")
	ErrDelimiterInField = errors.New("codec: field contains delimiter")
	ErrEmptyField       = errors.New("codec: required field is empty")
	ErrValueTooLong     = errors.New("codec: encoded value exceeds control limit")
)

// Encode сериализует команду. Ошибка возвращается только для невалидных входных
// данных, поэтому decode(encode(c)) == c для любого c, прошедшего Encode.
func Encode(c domain.PendingCommand) (string, error) {
	if err := Validate(c); err != nil {
		return "", err
	}
	return strings.Join([]string{
		string(c.ResourceType),
		c.ResourceName,
		c.Namespace,
		c.ActionLabel,
	}, Delimiter), nil
}

// Decode разбирает значение кнопки. Любое отклонение от четырёх полей — MalformedCommand.
func Decode(value string) (domain.PendingCommand, error) {
	parts := strings.Split(value, Delimiter)
	if len(parts) != fieldCount {
		return domain.PendingCommand{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedCommand, fieldCount, len(parts))
	}

	c := domain.PendingCommand{
		ResourceType: domain.ResourceType(parts[0]),
		ResourceName: parts[1],
		Namespace:    parts[2],
		ActionLabel:  parts[3],
	}
	if c.ResourceType == "" || c.ResourceName == "" {
		return domain.PendingCommand{}, fmt.Errorf("%w: resource type and name are required", ErrMalformedCommand)
	}
	return c, nil
}

// Validate проверяет инвариант команды до кодирования.
func Validate(c domain.PendingCommand) error {
	if c.ResourceType == "" {
		return fmt.Errorf("%w: resource_type", ErrEmptyField)
	}
	if c.ResourceName == "" {
		return fmt.Errorf("%w: resource_name", ErrEmptyField)
	}

	fields := map[string]string{
		"resource_type": string(c.ResourceType),
		"resource_name": c.ResourceName,
		"namespace":     c.Namespace,
		"action_label":  c.ActionLabel,
	}
	for name, v := range fields {
		if strings.Contains(v, Delimiter) {
			return fmt.Errorf("%w: %s", ErrDelimiterInField, name)
		}
	}
	return nil
}

// FitsWithin проверяет внешнее ограничение хоста на длину значения контрола.
// Slack считает лимит в символах; limit <= 0 отключает проверку.
func FitsWithin(value string, limit int) error {
	if limit <= 0 {
		return nil
	}
	if n := utf8.RuneCountInString(value); n > limit {
		return fmt.Errorf("%w: %d > %d", ErrValueTooLong, n, limit)
	}
	return nil
}
