// Package dispatch сопоставляет подтверждённой команде ровно одного исполнителя.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xela07ax/approval-gateway/internal/domain"
)

var (
	ErrUnknownResourceType = errors.New("unknown resource type")
	ErrDuplicateType       = errors.New("resource type already registered")
	ErrNilExecutor         = errors.New("executor is nil")
)

// Executor выполняет разрушительное действие над одним ресурсом.
// Ошибка и Result{error} для диспетчера равнозначны: обе превращаются в провал.
type Executor interface {
	Execute(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error)
}

// ExecutorFunc позволяет использовать функцию как Executor.
type ExecutorFunc func(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error) {
	return f(ctx, cmd)
}

type entry struct {
	canonical domain.ResourceType
	exec      Executor
}

// Builder собирает реестр при старте. После Build реестр не меняется.
type Builder struct {
	entries map[domain.ResourceType]entry
	err     error
}

func NewBuilder() *Builder {
	return &Builder{entries: make(map[domain.ResourceType]entry)}
}

// Register привязывает тип ресурса (и его синонимы) к исполнителю.
// Первая ошибка запоминается и возвращается из Build.
func (b *Builder) Register(rt domain.ResourceType, exec Executor, aliases ...domain.ResourceType) *Builder {
	if b.err != nil {
		return b
	}
	canonical := rt.Normalize()
	if canonical == "" {
		b.err = fmt.Errorf("register: empty resource type")
		return b
	}
	if exec == nil {
		b.err = fmt.Errorf("register %q: %w", canonical, ErrNilExecutor)
		return b
	}

	for _, key := range append([]domain.ResourceType{rt}, aliases...) {
		key = key.Normalize()
		if _, exists := b.entries[key]; exists {
			b.err = fmt.Errorf("register %q: %w", key, ErrDuplicateType)
			return b
		}
		b.entries[key] = entry{canonical: canonical, exec: exec}
	}
	return b
}

func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	entries := make(map[domain.ResourceType]entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Registry{entries: entries}, nil
}

// Registry — неизменяемая таблица исполнителей, безопасная для конкурентного чтения.
type Registry struct {
	entries map[domain.ResourceType]entry
}

// Lookup возвращает исполнителя и канонический тип (синоним "ec2" -> "instance").
func (r *Registry) Lookup(rt domain.ResourceType) (Executor, domain.ResourceType, bool) {
	e, ok := r.entries[rt.Normalize()]
	if !ok {
		return nil, "", false
	}
	return e.exec, e.canonical, true
}

// Types возвращает все зарегистрированные ключи, включая синонимы.
func (r *Registry) Types() []domain.ResourceType {
	out := make([]domain.ResourceType, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
