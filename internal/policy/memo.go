package policy

import (
	"strings"
	"sync"

	"github.com/xela07ax/approval-gateway/internal/domain"
	"go.uber.org/zap"
)

// Wildcard — правило для всех инструментов, у которых нет своего.
const Wildcard = "*"

// Enforcer решает, как инструмент попадает к исполнителю.
type Enforcer interface {
	Effect(action string) domain.PolicyEffect
}

// MemoEnforcer — in-memory таблица "инструмент -> эффект".
// Встроенные правила задаёт слой инструментов, конфиг их перекрывает.
type MemoEnforcer struct {
	mu sync.RWMutex
	// Кэш: action -> Policy
	policies map[string]domain.ActionPolicy

	defaults []domain.ActionPolicy
	logger   *zap.Logger
}

func NewMemoEnforcer(defaults []domain.ActionPolicy, logger *zap.Logger) *MemoEnforcer {
	e := &MemoEnforcer{
		defaults: defaults,
		logger:   logger.Named("enforcer"),
	}
	e.Refresh(nil)
	return e
}

// Effect работает только с RAM. Это и есть "Hot Path".
func (e *MemoEnforcer) Effect(action string) domain.PolicyEffect {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// 1. Сначала ищем правило инструмента
	if p, ok := e.policies[normalize(action)]; ok {
		return p.Decide()
	}

	// 2. Если нет — глобальное правило (wildcard)
	if p, ok := e.policies[Wildcard]; ok {
		return p.Decide()
	}

	// 3. Если ничего не нашли — дефолтный запрет Default Deny (Zero Trust)
	return domain.EffectDeny
}

// Refresh пересобирает таблицу: встроенные правила, поверх них overrides из конфига.
// Правило с неизвестным эффектом сохраняется и трактуется как deny.
func (e *MemoEnforcer) Refresh(overrides []domain.ActionPolicy) {
	next := make(map[string]domain.ActionPolicy, len(e.defaults)+len(overrides))
	for _, p := range e.defaults {
		next[normalize(p.Action)] = p
	}
	for _, p := range overrides {
		key := normalize(p.Action)
		if key == "" {
			continue
		}
		if p.Decide() != p.Effect {
			e.logger.Warn("unknown policy effect, treating as deny",
				zap.String("action", p.Action), zap.String("effect", string(p.Effect)))
		}
		next[key] = p
	}

	e.mu.Lock()
	e.policies = next
	e.mu.Unlock()

	e.logger.Info("policy table refreshed", zap.Int("count", len(next)))
}

func normalize(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
