package domain

// PolicyEffect определяет, как инструмент попадает к исполнителю
type PolicyEffect string

const (
	EffectAllow   PolicyEffect = "allow"   // Выполнить сразу
	EffectDeny    PolicyEffect = "deny"    // Заблокировать
	EffectApprove PolicyEffect = "approve" // Требовать ручного подтверждения (HITL)
)

// ActionPolicy — правило для одного инструмента.
type ActionPolicy struct {
	Action string       `json:"action" mapstructure:"action"`
	Effect PolicyEffect `json:"effect" mapstructure:"effect"`
}

// Decide гарантирует возврат валидного эффекта, даже если правило не задано (Zero Trust).
func (p *ActionPolicy) Decide() PolicyEffect {
	if p == nil {
		return EffectDeny
	}
	switch p.Effect {
	case EffectAllow, EffectDeny, EffectApprove:
		return p.Effect
	default:
		return EffectDeny
	}
}
