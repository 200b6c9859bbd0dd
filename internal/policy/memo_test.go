package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"go.uber.org/zap"
)

var builtin = []domain.ActionPolicy{
	{Action: "delete_pod", Effect: domain.EffectApprove},
	{Action: "list_pods", Effect: domain.EffectAllow},
}

func TestMemoEnforcer_Defaults(t *testing.T) {
	e := NewMemoEnforcer(builtin, zap.NewNop())

	assert.Equal(t, domain.EffectApprove, e.Effect("delete_pod"))
	assert.Equal(t, domain.EffectAllow, e.Effect(" LIST_PODS "))
	assert.Equal(t, domain.EffectDeny, e.Effect("drop_database"))
}

func TestMemoEnforcer_OverridesAndWildcard(t *testing.T) {
	e := NewMemoEnforcer(builtin, zap.NewNop())
	e.Refresh([]domain.ActionPolicy{
		{Action: "list_pods", Effect: domain.EffectApprove},
		{Action: "*", Effect: domain.EffectAllow},
		{Action: "delete_pod", Effect: "yolo"},
		{Action: "", Effect: domain.EffectAllow},
	})

	assert.Equal(t, domain.EffectApprove, e.Effect("list_pods"))
	assert.Equal(t, domain.EffectAllow, e.Effect("anything_else"))
	// Неизвестный эффект не ослабляет защиту
	assert.Equal(t, domain.EffectDeny, e.Effect("delete_pod"))
}

func TestMemoEnforcer_RefreshDropsOldOverrides(t *testing.T) {
	e := NewMemoEnforcer(builtin, zap.NewNop())
	e.Refresh([]domain.ActionPolicy{{Action: "delete_pod", Effect: domain.EffectAllow}})
	assert.Equal(t, domain.EffectAllow, e.Effect("delete_pod"))

	e.Refresh(nil)
	assert.Equal(t, domain.EffectApprove, e.Effect("delete_pod"))
}

func TestActionPolicy_DecideNil(t *testing.T) {
	var p *domain.ActionPolicy
	assert.Equal(t, domain.EffectDeny, p.Decide())
}
