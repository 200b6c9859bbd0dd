package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"go.uber.org/zap"
)

type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(reg *Registry, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		registry: reg,
		metrics:  m,
		logger:   logger.With(zap.String("mod", "dispatch")),
	}
}

// Dispatch вызывает ровно одного исполнителя. Неизвестный тип — ErrUnknownResourceType
// без вызова исполнителей. Ошибки и паники исполнителя не выходят наружу:
// они становятся Result{error}.
// Повторный вызов с той же командой выполнит действие ещё раз.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.PendingCommand) (res domain.Result, err error) {
	exec, canonical, ok := d.registry.Lookup(cmd.ResourceType)
	if !ok {
		return domain.Failure(fmt.Sprintf("unknown resource type: %s", cmd.ResourceType)),
			fmt.Errorf("%w: %q", ErrUnknownResourceType, cmd.ResourceType.Normalize())
	}
	cmd.ResourceType = canonical

	start := time.Now()
	defer func() {
		d.metrics.DispatchDuration.
			WithLabelValues(canonical.String(), string(res.Status)).
			Observe(time.Since(start).Seconds())
	}()

	return d.invoke(ctx, exec, cmd), nil
}

func (d *Dispatcher) invoke(ctx context.Context, exec Executor, cmd domain.PendingCommand) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panic",
				zap.Any("panic", r),
				zap.String("target", cmd.Target()),
				zap.String("namespace", cmd.Namespace),
			)
			res = domain.Failure(fmt.Sprintf("executor panic: %v", r))
		}
	}()

	out, err := exec.Execute(ctx, cmd)
	if err != nil {
		return domain.Failure(err.Error())
	}
	if out.Status != domain.StatusSuccess {
		out.Status = domain.StatusError
		if out.Message == "" {
			out.Message = "executor reported failure"
		}
	}
	return out
}

// Knows сообщает, есть ли исполнитель для типа (с учётом синонимов).
func (d *Dispatcher) Knows(rt domain.ResourceType) bool {
	_, _, ok := d.registry.Lookup(rt)
	return ok
}
