// Package gate перехватывает чувствительные действия: вместо исполнения
// публикует запрос на подтверждение и сразу возвращает waiting_for_approval.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/codec"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"go.uber.org/zap"
)

// UnknownUser подставляется, когда вызывающий не представился.
const UnknownUser = "unknown"

// Emitter публикует запрос на подтверждение (notify.ApprovalEmitter).
type Emitter interface {
	Emit(ctx context.Context, req domain.ApprovalRequest, encoded string) error
}

// ActionSpec — метаданные одного перехватываемого действия.
type ActionSpec struct {
	Name         string // Имя инструмента
	ResourceType domain.ResourceType
	Label        string // "파드 삭제"
	Impact       string // Статичный текст о последствиях

	NameFrom         Extractor
	NamespaceFrom    Extractor // nil или пустое значение -> DefaultNamespace
	DefaultNamespace string
}

// ActionFunc — вызываемое действие с точки зрения слоя инструментов.
type ActionFunc func(ctx context.Context, user string, args Args) domain.Result

type Gate struct {
	emitter     Emitter
	trail       audit.Recorder
	maxValueLen int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New собирает шлюз. maxValueLen — лимит длины значения кнопки (Slack: 2000), <= 0 отключает проверку.
func New(emitter Emitter, trail audit.Recorder, maxValueLen int, m *metrics.Metrics, logger *zap.Logger) *Gate {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Gate{
		emitter:     emitter,
		trail:       trail,
		maxValueLen: maxValueLen,
		now:         time.Now,
		metrics:     m,
		logger:      logger.With(zap.String("mod", "gate")),
	}
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Wrap превращает описание действия в ActionFunc. Исполнитель при этом не вызывается никогда:
// исполнение происходит только после колбэка администратора.
func (g *Gate) Wrap(spec ActionSpec) ActionFunc {
	rt := spec.ResourceType.Normalize()

	return func(ctx context.Context, user string, args Args) domain.Result {
		if user == "" {
			user = UnknownUser
		}
		traceID := infra.TraceID(ctx)

		base := audit.Entry{
			TraceID:      traceID,
			Actor:        user,
			Action:       spec.Label,
			ResourceType: rt.String(),
		}

		// 1. Собираем команду из аргументов
		cmd, err := spec.Command(args)
		if err != nil {
			return g.reject(ctx, base, cmd, err)
		}

		// 2. Кодируем и проверяем, что значение влезет в кнопку
		encoded, err := codec.Encode(cmd)
		if err == nil {
			err = codec.FitsWithin(encoded, g.maxValueLen)
		}
		if err != nil {
			return g.reject(ctx, base, cmd, err)
		}

		// 3. Публикуем запрос. Ошибка доставки не роняет вызов
		req := domain.NewApprovalRequest(user, cmd, spec.Impact, g.now())
		emitErr := g.emitter.Emit(ctx, req, encoded)

		delivery := metrics.DeliveryOK
		entry := base
		entry.ResourceName = cmd.ResourceName
		entry.Namespace = cmd.Namespace
		entry.ApprovalID = req.ID
		entry.Status = audit.StatusPending
		entry.Message = spec.Impact
		if emitErr != nil {
			delivery = metrics.DeliveryFailed
			entry.DeliveryError = emitErr.Error()
			g.metrics.NotificationFailures.WithLabelValues(metrics.KindApproval).Inc()
			g.logger.Error("approval request not delivered",
				zap.Error(emitErr),
				zap.String("trace_id", traceID),
				zap.String("approval_id", req.ID),
				zap.String("target", cmd.Target()),
			)
		}
		g.metrics.ApprovalRequests.WithLabelValues(rt.String(), delivery).Inc()

		// 4. Ровно одна pending-запись на вызов. Сбой приёмника Trail уже залогировал
		_ = g.trail.Record(ctx, entry)

		return waiting(req, emitErr)
	}
}

// Command собирает PendingCommand из аргументов вызова. Тип ресурса нормализуется.
func (spec ActionSpec) Command(args Args) (domain.PendingCommand, error) {
	cmd := domain.PendingCommand{ResourceType: spec.ResourceType.Normalize(), ActionLabel: spec.Label}
	if spec.NameFrom == nil {
		return cmd, fmt.Errorf("%s: no name extractor configured", spec.Name)
	}

	name, err := spec.NameFrom(args)
	if err != nil {
		return cmd, err
	}
	cmd.ResourceName = name

	ns := ""
	if spec.NamespaceFrom != nil {
		if ns, err = spec.NamespaceFrom(args); err != nil {
			return cmd, err
		}
	}
	if ns == "" {
		ns = spec.DefaultNamespace
	}
	cmd.Namespace = ns
	return cmd, nil
}

// reject: ничего не публикуем, пишем error-запись и возвращаем ошибку вызывающему.
func (g *Gate) reject(ctx context.Context, base audit.Entry, cmd domain.PendingCommand, err error) domain.Result {
	entry := base
	entry.ResourceName = cmd.ResourceName
	entry.Namespace = cmd.Namespace
	entry.Status = audit.StatusError
	entry.Message = err.Error()
	_ = g.trail.Record(ctx, entry)

	g.logger.Warn("gated action rejected",
		zap.Error(err),
		zap.String("trace_id", base.TraceID),
		zap.String("actor", base.Actor),
		zap.String("action", base.Action),
	)
	return domain.Failure(err.Error())
}

func waiting(req domain.ApprovalRequest, emitErr error) domain.Result {
	cmd := req.Command
	msg := fmt.Sprintf("관리자 승인 대기 중입니다: %s (%s)", cmd.ActionLabel, cmd.Target())
	data := map[string]any{
		"resource_type": cmd.ResourceType.String(),
		"resource_name": cmd.ResourceName,
		"namespace":     cmd.Namespace,
		"action":        cmd.ActionLabel,
		"delivered":     emitErr == nil,
	}
	if emitErr != nil {
		msg += " (승인 요청 전송 실패, 관리자에게 직접 문의하세요)"
	}
	return domain.Result{
		Status:     domain.StatusWaitingForApproval,
		Message:    msg,
		ApprovalID: req.ID,
		Data:       data,
	}
}
