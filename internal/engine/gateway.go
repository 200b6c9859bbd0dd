package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/codec"
	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"github.com/xela07ax/approval-gateway/internal/notify"
	"go.uber.org/zap"
)

// Исходы колбэка (метка outcome у gateway_callbacks_total)
const (
	OutcomeRejected    = "rejected"
	OutcomeMalformed   = "malformed"
	OutcomeUnknownType = "unknown_type"
	OutcomeFrozen      = "frozen"
	OutcomeDuplicate   = "duplicate"
	OutcomeExecuted    = "executed"
	OutcomeFailed      = "failed"
	OutcomeInternal    = "internal_error"
)

type Dispatcher interface {
	Knows(rt domain.ResourceType) bool
	Dispatch(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error)
}

type Notifier interface {
	Notify(ctx context.Context, o notify.Outcome) error
}

type Freezer interface {
	IsFrozen(rt domain.ResourceType) bool
}

// Gateway обрабатывает колбэк администратора. Подпись уже проверена webhook.Verifier,
// сюда доходят только аутентифицированные запросы.
type Gateway struct {
	dispatcher Dispatcher
	trail      audit.Recorder
	notifier   Notifier
	once       OnceGuard // nil — маркер отключен (dedup.enabled=false)
	freeze     Freezer   // nil — заморозки нет
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewGateway(d Dispatcher, trail audit.Recorder, n Notifier, once OnceGuard, freeze Freezer, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Gateway{
		dispatcher: d,
		trail:      trail,
		notifier:   n,
		once:       once,
		freeze:     freeze,
		metrics:    m,
		logger:     logger.With(zap.String("mod", "callback")),
		now:        time.Now,
	}
}

// HandleCallback: RECEIVED -> PARSED|MALFORMED -> DECODED|MALFORMED -> EXECUTED|DISPATCH_ERROR -> DONE.
// Ретраев внутри нет: повтор доставки от Slack отсекается маркером.
func (g *Gateway) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infra.TraceID(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			g.internalError(w, traceID, fmt.Errorf("panic: %v", rec))
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.internalError(w, traceID, fmt.Errorf("read body: %w", err))
		return
	}

	// 1. PARSED | MALFORMED
	payload, err := parsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		g.malformed(w, traceID, "Invalid request format", err)
		return
	}
	action := payload.action()

	// 2. DECODED | MALFORMED
	cmd, err := codec.Decode(action.Value)
	if err != nil {
		g.malformed(w, traceID, "Invalid action format", err)
		return
	}
	cmd.ResourceType = cmd.ResourceType.Normalize()

	approver := payload.approver()
	entry := audit.Entry{
		TraceID:      traceID,
		Actor:        approver,
		Action:       cmd.ActionLabel,
		ResourceType: cmd.ResourceType.String(),
		ResourceName: cmd.ResourceName,
		Namespace:    cmd.Namespace,
	}
	approvalID, _ := notify.ParseApprovalBlockID(action.BlockID)
	entry.ApprovalID = approvalID

	log := g.logger.With(
		zap.String("trace_id", traceID),
		zap.String("approver", approver),
		zap.String("target", cmd.Target()),
		zap.String("namespace", cmd.Namespace),
		zap.String("approval_id", approvalID),
	)

	// 3. Неизвестный тип: ничего не исполняем
	if !g.dispatcher.Knows(cmd.ResourceType) {
		g.deny(ctx, entry, "unknown resource type")
		g.metrics.Callbacks.WithLabelValues(OutcomeUnknownType).Inc()
		log.Warn("callback for unknown resource type")
		writeResponse(w, http.StatusBadRequest, ephemeral, "Unknown resource type: "+cmd.ResourceType.String())
		return
	}

	// 4. Заморозка исполнения оператором
	if g.freeze != nil && g.freeze.IsFrozen(cmd.ResourceType) {
		reason := "dispatch frozen by operator"
		entry.DeliveryError = g.notifyOutcome(ctx, notify.OutcomeDenied, cmd, approver, reason)
		g.deny(ctx, entry, reason)
		g.metrics.Callbacks.WithLabelValues(OutcomeFrozen).Inc()
		log.Warn("callback refused: dispatch frozen")
		writeResponse(w, http.StatusOK, ephemeral, fmt.Sprintf("⛔ %s 보류: %s 실행이 일시 중지되었습니다", cmd.ActionLabel, cmd.ResourceType))
		return
	}

	// 5. Маркер однократного исполнения
	if g.once != nil {
		key := claimKey(approvalID, action.Value, payload.messageTS())
		if key == "" {
			log.Warn("callback carries neither block id nor message ts, duplicate protection skipped")
		} else {
			claimed, err := g.once.Claim(ctx, key, approver)
			if err != nil {
				// Fail closed: без маркера разрушительное действие не исполняем
				g.internalError(w, traceID, err)
				return
			}
			if !claimed {
				g.deny(ctx, entry, "duplicate delivery")
				g.metrics.Callbacks.WithLabelValues(OutcomeDuplicate).Inc()
				log.Warn("duplicate approval delivery ignored")
				writeResponse(w, http.StatusOK, ephemeral, "이미 처리된 요청입니다 (already processed)")
				return
			}
		}
	}

	// 6. EXECUTED | DISPATCH_ERROR. Отключение клиента не должно обрывать начатое действие
	res, err := g.dispatcher.Dispatch(context.WithoutCancel(ctx), cmd)
	if errors.Is(err, dispatch.ErrUnknownResourceType) {
		g.deny(ctx, entry, "unknown resource type")
		g.metrics.Callbacks.WithLabelValues(OutcomeUnknownType).Inc()
		writeResponse(w, http.StatusBadRequest, ephemeral, "Unknown resource type: "+cmd.ResourceType.String())
		return
	}
	if err != nil {
		g.internalError(w, traceID, err)
		return
	}

	// 7. Уведомление, затем аудит с пометкой о доставке
	kind, status, outcome := notify.OutcomeExecuted, audit.StatusExecuted, OutcomeExecuted
	if !res.OK() {
		kind, status, outcome = notify.OutcomeFailed, audit.StatusError, OutcomeFailed
	}
	entry.DeliveryError = g.notifyOutcome(ctx, kind, cmd, approver, res.Message)
	entry.Status = status
	entry.Message = res.Message
	_ = g.trail.Record(ctx, entry)
	g.metrics.Callbacks.WithLabelValues(outcome).Inc()

	// 8. DONE
	if res.OK() {
		log.Info("approved action executed", zap.String("result", res.Message))
		writeResponse(w, http.StatusOK, inChannel, fmt.Sprintf("✅ %s 완료: %s", cmd.ActionLabel, cmd.Target()))
		return
	}
	log.Warn("approved action failed", zap.String("error", res.Message))
	writeResponse(w, http.StatusOK, ephemeral, fmt.Sprintf("❌ %s 실패: %s", cmd.ActionLabel, failureText(res.Message)))
}

func (g *Gateway) deny(ctx context.Context, entry audit.Entry, reason string) {
	entry.Status = audit.StatusDenied
	entry.Message = reason
	_ = g.trail.Record(ctx, entry)
}

// notifyOutcome возвращает текст ошибки доставки (или пустую строку) для аудита.
func (g *Gateway) notifyOutcome(ctx context.Context, kind notify.OutcomeKind, cmd domain.PendingCommand, approver, msg string) string {
	err := g.notifier.Notify(context.WithoutCancel(ctx), notify.Outcome{
		Kind:        kind,
		Command:     cmd,
		Approver:    approver,
		Message:     msg,
		CompletedAt: g.now(),
	})
	if err == nil {
		return ""
	}
	g.metrics.NotificationFailures.WithLabelValues(metrics.KindResult).Inc()
	g.logger.Error("result notification not delivered",
		zap.Error(err),
		zap.String("trace_id", infra.TraceID(ctx)),
		zap.String("target", cmd.Target()),
	)
	return err.Error()
}

func (g *Gateway) malformed(w http.ResponseWriter, traceID, text string, err error) {
	g.metrics.Callbacks.WithLabelValues(OutcomeMalformed).Inc()
	g.logger.Warn("malformed callback", zap.Error(err), zap.String("trace_id", traceID))
	writeResponse(w, http.StatusBadRequest, ephemeral, text)
}

// internalError: детали только в логе, наружу — общий текст.
func (g *Gateway) internalError(w http.ResponseWriter, traceID string, err error) {
	g.metrics.Callbacks.WithLabelValues(OutcomeInternal).Inc()
	g.logger.Error("callback processing failed", zap.Error(err), zap.String("trace_id", traceID))
	writeResponse(w, http.StatusServiceUnavailable, ephemeral, "Internal server error")
}

func failureText(msg string) string {
	if msg == "" {
		return "알 수 없는 오류"
	}
	return msg
}
