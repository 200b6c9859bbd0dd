package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки delivery у ApprovalRequests
const (
	DeliveryOK     = "ok"
	DeliveryFailed = "failed"
)

// Значения метки kind у NotificationFailures
const (
	KindApproval = "approval"
	KindResult   = "result"
)

type Metrics struct {
	// Traffic: сколько действий ушло на подтверждение и дошло ли сообщение до канала
	ApprovalRequests *prometheus.CounterVec

	// Traffic: исходы обработки колбэков (executed, failed, rejected, malformed, ...)
	Callbacks *prometheus.CounterVec

	// Latency: время исполнения подтверждённой команды
	DispatchDuration *prometheus.HistogramVec

	// Errors: неудачные отправки в канал уведомлений
	NotificationFailures *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker исполнителя (0 - closed, 1 - half-open, 2 - open)
	BreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ApprovalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_approval_requests_total",
			Help: "Total number of approval requests emitted by the gate.",
		}, []string{"resource_type", "delivery"}),

		Callbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Total number of approval callbacks by outcome.",
		}, []string{"outcome"}),

		DispatchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Histogram of executor latencies for approved commands.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"resource_type", "status"}),

		NotificationFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_notification_failures_total",
			Help: "Total number of failed posts to the notification channel.",
		}, []string{"kind"}),

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_executor_breaker_state",
			Help: "Current state of the executor circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"executor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_audit_buffer_utilization",
			Help: "Current number of entries in the audit buffer.",
		}),
	}
}
