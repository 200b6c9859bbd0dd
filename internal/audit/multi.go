package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// MultiSink пишет в несколько приёмников. Отказ одного не мешает остальным.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink пишет записи в операционный лог. Используется, когда других приёмников нет.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit-trail")}
}

func (s *LogSink) Append(_ context.Context, e Entry) error {
	s.logger.Info("audit",
		zap.String("id", e.ID),
		zap.String("trace_id", e.TraceID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("resource", e.ResourceType+"/"+e.ResourceName),
		zap.String("namespace", e.Namespace),
		zap.String("approval_id", e.ApprovalID),
		zap.String("status", string(e.Status)),
		zap.String("message", e.Message),
		zap.String("delivery_error", e.DeliveryError),
	)
	return nil
}
