// Package audit реализует журнал аудита шлюза подтверждений: только добавление,
// безопасная конкурентная запись, подключаемые приёмники (файл, Postgres, лог).
//
// Журнал — это история, а не состояние: шлюз никогда не читает его обратно.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink определяет, куда физически попадает запись.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Recorder — то, что нужно от журнала остальным компонентам.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Trail — единственный писатель журнала на процесс. Мьютекс сериализует записи,
// поэтому каждая запись атомарна, а порядок внутри процесса сохраняется.
type Trail struct {
	mu     sync.Mutex
	sink   Sink
	now    func() time.Time
	logger *zap.Logger
}

func NewTrail(sink Sink, logger *zap.Logger) *Trail {
	return &Trail{
		sink:   sink,
		now:    time.Now,
		logger: logger.With(zap.String("mod", "audit")),
	}
}

// Record проставляет ID и время (если не заданы) и дописывает запись в приёмник.
// Ошибка приёмника возвращается вызывающему и дублируется в операционный лог,
// чтобы запись не пропала молча.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}

	if err := t.sink.Append(ctx, e); err != nil {
		t.logger.Error("audit append failed",
			zap.Error(err),
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("actor", e.Actor),
			zap.String("action", e.Action),
			zap.String("status", string(e.Status)),
		)
		return err
	}
	return nil
}
