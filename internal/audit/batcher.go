package audit

/*
Batcher — асинхронный приёмник для тяжёлых хранилищ (Postgres):
- Non-blocking: запись ложится в очередь в памяти, горячий путь не ждёт БД.
- Batching: воркер пишет пачками по таймеру или по размеру пачки.
- Drain: Stop будит воркер, тот дописывает остаток финальным flush.
- Без потерь: при переполнении очереди или после Stop вызывающий сам пишет
  всю очередь вместе со своей записью, синхронно.
- Порядок: очередь забирается под mu, запись идёт под wmu, который берётся
  до освобождения mu. В хранилище записи попадают в порядке Append.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchWriter — хранилище, умеющее писать пачку записей за один раз.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// BufferGauge отражает заполненность буфера (backpressure) в метриках.
type BufferGauge interface {
	Set(float64)
}

type BatcherConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Batcher struct {
	repo   BatchWriter
	cfg    BatcherConfig
	gauge  BufferGauge
	logger *zap.Logger

	mu     sync.Mutex // queue, closed
	queue  []Entry
	closed bool
	wmu    sync.Mutex // Сериализует записи в repo

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewBatcher(repo BatchWriter, cfg BatcherConfig, gauge BufferGauge, logger *zap.Logger) *Batcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Batcher{
		repo:   repo,
		cfg:    cfg,
		gauge:  gauge,
		logger: logger.With(zap.String("mod", "audit-batcher")),
		queue:  make([]Entry, 0, cfg.BatchSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.worker()
}

// Stop «запирает» вход и ждёт, пока воркер всё допишет.
func (b *Batcher) Stop() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.logger.Info("stopping audit batcher: flushing buffer...")
		close(b.done)
		b.wg.Wait()
		// Воркер мог быть не запущен: остаток дописываем сами
		b.flush()
		b.logger.Info("audit batcher stopped gracefully")
	})
}

func (b *Batcher) Append(ctx context.Context, e Entry) error {
	b.mu.Lock()
	if !b.closed && len(b.queue) < b.cfg.BufferSize {
		b.queue = append(b.queue, e)
		n := len(b.queue)
		b.mu.Unlock()

		b.setGauge(n)
		if n >= b.cfg.BatchSize {
			select {
			case b.wake <- struct{}{}:
			default:
			}
		}
		return nil
	}

	if !b.closed {
		// Буфер переполнен: лучше замедлить вызывающего, чем потерять запись
		b.logger.Warn("audit buffer full, writing synchronously",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.Int("queued", len(b.queue)),
		)
	}
	// Очередь старше нашей записи: пишем её первой, одним заходом
	pending := append(b.takeLocked(), e)
	b.wmu.Lock()
	b.mu.Unlock()
	defer b.wmu.Unlock()
	b.setGauge(0)

	if ctx == nil || ctx.Err() != nil {
		// Контекст запроса мог уже закончиться, а запись всё равно нужна
		ctx = context.Background()
	}
	return b.write(ctx, pending)
}

// takeLocked забирает очередь целиком. Вызывается под mu.
func (b *Batcher) takeLocked() []Entry {
	batch := b.queue
	b.queue = make([]Entry, 0, b.cfg.BatchSize)
	return batch
}

// flush забирает очередь и пишет её пачками по BatchSize.
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.wmu.Lock()
	b.mu.Unlock()
	defer b.wmu.Unlock()
	b.setGauge(0)

	// Background: основной контекст может быть уже закрыт
	for start := 0; start < len(batch); start += b.cfg.BatchSize {
		_ = b.write(context.Background(), batch[start:min(start+b.cfg.BatchSize, len(batch))])
	}
}

// write пишет пачку; при ошибке пробует поштучно, чтобы одна битая запись не утянула
// остальные. Возвращает ошибку последней записи: её ждёт синхронный вызывающий.
// Вызывается под wmu.
func (b *Batcher) write(ctx context.Context, batch []Entry) error {
	err := b.repo.WriteBatch(ctx, batch)
	if err == nil {
		return nil
	}
	if len(batch) == 1 {
		b.lost(batch[0], err)
		return err
	}
	b.logger.Error("audit flush failed", zap.Error(err), zap.Int("entries", len(batch)))

	var last error
	for _, e := range batch {
		last = b.repo.WriteBatch(ctx, []Entry{e})
		if last != nil {
			b.lost(e, last)
		}
	}
	return last
}

// lost оставляет незаписанную запись в операционном логе.
func (b *Batcher) lost(e Entry, err error) {
	b.logger.Error("audit entry lost to storage, kept in log",
		zap.Error(err),
		zap.String("id", e.ID),
		zap.String("trace_id", e.TraceID),
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("status", string(e.Status)),
	)
}

func (b *Batcher) setGauge(n int) {
	if b.gauge != nil {
		b.gauge.Set(float64(n))
	}
}

func (b *Batcher) worker() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.wake:
			b.flush()
		case <-ticker.C:
			b.flush()
		case <-b.done:
			// Финальный сброс
			b.flush()
			return
		}
	}
}
