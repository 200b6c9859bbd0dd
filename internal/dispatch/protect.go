package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrExecutorUnavailable — предохранитель открыт, исполнитель не вызывался.
var ErrExecutorUnavailable = errors.New("executor temporarily unavailable")

type ProtectConfig struct {
	Timeout     time.Duration // Таймаут одного вызова исполнителя
	RatePerSec  float64
	Burst       int
	MaxFailures uint32        // Подряд идущих ошибок до открытия предохранителя
	OpenTimeout time.Duration // Через сколько предохранитель пробует "закрыться"
}

type protected struct {
	next    Executor
	timeout time.Duration
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

// Protect оборачивает исполнителя: rate limit -> circuit breaker -> timeout.
// Ретраев нет: удаление и остановка не идемпотентны, повтор решает администратор.
func Protect(name string, next Executor, cfg ProtectConfig, m *metrics.Metrics) Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.New(nil)
	}

	gauge := m.BreakerState.WithLabelValues(name)
	gauge.Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			gauge.Set(float64(to))
		},
	})

	return &protected{
		next:    next,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cb:      cb,
	}
}

func (p *protected) Execute(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error) {
	// 1. Rate Limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Result{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker + Timeout
	out, err := p.cb.Execute(func() (interface{}, error) {
		tCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.next.Execute(tCtx, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Result{}, fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}
	if err != nil {
		return domain.Result{}, err
	}
	return out.(domain.Result), nil
}
