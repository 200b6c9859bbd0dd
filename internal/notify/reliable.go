package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type ReliableConfig struct {
	Attempts     uint          // Сколько раз пробуем отправить (включая первую попытку)
	RatePerSec   float64       // Лимит сообщений в секунду (Slack webhook: ~1 msg/s)
	Burst        int
	MaxRetryWait time.Duration // Потолок ожидания по Retry-After
}

// ReliablePoster оборачивает Poster: rate limit -> circuit breaker -> retry с бэкоффом.
// Отправка уведомлений идемпотентна с точки зрения инфраструктуры, поэтому ретраи здесь допустимы.
type ReliablePoster struct {
	next    Poster
	cfg     ReliableConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliablePoster(next Poster, cfg ReliableConfig) *ReliablePoster {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "slack-webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Троттлинг — это не отказ канала, предохранитель из-за него не открываем
		IsSuccessful: func(err error) bool {
			var tErr *ThrottleError
			return err == nil || errors.As(err, &tErr)
		},
	})

	return &ReliablePoster{
		next:    next,
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

func (p *ReliablePoster) Post(ctx context.Context, msg *slack.WebhookMessage) error {
	// 1. Rate Limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	_, err := p.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(p.cfg.Attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(isRetryable),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Slack сам сказал, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return min(tErr.RetryAfter, p.cfg.MaxRetryWait)
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)
		return nil, r.Do(func() error {
			return p.next.Post(ctx, msg)
		})
	})
	return err
}

// isRetryable: 4xx (кроме 429) — ошибка запроса, повтор не поможет.
func isRetryable(err error) bool {
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var sErr *statusError
	if errors.As(err, &sErr) {
		return sErr.code >= http.StatusInternalServerError
	}
	return true
}
