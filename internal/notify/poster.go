package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"
)

// Poster доставляет сообщение в канал уведомлений.
type Poster interface {
	Post(ctx context.Context, msg *slack.WebhookMessage) error
}

const defaultRetryAfter = time.Second

// WebhookPoster отправляет сообщения в Slack incoming webhook через slack-go.
type WebhookPoster struct {
	url    string
	client *http.Client
}

func NewWebhookPoster(url string, timeout time.Duration) *WebhookPoster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPoster{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: retryAfterTransport{next: http.DefaultTransport},
		},
	}
}

func (p *WebhookPoster) Post(ctx context.Context, msg *slack.WebhookMessage) error {
	err := slack.PostWebhookCustomHTTPContext(ctx, p.url, p.client, msg)
	if err == nil {
		return nil
	}

	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		return &ThrottleError{
			RetryAfter: wait,
			Cause:      fmt.Errorf("%w: status %d", ErrPostFailed, http.StatusTooManyRequests),
		}
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return &statusError{code: sc.Code, status: sc.Status}
	}
	return fmt.Errorf("notify: send: %w", err)
}

// retryAfterTransport подставляет Retry-After в ответ 429 без заголовка:
// slack-go без него возвращает ошибку разбора числа вместо RateLimitedError.
type retryAfterTransport struct {
	next http.RoundTripper
}

func (t retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err != nil || secs <= 0 {
			resp.Header.Set("Retry-After", strconv.Itoa(int(defaultRetryAfter/time.Second)))
		}
	}
	return resp, nil
}

// statusError — ответ канала с кодом, отличным от 200.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", ErrPostFailed, e.code, e.status)
}

func (e *statusError) Unwrap() error { return ErrPostFailed }

// PosterFunc позволяет использовать функцию как Poster.
type PosterFunc func(ctx context.Context, msg *slack.WebhookMessage) error

func (f PosterFunc) Post(ctx context.Context, msg *slack.WebhookMessage) error { return f(ctx, msg) }
