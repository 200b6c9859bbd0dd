package notify

import (
	"errors"
	"fmt"
	"time"
)

// ErrPostFailed — канал ответил ошибочным статусом.
var ErrPostFailed = errors.New("notify: post failed")

// ThrottleError — канал попросил подождать (HTTP 429 + Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
