package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// MaxBodyBytes — верхняя граница тела колбэка; Slack присылает единицы килобайт.
const MaxBodyBytes = 1 << 20

// RejectFunc вызывается при каждом отказе (метрики, security-лог).
type RejectFunc func(r *http.Request, err error)

// Verifier — HTTP-обёртка над Verify. Секрет и окно задаются один раз при старте.
type Verifier struct {
	secret   []byte
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
	onReject RejectFunc
}

func NewVerifier(secret string, window time.Duration, logger *zap.Logger) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{
		secret: []byte(secret),
		window: window,
		now:    time.Now,
		logger: logger.With(zap.String("mod", "webhook")),
	}
}

// WithClock подменяет часы (тесты, воспроизведение).
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// OnReject регистрирует наблюдателя отказов.
func (v *Verifier) OnReject(fn RejectFunc) *Verifier {
	v.onReject = fn
	return v
}

// Middleware читает сырое тело, проверяет подпись и возвращает тело обратно
// в запрос для следующего обработчика. Непроверенный запрос дальше не идёт.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeEphemeral(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			writeEphemeral(w, http.StatusBadRequest, "Failed to read body")
			return
		}

		err = Verify(body, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), v.secret, v.now(), v.window)
		if err != nil {
			// Подпись в лог не пишем
			v.logger.Warn("callback rejected",
				zap.String("reason", err.Error()),
				zap.String("remote", r.RemoteAddr),
			)
			if v.onReject != nil {
				v.onReject(r, err)
			}
			writeEphemeral(w, http.StatusForbidden, "Request verification failed")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

func writeEphemeral(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"response_type": "ephemeral",
		"text":          text,
	})
}
