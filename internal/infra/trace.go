package infra

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderTraceID — заголовок, в котором приходит и уходит сквозной ID запроса.
const HeaderTraceID = "X-Trace-ID"

// Самая длинная форма, которую понимает uuid.Parse: urn:uuid:xxxxxxxx-...
const maxTraceIDLen = 45

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. ID от прокси принимаем только в виде UUID: значение попадает в логи и аудит
		traceID := incomingTraceID(r.Header.Get(HeaderTraceID))

		// 2. Нет или не UUID — генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст и отдаем в ответе
		w.Header().Set(HeaderTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}

// incomingTraceID возвращает канонический UUID из заголовка или пустую строку.
func incomingTraceID(v string) string {
	if v == "" || len(v) > maxTraceIDLen {
		return ""
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return ""
	}
	return id.String()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID безопасно достаёт ID в любом месте кода. Пустая строка, если ID не задан.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
