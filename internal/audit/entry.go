package audit

import "time"

// Status — терминальный (или промежуточный pending) статус попытки действия.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusDenied   Status = "denied"
	StatusError    Status = "error"
)

// Entry — одна запись журнала аудита. Записи только добавляются и никогда не меняются.
type Entry struct {
	ID        string    `json:"id"`       // UUID записи
	TraceID   string    `json:"trace_id"` // Сквозной ID запроса
	Timestamp time.Time `json:"timestamp"`

	Actor  string `json:"actor"`  // Кто запросил (pending) или кто подтвердил (executed/error)
	Action string `json:"action"` // Человекочитаемая метка действия

	ResourceType string `json:"resource_type,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	ApprovalID   string `json:"approval_id,omitempty"`

	// Результат
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	// DeliveryError — аннотация о неудачной доставке уведомления в канал
	DeliveryError string `json:"delivery_error,omitempty"`
}
