package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalRequest создаётся шлюзом в момент перехвата чувствительного действия.
// Собственной персистентности нет: след остаётся только в аудите и в сообщении
// Slack, которое и является источником истины для ещё не принятого решения.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	RequestedBy string         `json:"requested_by"`
	Command     PendingCommand `json:"command"`
	Impact      string         `json:"impact"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewApprovalRequest(user string, cmd PendingCommand, impact string, now time.Time) ApprovalRequest {
	return ApprovalRequest{
		ID:          uuid.New().String(),
		RequestedBy: user,
		Command:     cmd,
		Impact:      impact,
		CreatedAt:   now,
	}
}
