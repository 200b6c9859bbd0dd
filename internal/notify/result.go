package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/xela07ax/approval-gateway/internal/domain"
)

type OutcomeKind string

const (
	OutcomeExecuted OutcomeKind = "executed"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeDenied   OutcomeKind = "denied"
)

// Outcome — итог обработки подтверждения, о котором сообщаем в канал.
type Outcome struct {
	Kind        OutcomeKind
	Command     domain.PendingCommand
	Approver    string
	Message     string // Сообщение исполнителя или причина отказа
	CompletedAt time.Time
}

type ResultNotifier struct {
	poster Poster
}

func NewResultNotifier(p Poster) *ResultNotifier {
	return &ResultNotifier{poster: p}
}

func (n *ResultNotifier) Notify(ctx context.Context, o Outcome) error {
	if err := n.poster.Post(ctx, ResultMessage(o)); err != nil {
		return fmt.Errorf("notify result: %w", err)
	}
	return nil
}

func ResultMessage(o Outcome) *slack.WebhookMessage {
	cmd := o.Command
	target := cmd.Target()
	if cmd.Namespace != "" {
		target += " (" + cmd.Namespace + ")"
	}
	at := o.CompletedAt.UTC().Format("2006-01-02 15:04:05 MST")

	var text string
	switch o.Kind {
	case OutcomeExecuted:
		text = fmt.Sprintf("%s 작업이 실행되었습니다. (승인자: %s)\n대상: %s\n완료 시각: %s",
			cmd.ActionLabel, o.Approver, target, at)
	case OutcomeFailed:
		text = fmt.Sprintf("❌ %s 작업이 실패했습니다. (승인자: %s)\n대상: %s\n오류: %s\n시각: %s",
			cmd.ActionLabel, o.Approver, target, o.Message, at)
	default:
		text = fmt.Sprintf("⛔ %s 작업이 거부되었습니다. (승인자: %s)\n대상: %s\n사유: %s\n시각: %s",
			cmd.ActionLabel, o.Approver, target, o.Message, at)
	}
	return newMessage(text)
}
