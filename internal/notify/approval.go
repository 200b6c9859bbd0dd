package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/xela07ax/approval-gateway/internal/domain"
)

const (
	// ActionApprove — action_id кнопки подтверждения.
	ActionApprove = "approve"
	// BlockIDPrefix — префикс block_id, в котором едет ID запроса на подтверждение.
	BlockIDPrefix = "approval:"
)

func ApprovalBlockID(approvalID string) string { return BlockIDPrefix + approvalID }

// ParseApprovalBlockID достаёт ID запроса из block_id колбэка.
func ParseApprovalBlockID(blockID string) (string, bool) {
	id, ok := strings.CutPrefix(blockID, BlockIDPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ApprovalEmitter публикует запрос на подтверждение в канал администраторов.
type ApprovalEmitter struct {
	poster Poster
}

func NewApprovalEmitter(p Poster) *ApprovalEmitter {
	return &ApprovalEmitter{poster: p}
}

// Emit отправляет сообщение синхронно. Ошибку решает вызывающий: шлюз её не пробрасывает,
// а только записывает в аудит.
func (e *ApprovalEmitter) Emit(ctx context.Context, req domain.ApprovalRequest, encoded string) error {
	if err := e.poster.Post(ctx, ApprovalMessage(req, encoded)); err != nil {
		return fmt.Errorf("emit approval %s: %w", req.ID, err)
	}
	return nil
}

// ApprovalMessage собирает сообщение с единственной кнопкой, значение которой — закодированная команда.
func ApprovalMessage(req domain.ApprovalRequest, encoded string) *slack.WebhookMessage {
	cmd := req.Command
	text := fmt.Sprintf("*[승인 요청]*\n사용자: %s\n요청 작업: %s\n영향도: %s",
		req.RequestedBy, cmd.ActionLabel, req.Impact)

	details := slack.NewSectionBlock(nil, []*slack.TextBlockObject{
		mrkdwn("*리소스 유형*\n" + cmd.ResourceType.String()),
		mrkdwn("*리소스 이름*\n" + cmd.ResourceName),
		mrkdwn("*네임스페이스*\n" + cmd.Namespace),
		mrkdwn("*요청 시각*\n" + req.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")),
	}, nil)

	button := slack.NewButtonBlockElement(ActionApprove, encoded,
		slack.NewTextBlockObject(slack.PlainTextType, "승인", false, false)).
		WithStyle(slack.StylePrimary)
	actions := slack.NewActionBlock(ApprovalBlockID(req.ID), button)

	return newMessage(text, section(text), details, actions)
}
