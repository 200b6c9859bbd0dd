package notify

import "github.com/slack-go/slack"

// Text сообщения обязателен всегда: Slack показывает его в уведомлениях
// и там, где блоки не отрисовываются.
func newMessage(text string, blocks ...slack.Block) *slack.WebhookMessage {
	msg := &slack.WebhookMessage{Text: text}
	if len(blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: blocks}
	}
	return msg
}

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func section(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(mrkdwn(text), nil, nil)
}
