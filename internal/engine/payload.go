package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"

	"github.com/slack-go/slack"
)

var ErrMalformedPayload = errors.New("malformed payload")

// callbackPayload — block_actions от Slack в форме slack-go.
type callbackPayload struct {
	slack.InteractionCallback
	username string // slack.User не несёт user.username из block_actions
}

// parsePayload принимает form-urlencoded с JSON в поле payload или чистый JSON.
func parsePayload(contentType string, body []byte) (*callbackPayload, error) {
	raw := body
	if mt, _, _ := mime.ParseMediaType(contentType); mt == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: form: %v", ErrMalformedPayload, err)
		}
		p := form.Get("payload")
		if p == "" {
			return nil, fmt.Errorf("%w: payload field is missing", ErrMalformedPayload)
		}
		raw = []byte(p)
	}

	var cp callbackPayload
	if err := json.Unmarshal(raw, &cp.InteractionCallback); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedPayload, err)
	}
	if len(cp.ActionCallback.BlockActions) == 0 {
		return nil, fmt.Errorf("%w: no actions", ErrMalformedPayload)
	}

	var extra struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &extra); err == nil {
		cp.username = extra.User.Username
	}
	return &cp, nil
}

// action — первая (и единственная у нашего сообщения) нажатая кнопка.
func (p *callbackPayload) action() *slack.BlockAction {
	return p.ActionCallback.BlockActions[0]
}

// approver — кто нажал кнопку, в порядке предпочтения.
func (p *callbackPayload) approver() string {
	for _, v := range []string{p.username, p.User.Name, p.User.ID} {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

func (p *callbackPayload) messageTS() string {
	if p.Container.MessageTs != "" {
		return p.Container.MessageTs
	}
	return p.Message.Timestamp
}
