package engine

import (
	"encoding/json"
	"net/http"
)

const (
	inChannel = "in_channel"
	ephemeral = "ephemeral"
)

// slackResponse — ответ на колбэк, который Slack показывает в канале или только нажавшему.
type slackResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func writeResponse(w http.ResponseWriter, code int, responseType, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(slackResponse{ResponseType: responseType, Text: text})
}
