// Package webhook аутентифицирует входящие колбэки Slack по общему секрету.
//
// Подпись: "v0=" + hex(HMAC-SHA256(secret, "v0:" + timestamp + ":" + rawBody)).
// Проверка свежести метки времени защищает от повторного воспроизведения,
// сравнение подписи выполняется за постоянное время.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	signatureVersion = "v0"

	// DefaultWindow — допустимый разброс часов между Slack и шлюзом.
	DefaultWindow = 5 * time.Minute
)

var (
	ErrMissingHeaders = errors.New("webhook: missing timestamp or signature header")
	ErrStaleRequest   = errors.New("webhook: request timestamp outside freshness window")
	ErrBadSignature   = errors.New("webhook: signature mismatch")
)

// Verify — чистый предикат без побочных эффектов. Вызывается до любого разбора payload.
func Verify(rawBody []byte, timestamp, signature string, secret []byte, now time.Time, window time.Duration) error {
	if timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}
	if window <= 0 {
		window = DefaultWindow
	}

	// Нечитаемая метка времени не может доказать свежесть запроса
	sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrStaleRequest
	}
	// Сравниваем секунды: time.Sub насыщается на далёких метках и пропустил бы их как свежие
	maxSkew := int64(window / time.Second)
	if d := now.Unix() - sec; d < -maxSkew || d > maxSkew {
		return ErrStaleRequest
	}

	expected := Sign(secret, timestamp, rawBody)
	// hmac.Equal не раскрывает позицию первого несовпавшего байта
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign вычисляет подпись в формате заголовка X-Slack-Signature.
func Sign(secret []byte, timestamp string, rawBody []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(rawBody)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// IsVerificationError сообщает, относится ли ошибка к отказу аутентификации.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMissingHeaders) || errors.Is(err, ErrStaleRequest) || errors.Is(err, ErrBadSignature)
}
