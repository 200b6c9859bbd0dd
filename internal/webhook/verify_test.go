package webhook

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	testSecret = []byte("8f742231b10e8888abcd99yyyzzz85a5")
	testBody   = []byte(`payload=%7B%22actions%22%3A%5B%5D%7D`)
)

func signedAt(now time.Time) (string, string) {
	ts := strconv.FormatInt(now.Unix(), 10)
	return ts, Sign(testSecret, ts, testBody)
}

func TestVerify_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts, sig := signedAt(now)

	assert.NoError(t, Verify(testBody, ts, sig, testSecret, now, DefaultWindow))
	// Внутри окна в обе стороны
	assert.NoError(t, Verify(testBody, ts, sig, testSecret, now.Add(4*time.Minute), DefaultWindow))
	assert.NoError(t, Verify(testBody, ts, sig, testSecret, now.Add(-4*time.Minute), DefaultWindow))
}

func TestVerify_SignatureFormat(t *testing.T) {
	// Опорное значение из документации Slack по подписи запросов
	body := []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c")
	sig := Sign([]byte("8f742231b10e8888abcd99yyyzzz85a5"), "1531420618", body)
	assert.Equal(t, "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503", sig)
}

func TestVerify_MissingHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts, sig := signedAt(now)

	assert.ErrorIs(t, Verify(testBody, "", sig, testSecret, now, DefaultWindow), ErrMissingHeaders)
	assert.ErrorIs(t, Verify(testBody, ts, "", testSecret, now, DefaultWindow), ErrMissingHeaders)
}

func TestVerify_Stale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts, sig := signedAt(now)

	assert.ErrorIs(t, Verify(testBody, ts, sig, testSecret, now.Add(6*time.Minute), DefaultWindow), ErrStaleRequest)
	assert.ErrorIs(t, Verify(testBody, ts, sig, testSecret, now.Add(-6*time.Minute), DefaultWindow), ErrStaleRequest)
	assert.ErrorIs(t, Verify(testBody, "not-a-number", sig, testSecret, now, DefaultWindow), ErrStaleRequest)
}

func TestVerify_FarTimestampsAreStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, sec := range []int64{1 << 40, 1 << 60, 1 << 62, math.MaxInt64, -(1 << 62), math.MinInt64} {
		ts := strconv.FormatInt(sec, 10)
		err := Verify(testBody, ts, Sign(testSecret, ts, testBody), testSecret, now, DefaultWindow)
		assert.ErrorIs(t, err, ErrStaleRequest, "ts=%d", sec)
	}
}

func TestVerify_WindowEdges(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, d := range []int64{-300, 300} {
		ts := strconv.FormatInt(now.Unix()+d, 10)
		assert.NoError(t, Verify(testBody, ts, Sign(testSecret, ts, testBody), testSecret, now, DefaultWindow), "skew %d", d)
	}
	for _, d := range []int64{-301, 301} {
		ts := strconv.FormatInt(now.Unix()+d, 10)
		assert.ErrorIs(t, Verify(testBody, ts, Sign(testSecret, ts, testBody), testSecret, now, DefaultWindow), ErrStaleRequest, "skew %d", d)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts, sig := signedAt(now)

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, Verify(testBody, ts, sig, []byte("other-secret"), now, DefaultWindow), ErrBadSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		for i := range testBody {
			tampered := append([]byte(nil), testBody...)
			tampered[i] ^= 0x01
			assert.ErrorIs(t, Verify(tampered, ts, sig, testSecret, now, DefaultWindow), ErrBadSignature, "byte %d", i)
		}
	})

	t.Run("tampered timestamp", func(t *testing.T) {
		other := strconv.FormatInt(now.Unix()+1, 10)
		assert.ErrorIs(t, Verify(testBody, other, sig, testSecret, now, DefaultWindow), ErrBadSignature)
	})

	t.Run("near-correct signature", func(t *testing.T) {
		near := []byte(sig)
		near[len(near)-1] ^= 0x01
		assert.ErrorIs(t, Verify(testBody, ts, string(near), testSecret, now, DefaultWindow), ErrBadSignature)
	})
}

func TestIsVerificationError(t *testing.T) {
	assert.True(t, IsVerificationError(ErrBadSignature))
	assert.True(t, IsVerificationError(ErrStaleRequest))
	assert.True(t, IsVerificationError(ErrMissingHeaders))
	assert.False(t, IsVerificationError(assert.AnError))
}
