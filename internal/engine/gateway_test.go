package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"github.com/xela07ax/approval-gateway/internal/notify"
	"go.uber.org/zap"
)

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRecorder) all() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, o notify.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return f.err
}

type stubFreezer map[domain.ResourceType]bool

func (s stubFreezer) IsFrozen(rt domain.ResourceType) bool { return s[rt] }

type errOnce struct{}

func (errOnce) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type harness struct {
	gw       *Gateway
	trail    *fakeRecorder
	notifier *fakeNotifier
	metrics  *metrics.Metrics
	podCalls atomic.Int32
	ec2Calls atomic.Int32

	mu       sync.Mutex
	executed []domain.PendingCommand
}

func (h *harness) commands() []domain.PendingCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.PendingCommand(nil), h.executed...)
}

func (h *harness) track(cmd domain.PendingCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, cmd)
}

func newHarness(t *testing.T, podResult domain.Result, once OnceGuard, freeze Freezer) *harness {
	t.Helper()
	h := &harness{trail: &fakeRecorder{}, notifier: &fakeNotifier{}, metrics: metrics.New(nil)}

	pod := dispatch.ExecutorFunc(func(_ context.Context, cmd domain.PendingCommand) (domain.Result, error) {
		h.podCalls.Add(1)
		h.track(cmd)
		return podResult, nil
	})
	inst := dispatch.ExecutorFunc(func(_ context.Context, cmd domain.PendingCommand) (domain.Result, error) {
		h.ec2Calls.Add(1)
		h.track(cmd)
		return domain.Success("stopped", nil), nil
	})
	reg, err := dispatch.NewBuilder().
		Register(domain.ResourcePod, pod).
		Register(domain.ResourceInstance, inst, "ec2").
		Build()
	require.NoError(t, err)

	d := dispatch.NewDispatcher(reg, h.metrics, zap.NewNop())
	h.gw = NewGateway(d, h.trail, h.notifier, once, freeze, h.metrics, zap.NewNop())
	return h
}

func payloadJSON(value, blockID string) string {
	p := map[string]any{
		"type":      "block_actions",
		"actions":   []map[string]string{{"action_id": "approve", "block_id": blockID, "value": value}},
		"user":      map[string]string{"id": "U123", "username": "admin", "name": "Admin"},
		"container": map[string]string{"message_ts": "1714550000.000100"},
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func formRequest(payload string) *http.Request {
	body := url.Values{"payload": {payload}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/slack/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) slackResponse {
	t.Helper()
	var resp slackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleCallback_ExecutesApprovedCommand(t *testing.T) {
	h := newHarness(t, domain.Success("pod nginx-test deleted", nil), NewMemoryOnce(time.Hour), nil)

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("pod|nginx-test|default|파드 삭제", "approval:abc")))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, inChannel, resp.ResponseType)
	assert.Equal(t, "✅ 파드 삭제 완료: pod/nginx-test", resp.Text)
	assert.Equal(t, int32(1), h.podCalls.Load())
	assert.Equal(t, []domain.PendingCommand{{
		ResourceType: domain.ResourcePod, ResourceName: "nginx-test", Namespace: "default", ActionLabel: "파드 삭제",
	}}, h.commands())

	entries := h.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusExecuted, entries[0].Status)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, "nginx-test", entries[0].ResourceName)
	assert.Equal(t, "default", entries[0].Namespace)
	assert.Equal(t, "abc", entries[0].ApprovalID)

	require.Len(t, h.notifier.outcomes, 1)
	assert.Equal(t, notify.OutcomeExecuted, h.notifier.outcomes[0].Kind)
	assert.Equal(t, "admin", h.notifier.outcomes[0].Approver)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(OutcomeExecuted)))
}

func TestHandleCallback_ExecutorFailure(t *testing.T) {
	h := newHarness(t, domain.Failure(`pods "ghost" not found`), nil, nil)

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("pod|ghost|default|파드 삭제", "")))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, ephemeral, resp.ResponseType)
	assert.Equal(t, `❌ 파드 삭제 실패: pods "ghost" not found`, resp.Text)

	entries := h.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusError, entries[0].Status)
	assert.Equal(t, notify.OutcomeFailed, h.notifier.outcomes[0].Kind)
}

func TestHandleCallback_RawJSONAndEC2Alias(t *testing.T) {
	h := newHarness(t, domain.Result{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/slack/actions",
		strings.NewReader(payloadJSON("ec2|i-0abc|ap-northeast-2|인스턴스 중지", "")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "✅ 인스턴스 중지 완료: ec2/i-0abc", decodeResponse(t, rec).Text)
	assert.Equal(t, int32(1), h.ec2Calls.Load())
	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, domain.ResourceInstance, cmds[0].ResourceType)
	assert.Equal(t, "i-0abc", cmds[0].ResourceName)
	assert.Equal(t, "ap-northeast-2", cmds[0].Namespace)
}

func TestHandleCallback_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		req      *http.Request
		wantText string
	}{
		{
			name:     "form without payload",
			req:      func() *http.Request { r := formRequest(""); return r }(),
			wantText: "Invalid request format",
		},
		{
			name:     "broken json",
			req:      formRequest("{not json"),
			wantText: "Invalid request format",
		},
		{
			name:     "no actions",
			req:      formRequest(`{"actions":[]}`),
			wantText: "Invalid request format",
		},
		{
			name:     "three fields",
			req:      formRequest(payloadJSON("pod|nginx-test|default", "")),
			wantText: "Invalid action format",
		},
		{
			name:     "five fields",
			req:      formRequest(payloadJSON("pod|a|b|c|d", "")),
			wantText: "Invalid action format",
		},
		{
			name:     "empty name",
			req:      formRequest(payloadJSON("pod||default|파드 삭제", "")),
			wantText: "Invalid action format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, domain.Success("ok", nil), NewMemoryOnce(time.Hour), nil)
			rec := httptest.NewRecorder()
			h.gw.HandleCallback(rec, tt.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantText, decodeResponse(t, rec).Text)
			assert.Zero(t, h.podCalls.Load())
			assert.Empty(t, h.notifier.outcomes)
		})
	}
}

func TestHandleCallback_UnknownResourceType(t *testing.T) {
	h := newHarness(t, domain.Success("ok", nil), NewMemoryOnce(time.Hour), nil)

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("bucket|logs|default|버킷 삭제", "approval:x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown resource type: bucket", decodeResponse(t, rec).Text)
	assert.Zero(t, h.podCalls.Load()+h.ec2Calls.Load())

	entries := h.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusDenied, entries[0].Status)
}

func TestHandleCallback_DuplicateDeliveryExecutesOnce(t *testing.T) {
	h := newHarness(t, domain.Success("deleted", nil), NewMemoryOnce(time.Hour), nil)
	payload := payloadJSON("pod|nginx-test|default|파드 삭제", "approval:abc")

	first := httptest.NewRecorder()
	h.gw.HandleCallback(first, formRequest(payload))
	second := httptest.NewRecorder()
	h.gw.HandleCallback(second, formRequest(payload))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, ephemeral, decodeResponse(t, second).ResponseType)
	assert.Contains(t, decodeResponse(t, second).Text, "already processed")
	assert.Equal(t, int32(1), h.podCalls.Load())

	entries := h.trail.all()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.StatusExecuted, entries[0].Status)
	assert.Equal(t, audit.StatusDenied, entries[1].Status)
	assert.Equal(t, "duplicate delivery", entries[1].Message)
}

func TestHandleCallback_DedupDisabledExecutesEachDelivery(t *testing.T) {
	h := newHarness(t, domain.Success("deleted", nil), nil, nil)
	payload := payloadJSON("pod|nginx-test|default|파드 삭제", "approval:abc")

	for i := 0; i < 2; i++ {
		h.gw.HandleCallback(httptest.NewRecorder(), formRequest(payload))
	}
	assert.Equal(t, int32(2), h.podCalls.Load())
}

func TestHandleCallback_ClaimErrorFailsClosed(t *testing.T) {
	h := newHarness(t, domain.Success("deleted", nil), errOnce{}, nil)

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("pod|nginx-test|default|파드 삭제", "approval:abc")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Internal server error", decodeResponse(t, rec).Text)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Zero(t, h.podCalls.Load())
}

func TestHandleCallback_FrozenTypeIsDenied(t *testing.T) {
	h := newHarness(t, domain.Success("deleted", nil), NewMemoryOnce(time.Hour), stubFreezer{domain.ResourcePod: true})

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("pod|nginx-test|default|파드 삭제", "approval:abc")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ephemeral, decodeResponse(t, rec).ResponseType)
	assert.Zero(t, h.podCalls.Load())

	entries := h.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusDenied, entries[0].Status)
	require.Len(t, h.notifier.outcomes, 1)
	assert.Equal(t, notify.OutcomeDenied, h.notifier.outcomes[0].Kind)
}

func TestHandleCallback_NotificationFailureIsAudited(t *testing.T) {
	h := newHarness(t, domain.Success("deleted", nil), nil, nil)
	h.notifier.err = errors.New("slack: status 500")

	rec := httptest.NewRecorder()
	h.gw.HandleCallback(rec, formRequest(payloadJSON("pod|nginx-test|default|파드 삭제", "")))

	assert.Equal(t, http.StatusOK, rec.Code)
	entries := h.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusExecuted, entries[0].Status)
	assert.Contains(t, entries[0].DeliveryError, "status 500")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationFailures.WithLabelValues(metrics.KindResult)))
}

func TestHandleCallback_ExecutorPanicIsContained(t *testing.T) {
	reg, err := dispatch.NewBuilder().Register(domain.ResourcePod, dispatch.ExecutorFunc(
		func(context.Context, domain.PendingCommand) (domain.Result, error) { panic("boom") },
	)).Build()
	require.NoError(t, err)
	trail := &fakeRecorder{}
	gw := NewGateway(dispatch.NewDispatcher(reg, nil, zap.NewNop()), trail, &fakeNotifier{}, nil, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	gw.HandleCallback(rec, formRequest(payloadJSON("pod|a|default|파드 삭제", "")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeResponse(t, rec).Text, "executor panic: boom")
	assert.Equal(t, audit.StatusError, trail.all()[0].Status)
}
