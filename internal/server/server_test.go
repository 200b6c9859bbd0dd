package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/approval-gateway/internal/audit"
	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/engine"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"github.com/xela07ax/approval-gateway/internal/metrics"
	"github.com/xela07ax/approval-gateway/internal/notify"
	"github.com/xela07ax/approval-gateway/internal/webhook"
	"go.uber.org/zap"
)

const secret = "test-signing-secret"

type fixture struct {
	srv      *GatewayServer
	m        *metrics.Metrics
	now      time.Time
	gotBody  string
	gotTrace string
	mcpHits  int
}

func newFixture(t *testing.T, withMCP bool) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1_700_000_000, 0)}
	reg := prometheus.NewRegistry()
	f.m = metrics.New(reg)

	verifier := webhook.NewVerifier(secret, 5*time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return f.now })
	callback := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.gotBody = string(body)
		f.gotTrace = infra.TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	opts := Options{CallbackPath: "/slack/actions", MCPPath: "/mcp"}
	if withMCP {
		opts.MCP = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			f.mcpHits++
			w.WriteHeader(http.StatusAccepted)
		})
	}
	f.srv = NewGatewayServer(opts, zap.NewNop(), verifier, callback, reg, f.m)
	return f
}

func (f *fixture) signed(body string) *http.Request {
	ts := strconv.FormatInt(f.now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/actions", strings.NewReader(body))
	req.Header.Set(webhook.HeaderTimestamp, ts)
	req.Header.Set(webhook.HeaderSignature, webhook.Sign([]byte(secret), ts, []byte(body)))
	return req
}

func TestCallbackRequiresSignature(t *testing.T) {
	f := newFixture(t, false)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, f.signed("payload=%7B%7D"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload=%7B%7D", f.gotBody)
	assert.NotEmpty(t, f.gotTrace)
	assert.Equal(t, f.gotTrace, rec.Header().Get(infra.HeaderTraceID))

	req := f.signed("payload=%7B%7D")
	req.Header.Set(webhook.HeaderSignature, "v0=deadbeef")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Callbacks.WithLabelValues(engine.OutcomeRejected)))
}

func TestCallbackOnlyPost(t *testing.T) {
	f := newFixture(t, false)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slack/actions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)
	f.m.Callbacks.WithLabelValues(engine.OutcomeExecuted).Inc()

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gateway_callbacks_total{outcome="executed"} 1`)
}

func TestMCPMount(t *testing.T) {
	f := newFixture(t, false)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f = newFixture(t, true)
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.mcpHits)
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, notify.Outcome) error { return nil }

// chain — настоящий verifier перед настоящим engine.Gateway.
type chain struct {
	srv   *GatewayServer
	trail *recorder
	calls atomic.Int32
	now   time.Time
}

func newChain(t *testing.T) *chain {
	t.Helper()
	c := &chain{trail: &recorder{}, now: time.Unix(1_700_000_000, 0)}

	reg, err := dispatch.NewBuilder().Register(domain.ResourcePod, dispatch.ExecutorFunc(
		func(context.Context, domain.PendingCommand) (domain.Result, error) {
			c.calls.Add(1)
			return domain.Success("deleted", nil), nil
		},
	)).Build()
	require.NoError(t, err)

	m := metrics.New(nil)
	gw := engine.NewGateway(dispatch.NewDispatcher(reg, m, zap.NewNop()), c.trail, silentNotifier{},
		engine.NewMemoryOnce(time.Hour), nil, m, zap.NewNop())
	verifier := webhook.NewVerifier(secret, 5*time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return c.now })
	c.srv = NewGatewayServer(Options{CallbackPath: "/slack/actions"}, zap.NewNop(), verifier, gw.HandleCallback, nil, m)
	return c
}

func approvalBody() string {
	p, _ := json.Marshal(map[string]any{
		"type":    "block_actions",
		"user":    map[string]string{"id": "U1", "username": "admin"},
		"actions": []map[string]string{{"action_id": "approve", "block_id": "approval:abc", "value": "pod|nginx-test|default|파드 삭제"}},
	})
	return url.Values{"payload": {string(p)}}.Encode()
}

func (c *chain) request(body, signingSecret string, ts int64) *http.Request {
	stamp := strconv.FormatInt(ts, 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(webhook.HeaderTimestamp, stamp)
	req.Header.Set(webhook.HeaderSignature, webhook.Sign([]byte(signingSecret), stamp, []byte(body)))
	return req
}

func TestCallbackChain_ValidSignatureExecutesOnce(t *testing.T) {
	c := newChain(t)

	rec := httptest.NewRecorder()
	c.srv.ServeHTTP(rec, c.request(approvalBody(), secret, c.now.Unix()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), c.calls.Load())
	entries := c.trail.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusExecuted, entries[0].Status)
}

func TestCallbackChain_RejectedRequestsNeverDispatch(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		ts     func(now int64) int64
	}{
		{name: "wrong secret", secret: "other-secret", ts: func(now int64) int64 { return now }},
		{name: "stale timestamp", secret: secret, ts: func(now int64) int64 { return now - 301 }},
		{name: "future timestamp", secret: secret, ts: func(now int64) int64 { return now + 301 }},
		{name: "far future timestamp", secret: secret, ts: func(int64) int64 { return 1 << 62 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChain(t)

			rec := httptest.NewRecorder()
			c.srv.ServeHTTP(rec, c.request(approvalBody(), tt.secret, tt.ts(c.now.Unix())))

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Zero(t, c.calls.Load())
			for _, e := range c.trail.all() {
				assert.NotEqual(t, audit.StatusExecuted, e.Status)
				assert.NotEqual(t, audit.StatusError, e.Status)
			}
		})
	}
}
