package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbot/internal/channel"
	"leadbot/internal/hours"
	"leadbot/internal/outreach"
	"leadbot/internal/presence"
	"leadbot/internal/runtime/supervisor"
)

type fakeDirect struct {
	welcomeErr error
	notifyRes  outreach.NotifyResult
	notifyErr  error
	relayErr   error
	welcomes   []string
}

func (f *fakeDirect) SendWelcome(_ context.Context, target, customer, store string) error {
	f.welcomes = append(f.welcomes, target+"|"+customer+"|"+store)
	return f.welcomeErr
}

func (f *fakeDirect) SendNotification(context.Context, string, string) (outreach.NotifyResult, error) {
	return f.notifyRes, f.notifyErr
}

func (f *fakeDirect) RelayLog(context.Context, string) error { return f.relayErr }

type fakeScheduler struct{ gate *hours.Gate }

func (f *fakeScheduler) Status() outreach.Status {
	return outreach.Status{Paused: true, State: outreach.StatePaused, Quota: 3, MaxAttempts: 10}
}

func (f *fakeScheduler) Gate() *hours.Gate { return f.gate }

type fakeControl struct{ allowed bool }

func (f *fakeControl) Allowed(string) bool { return f.allowed }

func (f *fakeControl) Handle(_, body string) (string, bool) {
	if body != "status" {
		return "", false
	}
	return "tudo certo", true
}

type fakeReplier struct{ sent map[string]string }

func (f *fakeReplier) Send(_ context.Context, id, text string) error {
	f.sent[id] = text
	return nil
}

type fixture struct {
	direct  *fakeDirect
	control *fakeControl
	replier *fakeReplier
	router  http.Handler
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gate, err := hours.New(time.UTC, 7, 23)
	require.NoError(t, err)

	f := &fixture{
		direct:  &fakeDirect{},
		control: &fakeControl{allowed: true},
		replier: &fakeReplier{sent: map[string]string{}},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "leadbot_test_total", Help: "t"}))

	s := New(Config{WebhookToken: webhookToken}, Deps{
		Direct:    f.direct,
		Scheduler: &fakeScheduler{gate: gate},
		Presence:  func() presence.Snapshot { return presence.Snapshot{Enabled: true, Threshold: 10} },
		Control:   f.control,
		Replier:   f.replier,
		Health:    func() supervisor.Snapshot { return supervisor.Snapshot{} },
		Gatherer:  reg,
		Now:       func() time.Time { return now },
	})
	f.router = s.Handler()
	return f
}

const webhookToken = "gw-s3cret"

// do sends body as JSON. headers are key/value pairs.
func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(t.Context(), method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

var noon = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func TestSendMessage(t *testing.T) {
	f := newFixture(t, noon)
	w, out := do(t, f.router, http.MethodPost, "/send-message", map[string]string{
		"target": "31999998888", "customerName": "Ana", "storeName": "Loja",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, []string{"31999998888|Ana|Loja"}, f.direct.welcomes)
}

func TestSendMessageMissingFields(t *testing.T) {
	f := newFixture(t, noon)
	w, out := do(t, f.router, http.MethodPost, "/send-message", map[string]string{"target": "31999998888"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", out["status"])
	assert.Empty(t, f.direct.welcomes)
}

func TestSendMessageErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{outreach.ErrNotReachable, http.StatusBadRequest},
		{fmt.Errorf("%w: bad", outreach.ErrValidation), http.StatusBadRequest},
		{outreach.ErrConnectivity, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", outreach.ErrDispatch, channel.ErrNotConnected), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: timeout", outreach.ErrDispatch), http.StatusInternalServerError},
	}
	for _, c := range cases {
		f := newFixture(t, noon)
		f.direct.welcomeErr = c.err
		w, out := do(t, f.router, http.MethodPost, "/send-message", map[string]string{
			"target": "31999998888", "customerName": "Ana", "storeName": "Loja",
		})
		assert.Equal(t, c.code, w.Code, c.err.Error())
		assert.Equal(t, "error", out["status"])
	}
}

func TestNotification(t *testing.T) {
	f := newFixture(t, noon)
	f.direct.notifyRes = outreach.NotifyResult{Attempted: 2, Succeeded: 1}
	w, out := do(t, f.router, http.MethodPost, "/notification", map[string]string{"message": "oi", "phone": "31999998888"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["attempted"])
	assert.EqualValues(t, 1, out["succeeded"])

	f.direct.notifyErr = outreach.ErrDispatch
	f.direct.notifyRes = outreach.NotifyResult{Attempted: 2}
	w, out = do(t, f.router, http.MethodPost, "/notification", map[string]string{"message": "oi", "phone": "31999998888"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.EqualValues(t, 0, out["succeeded"])

	w, _ = do(t, f.router, http.MethodPost, "/notification", map[string]string{"phone": "31999998888"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelayLog(t *testing.T) {
	f := newFixture(t, noon)
	w, _ := do(t, f.router, http.MethodPost, "/logs", map[string]string{"message": "cupom usado"})
	assert.Equal(t, http.StatusOK, w.Code)

	f.direct.relayErr = fmt.Errorf("%w: operator phone is not configured", outreach.ErrDispatch)
	w, _ = do(t, f.router, http.MethodPost, "/logs", map[string]string{"message": "cupom usado"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookRoutesCommands(t *testing.T) {
	f := newFixture(t, noon)
	w, out := do(t, f.router, http.MethodPost, "/webhook/message", map[string]any{"from": "5531999998888@c.us", "body": "status"}, "X-Webhook-Token", webhookToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "tudo certo", f.replier.sent["5531999998888"])

	_, out = do(t, f.router, http.MethodPost, "/webhook/message", map[string]any{"from": "123@g.us", "body": "status", "isGroup": true}, "X-Webhook-Token", webhookToken)
	assert.Equal(t, "ignored", out["status"])

	_, out = do(t, f.router, http.MethodPost, "/webhook/message", map[string]any{"from": "5531999998888@c.us", "body": "status", "fromMe": true}, "X-Webhook-Token", webhookToken)
	assert.Equal(t, "ignored", out["status"])

	_, out = do(t, f.router, http.MethodPost, "/webhook/message", map[string]any{"from": "5531999998888@c.us", "body": "bom dia"}, "X-Webhook-Token", webhookToken)
	assert.Equal(t, "ignored", out["status"])

	f.control.allowed = false
	delete(f.replier.sent, "5531999998888")
	_, out = do(t, f.router, http.MethodPost, "/webhook/message", map[string]any{"from": "5531999998888@c.us", "body": "status"}, "X-Webhook-Token", webhookToken)
	assert.Equal(t, "ignored", out["status"])
	assert.Empty(t, f.replier.sent)
}

func TestStatus(t *testing.T) {
	at3 := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	f := newFixture(t, at3)
	w, out := do(t, f.router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7h-23h", out["window"])
	assert.Equal(t, false, out["open"])
	assert.Equal(t, "2024-03-14T07:00:00Z", out["next_open"])
	assert.Equal(t, true, out["paused"])
	assert.EqualValues(t, 3, out["quota"])
	p, ok := out["presence"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, p["enabled"])
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, noon)
	w, out := do(t, f.router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	w, _ = do(t, f.router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leadbot_test_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, noon)
	w, _ := do(t, f.router, http.MethodOptions, "/send-message", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPprofRequiresTokenOffLoopback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.Error(t, mountPprof(r, ":3000", PprofConfig{Enabled: true}))
	require.NoError(t, mountPprof(r, "127.0.0.1:3000", PprofConfig{Enabled: true}))

	r = gin.New()
	require.NoError(t, mountPprof(r, ":3000", PprofConfig{Enabled: true, Token: "s3cret"}))
	w, _ := do(t, r, http.MethodGet, "/debug/pprof/cmdline", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = do(t, r, http.MethodGet, "/debug/pprof/cmdline?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRequiresToken(t *testing.T) {
	f := newFixture(t, noon)
	msg := map[string]any{"from": "5531999998888@c.us", "body": "status"}

	w, _ := do(t, f.router, http.MethodPost, "/webhook/message", msg)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = do(t, f.router, http.MethodPost, "/webhook/message", msg, "X-Webhook-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.replier.sent)

	w, out := do(t, f.router, http.MethodPost, "/webhook/message", msg, "Authorization", "Bearer "+webhookToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["handled"])
}

func TestWebhookUnmountedWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(Config{}, Deps{Control: &fakeControl{allowed: true}, Replier: &fakeReplier{sent: map[string]string{}}})
	w, _ := do(t, s.Handler(), http.MethodPost, "/webhook/message", map[string]any{"from": "5531999998888@c.us", "body": "stop"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
