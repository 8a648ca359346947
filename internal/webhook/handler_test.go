package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cm-relay/cloudmon-telegram-relay/internal/ratelimit"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/clock"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/logger"
)

// stubSender records sends and fails on demand.
type stubSender struct {
	err   error
	calls []sentMessage
}

type sentMessage struct {
	chatID string
	text   string
}

func (s *stubSender) Send(_ context.Context, chatID string, text string) error {
	s.calls = append(s.calls, sentMessage{chatID: chatID, text: text})
	return s.err
}

type testEnv struct {
	handler *Handler
	sender  *stubSender
	store   *ratelimit.MemoryStore
	clock   *clock.Fake
}

func newTestEnv(t *testing.T, cfg Config, limit ratelimit.Config) *testEnv {
	t.Helper()

	log := logger.New(logger.Options{Level: logger.LevelFatal})
	store := ratelimit.NewMemoryStore()
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter, err := ratelimit.New(store, limit, log, ratelimit.WithClock(fake))
	require.NoError(t, err)

	sender := &stubSender{}
	handler, err := NewHandler(cfg, limiter, sender, log)
	require.NoError(t, err)

	return &testEnv{handler: handler, sender: sender, store: store, clock: fake}
}

func defaultEnv(t *testing.T) *testEnv {
	return newTestEnv(t, DefaultConfig("chat-42"),
		ratelimit.Config{MaxRequests: 100, TimeWindow: time.Minute})
}

const thresholdForm = "alertName=CPU%20Usage&alertState=ALARM&curValue=85.5&instanceName=web-server-01&metricName=CPUUtilization"

func thresholdRequest() Request {
	return Request{
		Method:   "POST",
		Headers:  map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:     thresholdForm,
		Query:    map[string]string{},
		ClientID: "10.0.0.1",
	}
}

func eventRequest(t *testing.T, payload map[string]any) Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return Request{
		Method:   "POST",
		Headers:  map[string]string{"content-type": "application/json; charset=utf-8"},
		Body:     string(body),
		Query:    map[string]string{},
		ClientID: "10.0.0.1",
	}
}

func assertErrorBody(t *testing.T, resp Response) {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHandle_ThresholdAlarmSuccess(t *testing.T) {
	env := defaultEnv(t)

	resp := env.handler.Handle(context.Background(), thresholdRequest())

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Body)
	require.Len(t, env.sender.calls, 1)
	assert.Equal(t, "chat-42", env.sender.calls[0].chatID)
	assert.Equal(t,
		"[CM] *CPU Usage CPUUtilization* for `web-server-01` is `ALARM`. Value: 85.5",
		env.sender.calls[0].text)
}

func TestHandle_SendFailureIsProcessingFailure(t *testing.T) {
	env := defaultEnv(t)
	env.sender.err = errors.New("telegram unreachable")

	resp := env.handler.Handle(context.Background(), thresholdRequest())

	// The request was well-formed; delivery failure is 400, not 500.
	assert.Equal(t, 400, resp.StatusCode)
	assertErrorBody(t, resp)
}

func TestHandle_MethodGate(t *testing.T) {
	env := defaultEnv(t)

	req := thresholdRequest()
	req.Method = "GET"
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 405, resp.StatusCode)
	assertErrorBody(t, resp)
	assert.Empty(t, env.sender.calls, "no send attempted")

	keys, err := env.store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys, "no rate-limit record created")
}

func TestHandle_RateLimited(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("chat-42"),
		ratelimit.Config{MaxRequests: 1, TimeWindow: time.Minute})

	first := env.handler.Handle(context.Background(), thresholdRequest())
	require.Equal(t, 200, first.StatusCode)

	second := env.handler.Handle(context.Background(), thresholdRequest())

	assert.Equal(t, 429, second.StatusCode)
	assertErrorBody(t, second)
	assert.Equal(t, "60", second.Headers["Retry-After"])
	assert.Len(t, env.sender.calls, 1, "rejected request must not send")
}

func TestHandle_SignatureGate(t *testing.T) {
	cfg := DefaultConfig("chat-42")
	cfg.Signature = "abc"

	t.Run("matching signature passes", func(t *testing.T) {
		env := newTestEnv(t, cfg, ratelimit.Config{MaxRequests: 10, TimeWindow: time.Minute})
		req := thresholdRequest()
		req.Query["signature"] = "abc"

		resp := env.handler.Handle(context.Background(), req)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("case mismatch fails", func(t *testing.T) {
		env := newTestEnv(t, cfg, ratelimit.Config{MaxRequests: 10, TimeWindow: time.Minute})
		req := thresholdRequest()
		req.Query["signature"] = "ABC"

		resp := env.handler.Handle(context.Background(), req)
		assert.Equal(t, 403, resp.StatusCode)
		assert.Empty(t, env.sender.calls)
	})

	t.Run("missing signature fails", func(t *testing.T) {
		env := newTestEnv(t, cfg, ratelimit.Config{MaxRequests: 10, TimeWindow: time.Minute})

		resp := env.handler.Handle(context.Background(), thresholdRequest())
		assert.Equal(t, 403, resp.StatusCode)
	})

	t.Run("no configured secret skips the check", func(t *testing.T) {
		env := defaultEnv(t)
		req := thresholdRequest()
		req.Query["signature"] = "anything"

		resp := env.handler.Handle(context.Background(), req)
		assert.Equal(t, 200, resp.StatusCode)
	})
}

func TestHandle_EventAlarmSuccess(t *testing.T) {
	env := defaultEnv(t)

	resp := env.handler.Handle(context.Background(), eventRequest(t, map[string]any{
		"product":      "ECS",
		"level":        "CRITICAL",
		"instanceName": "i-123",
		"name":         "Instance_Failure",
		"content": map[string]any{
			"instanceIds": []any{"i-123456"},
			"description": "instance went down",
		},
	}))

	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, env.sender.calls, 1)
	assert.Equal(t,
		"[CM] *i-123456* - `Instance_Failure`\ninstance went down",
		env.sender.calls[0].text)
}

func TestHandle_EventAlarmFallbacks(t *testing.T) {
	env := defaultEnv(t)

	resp := env.handler.Handle(context.Background(), eventRequest(t, map[string]any{
		"product":      "ECS",
		"level":        "WARN",
		"instanceName": "i-123",
		"name":         "Disk_Warning",
	}))

	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, env.sender.calls, 1)
	assert.Equal(t,
		"[CM] *i-123* - `Disk_Warning`\nNo description available",
		env.sender.calls[0].text)
}

func TestHandle_InvalidJSONIsParseError(t *testing.T) {
	env := defaultEnv(t)

	req := eventRequest(t, map[string]any{})
	req.Body = "{not json"
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 400, resp.StatusCode)
	assertErrorBody(t, resp)
	assert.Empty(t, env.sender.calls)
}

func TestHandle_JSONArrayIsParseError(t *testing.T) {
	env := defaultEnv(t)

	req := eventRequest(t, map[string]any{})
	req.Body = `["not", "an", "object"]`
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 400, resp.StatusCode)
}

func TestHandle_UnsupportedContentType(t *testing.T) {
	env := defaultEnv(t)

	req := thresholdRequest()
	req.Headers["Content-Type"] = "text/plain"
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 400, resp.StatusCode)
	assertErrorBody(t, resp)
}

func TestHandle_ValidationFailureIsGeneric(t *testing.T) {
	env := defaultEnv(t)

	req := thresholdRequest()
	req.Body = "alertName=CPU%20Usage"
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 400, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	// The caller never sees the per-field error list.
	assert.Equal(t, "request processing failed", body["error"])
	assert.Empty(t, env.sender.calls)
}

func TestHandle_SanitizesBeforeValidation(t *testing.T) {
	env := defaultEnv(t)

	// Control characters inside a value would fail the format regex; the
	// sanitizer strips them first.
	req := thresholdRequest()
	req.Body = "alertName=CPU%00Alert&alertState=ALARM&curValue=85.5&instanceName=web-01&metricName=CPUUtilization"
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, env.sender.calls, 1)
	assert.Contains(t, env.sender.calls[0].text, "CPUAlert")
}

func TestHandle_HeaderLookupIsCaseInsensitive(t *testing.T) {
	env := defaultEnv(t)

	req := thresholdRequest()
	req.Headers = map[string]string{"CONTENT-TYPE": "application/x-www-form-urlencoded"}
	resp := env.handler.Handle(context.Background(), req)

	assert.Equal(t, 200, resp.StatusCode)
}
