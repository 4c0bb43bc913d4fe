// ABOUTME: Tests for the conversation HTTP handlers
// ABOUTME: Covers bootstrap, SSE relay, history projection, validation, auth and idempotency

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
)

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeHistory(t *testing.T, rec *httptest.ResponseRecorder) []MessageResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp HistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Messages)
	return resp.Messages
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestConversationFlow(t *testing.T) {
	gw := newTestGateway(t, nil)

	// First visit: empty transcript
	msgs := decodeHistory(t, gw.do(httptest.NewRequest(http.MethodGet, "/assistants/3?userId=student-1", nil)))
	assert.Empty(t, msgs)

	// Opening sentinel bootstraps the thread and answers with JSON
	rec := gw.do(postJSON("/assistants/3", `{"userId":"student-1","message":"Hi"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var boot BootstrapResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&boot))
	assert.True(t, boot.Success)
	require.NotEmpty(t, boot.ThreadID)

	// The bootstrap exchange stays hidden
	msgs = decodeHistory(t, gw.do(httptest.NewRequest(http.MethodGet, "/assistants/3?userId=student-1", nil)))
	assert.Empty(t, msgs)

	// A real question streams
	rec = gw.do(postJSON("/assistants/3", `{"userId":"student-1","threadId":"`+boot.ThreadID+`","message":"What is TCP?"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, boot.ThreadID, rec.Header().Get("X-Thread-Id"))
	assert.NotEmpty(t, rec.Header().Get("X-Message-Id"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: metadata\ndata: {\"threadId\":\""+boot.ThreadID), body)
	assert.Contains(t, body, "event: thread.message.delta\n")
	assert.Contains(t, body, "echo: What is TCP?")
	assert.Contains(t, body, "event: thread.run.completed\n")
	assert.Contains(t, body, "event: done\ndata: [DONE]\n\n")

	// The reply is persisted before the stream closes
	msgs = decodeHistory(t, gw.do(httptest.NewRequest(http.MethodGet, "/assistants/3?userId=student-1", nil)))
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "What is TCP?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "echo: What is TCP?", msgs[1].Content)
	_, err := time.Parse(time.RFC3339Nano, msgs[0].Timestamp)
	assert.NoError(t, err)

	// On a READY thread the sentinel is an ordinary streamed turn
	before := gw.fake.CallCount("CreateRun")
	rec = gw.do(postJSON("/assistants/3", `{"userId":"student-1","message":"Hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: thread.run.completed\n")
	assert.Equal(t, before, gw.fake.CallCount("CreateRun"), "bootstrap runs once")

	assert.Equal(t, 1, gw.fake.MaxActiveRuns())
}

func TestTopicsAreIsolated(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := gw.do(postJSON("/assistants/3", `{"userId":"u","message":"about sockets"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = gw.do(postJSON("/assistants/routing", `{"userId":"u","message":"about routing"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := decodeHistory(t, gw.do(httptest.NewRequest(http.MethodGet, "/assistants/routing?userId=u", nil)))
	require.Len(t, msgs, 2)
	assert.Equal(t, "about routing", msgs[0].Content)
}

func TestSendMessage_Validation(t *testing.T) {
	gw := newTestGateway(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		errMsg string
	}{
		{"invalid topic", "/assistants/bad-topic", `{"userId":"u","message":"x"}`, http.StatusBadRequest, "invalid topic id"},
		{"invalid json", "/assistants/3", `{"userId":`, http.StatusBadRequest, "invalid JSON body"},
		{"missing user", "/assistants/3", `{"message":"x"}`, http.StatusBadRequest, "userId is required"},
		{"missing message", "/assistants/3", `{"userId":"u"}`, http.StatusBadRequest, "message is required"},
		{"unconfigured topic", "/assistants/99", `{"userId":"u","message":"x"}`, http.StatusInternalServerError, "server configuration error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := gw.do(postJSON(tt.path, tt.body))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decodeError(t, rec))
		})
	}
	assert.Zero(t, gw.fake.CallCount("CreateThread"), "validation failures never reach upstream")
}

func TestHistory_Validation(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := gw.do(httptest.NewRequest(http.MethodGet, "/assistants/3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", decodeError(t, rec))

	rec = gw.do(httptest.NewRequest(http.MethodGet, "/assistants/a.b?userId=u", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_BootstrapTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bootstrap.MaxPollAttempts = 2
	gw := newTestGateway(t, cfg)
	gw.fake.PollsToComplete = 1000

	rec := gw.do(postJSON("/assistants/3", `{"userId":"u","message":"Hi"}`))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestSendMessage_UpstreamFailure(t *testing.T) {
	gw := newTestGateway(t, nil)
	gw.fake.FailCreateThread = assert.AnError

	rec := gw.do(postJSON("/assistants/3", `{"userId":"u","message":"Hi"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeError(t, rec))
}

func TestAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "test-secret-that-is-at-least-32-bytes-long"
	gw := newTestGateway(t, cfg)

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Audience).Generate("student-1", time.Hour)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		rec := gw.do(httptest.NewRequest(http.MethodGet, "/assistants/3?userId=student-1", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := gw.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		req := postJSON("/assistants/3", `{"userId":"student-2","message":"Hi"}`)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := gw.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/assistants/3?userId=student-2", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, gw.do(req).Code)
	})

	t.Run("subject match", func(t *testing.T) {
		req := postJSON("/assistants/3", `{"userId":"student-1","message":"Hi"}`)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := gw.do(req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestIdempotencyKey(t *testing.T) {
	gw := newTestGateway(t, nil)

	send := func(topic, user, key string) int {
		req := postJSON("/assistants/"+topic, `{"userId":"`+user+`","message":"Hi"}`)
		req.Header.Set("Idempotency-Key", key)
		return gw.do(req).Code
	}

	assert.Equal(t, http.StatusOK, send("3", "u1", "k1"))
	assert.Equal(t, http.StatusConflict, send("3", "u1", "k1"))
	assert.Equal(t, http.StatusOK, send("3", "u1", "k2"))
	assert.Equal(t, http.StatusOK, send("3", "u2", "k1"), "keys are scoped per user")

	// Failed requests release their key so the client can retry
	assert.Equal(t, http.StatusInternalServerError, send("99", "u1", "k3"))
	assert.Equal(t, http.StatusInternalServerError, send("99", "u1", "k3"))
}

func TestFormatSSEEvent(t *testing.T) {
	assert.Equal(t, "event: done\ndata: [DONE]\n\n", formatSSEEvent("done", "[DONE]"))
	assert.Equal(t, "event: x\ndata: a\ndata: b\n\n", formatSSEEvent("x", "a\nb"))
}
