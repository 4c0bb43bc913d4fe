// ABOUTME: Tests for gateway construction, health endpoints, CORS and lifecycle
// ABOUTME: Shared helpers build a gateway over a SQLite store and the in-memory assistant fake

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant/assistanttest"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

type fakeAudio struct {
	err error
}

func (f *fakeAudio) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("mp3:" + req.Input))}, nil
}

func (f *fakeAudio) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	data, _ := io.ReadAll(req.Reader)
	return openai.AudioResponse{Text: "heard " + string(data)}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Assistants.Topics = map[string]string{"3": "asst_networks", "routing": "asst_routing"}
	cfg.Bootstrap.PollInterval = time.Millisecond
	return cfg
}

type testGateway struct {
	*Gateway
	fake  *assistanttest.Fake
	audio *fakeAudio
}

func newTestGateway(t *testing.T, cfg *config.Config) *testGateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)

	fake := assistanttest.New()
	audio := &fakeAudio{}
	gw := NewWithDeps(cfg, Deps{Store: st, Assistant: fake, Audio: audio}, slog.Default())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
	})
	return &testGateway{Gateway: gw, fake: fake, audio: audio}
}

func (tg *testGateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	tg.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := gw.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReady(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := gw.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_StoreDown(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	gw := NewWithDeps(cfg, Deps{Store: st, Assistant: assistanttest.New()}, slog.Default())
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	gw := newTestGateway(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := gw.do(req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	gw := newTestGateway(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/assistants/3", nil)
	req.Header.Set("Origin", "https://textbook.example.edu")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := gw.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSpeechRoutesDisabledWithoutAudio(t *testing.T) {
	cfg := testConfig(t)
	gw := NewWithDeps(cfg, Deps{Store: store.NewMockStore(), Assistant: assistanttest.New()}, slog.Default())
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/text-to-speech", strings.NewReader(`{"input":"x"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	gw := NewWithDeps(cfg, Deps{Store: store.NewMockStore(), Assistant: assistanttest.New()}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, gw.Shutdown(context.Background()), "second shutdown returns the first result")
}

func TestRun_ListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "256.0.0.1:bad"
	gw := NewWithDeps(cfg, Deps{Store: store.NewMockStore(), Assistant: assistanttest.New()}, slog.Default())
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	err := gw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening")
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/tutor/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tutor/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("tutor-gateway", "tailscale")))
}

func TestAppendCloseError(t *testing.T) {
	errs := appendCloseError(nil, "store close", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", errors.New("boom"))
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "store close: boom")
}
