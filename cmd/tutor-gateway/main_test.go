// ABOUTME: Tests for the tutor-gateway CLI helpers
// ABOUTME: Uses httptest servers in place of a running gateway

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/gateway"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TUTOR_CONFIG", "/etc/tutor.yaml")
	assert.Equal(t, "/etc/tutor.yaml", getConfigPath())

	t.Setenv("TUTOR_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "tutor", "gateway.yaml"), getConfigPath())
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", baseURL(":8080"))
	assert.Equal(t, "http://0.0.0.0:9000", baseURL("0.0.0.0:9000"))
	assert.Equal(t, "https://tutor.example.edu", baseURL("https://tutor.example.edu/"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestRunHealth(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/ready" && !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runHealth(context.Background(), &out, srv.URL))
	assert.Contains(t, out.String(), "/health/ready")

	ready.Store(false)
	err := runHealth(context.Background(), &out, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestRunHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assistants/3", r.URL.Path)
		assert.Equal(t, "student 1", r.URL.Query().Get("userId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(gateway.HistoryResponse{Messages: []gateway.MessageResponse{
			{Role: "user", Content: "What is TCP?"},
			{Role: "assistant", Content: "A transport protocol."},
		}})
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runHistory(context.Background(), &out, srv.URL, "3", "student 1", "tok"))
	assert.Contains(t, out.String(), "What is TCP?")
	assert.Contains(t, out.String(), "A transport protocol.")
}

func TestRunHistory_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"userId is required"}`))
	}))
	defer srv.Close()

	err := runHistory(context.Background(), &bytes.Buffer{}, srv.URL, "3", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "userId is required")
}

func TestRunToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret-that-is-at-least-32-bytes-long", Audience: auth.DefaultAudience}

	var out bytes.Buffer
	require.NoError(t, runToken(&out, cfg, "student-1", time.Hour))

	sub, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.Audience).Verify(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "student-1", sub)

	assert.Error(t, runToken(&out, config.AuthConfig{}, "student-1", time.Hour))
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "health", "history", "token"} {
		assert.True(t, names[want], want)
	}
}
