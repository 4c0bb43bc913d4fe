// ABOUTME: HTTP route table and middleware chain for the gateway
// ABOUTME: gorilla/mux routes wrapped with CORS, panic recovery, access logging and request deadlines

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
)

// Headers the browser client may read from a send response
var exposedHeaders = []string{"X-Thread-Id", "X-Message-Id", "X-Request-Id"}

func (g *Gateway) routes() http.Handler {
	r := mux.NewRouter()

	// Health endpoints - no auth required
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", g.handleReady).Methods(http.MethodGet)

	// API endpoints - auth required if JWT secret is configured
	api := r.NewRoute().Subrouter()
	if g.verifier != nil {
		api.Use(auth.Middleware(g.verifier, g.logger))
	}
	api.Use(g.withDeadline)

	api.HandleFunc("/assistants/{topicId}", g.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/assistants/{topicId}", g.handleSendMessage).Methods(http.MethodPost)
	if g.speech != nil {
		api.HandleFunc("/speech-to-text", g.handleSpeechToText).Methods(http.MethodPost)
		api.HandleFunc("/text-to-speech", g.handleTextToSpeech).Methods(http.MethodPost)
	}

	origins := g.config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	var h http.Handler = r
	h = withRequestID(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key"}),
		handlers.ExposedHeaders(exposedHeaders),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(g.logger.Handler(), slog.LevelError)),
	)(h)
	return handlers.CombinedLoggingHandler(accessLog{g.logger.With("component", "http")}, h)
}

// withDeadline bounds every API request, streams included, by server.request_timeout
func (g *Gateway) withDeadline(next http.Handler) http.Handler {
	timeout := g.config.Server.RequestTimeout
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// accessLog adapts combined log lines to slog
type accessLog struct {
	logger *slog.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.logger.Info("request", "access", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
