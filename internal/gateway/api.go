// ABOUTME: HTTP handlers for per-topic tutoring conversations
// ABOUTME: GET returns the visible transcript; POST bootstraps or relays a run as SSE

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/conversation"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/idempotency"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

const maxJSONBody = 1 << 20

var topicPattern = regexp.MustCompile(`^\w+$`)

var (
	errInvalidTopic = errors.New("invalid topic id")
	errForbidden    = errors.New("userId does not match authenticated user")
)

// SendMessageRequest is the JSON request body for POST /assistants/{topicId}.
type SendMessageRequest struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId,omitempty"`
	Message  string `json:"message"`
}

// BootstrapResponse is returned when the request was the opening sentinel.
type BootstrapResponse struct {
	Success  bool   `json:"success"`
	ThreadID string `json:"threadId"`
}

// MetadataEvent is the first SSE event of a relayed run.
type MetadataEvent struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

// MessageResponse is one visible transcript entry.
type MessageResponse struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	IsBootstrap bool   `json:"isBootstrap,omitempty"`
}

// HistoryResponse is the JSON response for GET /assistants/{topicId}.
type HistoryResponse struct {
	Messages []MessageResponse `json:"messages"`
}

func topicFrom(r *http.Request) (string, error) {
	topic := mux.Vars(r)["topicId"]
	if !topicPattern.MatchString(topic) {
		return "", errInvalidTopic
	}
	return topic, nil
}

// handleHistory handles GET /assistants/{topicId}?userId=<id>.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	topic, err := topicFrom(r)
	if err != nil {
		g.sendError(w, err)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID != "" && !auth.Authorize(r.Context(), userID) {
		g.sendError(w, errForbidden)
		return
	}

	msgs, err := g.conversation.History(r.Context(), topic, userID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	resp := HistoryResponse{
		Messages: lo.Map(msgs, func(m store.Message, _ int) MessageResponse {
			return MessageResponse{
				Role:        string(m.Role),
				Content:     m.Content,
				Timestamp:   m.Timestamp.UTC().Format(time.RFC3339Nano),
				IsBootstrap: m.IsBootstrap,
			}
		}),
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /assistants/{topicId}.
// A sentinel that bootstraps a new thread answers with JSON; every other turn
// streams the run as SSE.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	topic, err := topicFrom(r)
	if err != nil {
		g.sendError(w, err)
		return
	}

	req, err := parseSendRequest(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID != "" && !auth.Authorize(r.Context(), req.UserID) {
		g.sendError(w, errForbidden)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		claim := idempotency.Key(topic, req.UserID, key)
		if !g.idempotency.Claim(claim) {
			g.sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}
		defer func() {
			if err != nil {
				g.idempotency.Release(claim)
			}
		}()
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		err = errors.New("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	result, err := g.conversation.SendMessage(r.Context(), &conversation.SendRequest{
		Topic:    topic,
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	if result.Bootstrapped {
		g.sendJSON(w, http.StatusOK, BootstrapResponse{Success: true, ThreadID: result.ThreadID})
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Thread-Id", result.ThreadID)
	w.Header().Set("X-Message-Id", result.MessageID)

	g.writeSSEEvent(w, "metadata", MetadataEvent{ThreadID: result.ThreadID, MessageID: result.MessageID})
	flusher.Flush()

	g.streamEvents(r.Context(), w, flusher, result.Events)
}

// streamEvents relays run events until the relay closes its channel. The relay
// stops on its own when ctx ends, so draining never blocks past the request.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan assistant.StreamEvent) {
	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		if _, err := io.WriteString(w, formatSSEEvent(ev.Event, ev.Data)); err != nil {
			g.logger.Debug("client went away mid-stream", "error", err)
			clientGone = true
			continue
		}
		flusher.Flush()
	}
	if err := ctx.Err(); err != nil {
		g.logger.Debug("stream ended by request context", "error", err)
	}
}

// formatSSEEvent formats an SSE event, splitting multi-line data into data lines.
func formatSSEEvent(eventType, data string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", eventType)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}

// writeSSEEvent writes a single SSE event with a JSON payload.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = io.WriteString(w, formatSSEEvent(event, string(dataJSON)))
}

// parseSendRequest decodes the body. Field presence is checked by the conversation service.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

// sendError maps domain errors to status codes. Configuration and upstream
// details are logged, never returned to the client.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidTopic),
		errors.Is(err, conversation.ErrMissingUserID),
		errors.Is(err, conversation.ErrMissingMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errForbidden):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, config.ErrTopicNotConfigured):
		g.logger.Error("assistant lookup failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "server configuration error")
	case errors.Is(err, conversation.ErrBootstrapTimeout):
		g.logger.Error("bootstrap timed out", "error", err)
		g.sendJSONError(w, http.StatusGatewayTimeout, "assistant did not respond in time")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
