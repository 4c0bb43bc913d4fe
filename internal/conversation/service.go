// ABOUTME: Conversation service: routes a user turn through bootstrap or the streaming relay
// ABOUTME: Owns the send path ordering: cancel runs, append, run, relay, persist reply, flag update

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/history"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/runs"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/threads"
)

// DefaultSentinel is the reserved opening message that triggers the hidden bootstrap exchange
const DefaultSentinel = "Hi"

// Validation errors returned by SendMessage before any upstream call
var (
	ErrMissingUserID  = errors.New("userId is required")
	ErrMissingMessage = errors.New("message is required")
)

// AssistantResolver maps a topic to its upstream assistant id
type AssistantResolver func(topic string) (string, error)

// Options tunes bootstrap behavior
type Options struct {
	// Sentinel is the opening message that requests a bootstrap. Defaults to "Hi".
	Sentinel string

	// AutoBootstrap runs the opening exchange before the first real message
	// of a thread that was never bootstrapped.
	AutoBootstrap bool
}

// Service coordinates thread resolution, bootstrap and streaming for a topic/user pair
type Service struct {
	threads    *threads.Service
	client     assistant.Client
	runs       *runs.Coordinator
	poller     *runs.Poller
	assistants AssistantResolver
	opts       Options
	logger     *slog.Logger
}

// New creates a conversation Service
func New(
	threadSvc *threads.Service,
	client assistant.Client,
	coordinator *runs.Coordinator,
	poller *runs.Poller,
	assistants AssistantResolver,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}
	return &Service{
		threads:    threadSvc,
		client:     client,
		runs:       coordinator,
		poller:     poller,
		assistants: assistants,
		opts:       opts,
		logger:     logger.With("component", "conversation"),
	}
}

// SendRequest is one user turn
type SendRequest struct {
	Topic  string
	UserID string
	// ThreadID is the client's cached thread id. It is advisory only.
	ThreadID string
	Message  string
}

// SendResult describes how a turn was handled
type SendResult struct {
	ThreadID string
	// MessageID is the upstream id of the user message; empty on the bootstrap path.
	MessageID string
	// Bootstrapped is true when the request bootstrapped the thread and no stream follows.
	Bootstrapped bool
	// Events relays upstream run events. Nil when Bootstrapped.
	Events <-chan assistant.StreamEvent
}

// SendMessage handles a user turn. On a thread that is not yet READY the
// sentinel message bootstraps it and returns without a stream. Every other
// turn, the sentinel included once READY, is relayed as a run stream whose
// final reply is persisted before Events closes.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUserID
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMissingMessage
	}

	assistantID, err := s.assistants(req.Topic)
	if err != nil {
		return nil, err
	}

	rec, _, err := s.threads.ResolveOrCreate(ctx, req.Topic, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.ThreadID != "" && req.ThreadID != rec.ThreadID {
		s.logger.Warn("client thread id does not match stored thread",
			"topic", req.Topic,
			"user_id", req.UserID,
			"client_thread_id", req.ThreadID,
			"thread_id", rec.ThreadID,
		)
	}

	b := &bootstrapper{svc: s, rec: rec, assistantID: assistantID}
	state := b.state(ctx)

	if state != StateReady {
		if req.Message == s.opts.Sentinel {
			if err := b.run(ctx); err != nil {
				return nil, err
			}
			return &SendResult{ThreadID: rec.ThreadID, Bootstrapped: true}, nil
		}
		if s.opts.AutoBootstrap {
			if err := b.run(ctx); err != nil {
				return nil, err
			}
		}
	}

	return s.relay(ctx, rec, assistantID, req.Message)
}

// History returns the projected, user-visible log for a pair
func (s *Service) History(ctx context.Context, topic, userID string) ([]store.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUserID
	}
	log, err := s.threads.ReadLog(ctx, topic, userID)
	if err != nil {
		return nil, err
	}
	return history.Project(log), nil
}

// persist appends a message and logs persistence failures without surfacing them
func (s *Service) persist(ctx context.Context, rec *store.ThreadRecord, role store.Role, content string, bootstrap bool) {
	if _, err := s.threads.AppendMessage(ctx, rec.Topic, rec.UserID, role, content, bootstrap); err != nil {
		s.logger.Error("failed to persist message",
			"topic", rec.Topic,
			"user_id", rec.UserID,
			"thread_id", rec.ThreadID,
			"role", role,
			"error", err,
		)
	}
}

func wrapUpstream(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
