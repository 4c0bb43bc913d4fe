// ABOUTME: Maps a (topic, user) pair onto one durable upstream thread and its persisted log
// ABOUTME: Resolve-or-create with duplicate-insert recovery, deduplicated appends, bootstrap flag

package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

// ThreadCreator creates upstream conversation threads
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Service owns ThreadRecord lifecycle on top of a Store
type Service struct {
	store    store.Store
	upstream ThreadCreator
	logger   *slog.Logger
}

// New creates a thread Service
func New(st store.Store, upstream ThreadCreator, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		upstream: upstream,
		logger:   logger.With("component", "threads"),
	}
}

// ResolveOrCreate returns the pair's record, creating the upstream thread and
// the record on first contact. created reports whether this call won creation.
//
// When a concurrent request inserts first, its record is returned and the
// upstream thread created here is left orphaned.
func (s *Service) ResolveOrCreate(ctx context.Context, topic, userID string) (*store.ThreadRecord, bool, error) {
	rec, err := s.store.GetThread(ctx, topic, userID)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up thread: %w", err)
	}

	threadID, err := s.upstream.CreateThread(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("creating upstream thread: %w", err)
	}

	rec = &store.ThreadRecord{
		Topic:     topic,
		UserID:    userID,
		ThreadID:  threadID,
		CreatedAt: time.Now().UTC(),
	}
	err = s.store.CreateThread(ctx, rec)
	if errors.Is(err, store.ErrDuplicateThread) {
		existing, getErr := s.store.GetThread(ctx, topic, userID)
		if getErr != nil {
			return nil, false, fmt.Errorf("reading thread after duplicate insert: %w", getErr)
		}
		s.logger.Warn("lost thread creation race, upstream thread orphaned",
			"topic", topic,
			"user_id", userID,
			"orphan_thread_id", threadID,
			"thread_id", existing.ThreadID,
		)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("saving thread: %w", err)
	}

	s.logger.Info("created thread", "topic", topic, "user_id", userID, "thread_id", threadID)
	return rec, true, nil
}

// AppendMessage persists a message unless its (role, content) is already in
// the log. A duplicate returns (false, nil).
func (s *Service) AppendMessage(ctx context.Context, topic, userID string, role store.Role, content string, bootstrap bool) (bool, error) {
	msg := &store.Message{
		Role:        role,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		IsBootstrap: bootstrap,
	}
	appended, err := s.store.AppendMessage(ctx, topic, userID, msg)
	if err != nil {
		return false, fmt.Errorf("appending %s message: %w", role, err)
	}
	if !appended {
		s.logger.Debug("skipped duplicate message", "topic", topic, "user_id", userID, "role", role)
	}
	return appended, nil
}

// MarkBootstrapped records that the opening exchange is complete
func (s *Service) MarkBootstrapped(ctx context.Context, topic, userID string) error {
	if err := s.store.MarkBootstrapped(ctx, topic, userID); err != nil {
		return fmt.Errorf("marking bootstrapped: %w", err)
	}
	return nil
}

// ReadLog returns the raw message log, or an empty log when the pair has no record
func (s *Service) ReadLog(ctx context.Context, topic, userID string) ([]store.Message, error) {
	rec, err := s.store.GetThread(ctx, topic, userID)
	if errors.Is(err, store.ErrNotFound) {
		return []store.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading thread: %w", err)
	}
	if rec.Messages == nil {
		return []store.Message{}, nil
	}
	return rec.Messages, nil
}
