// ABOUTME: Bootstrap state machine for the hidden opening exchange of a thread
// ABOUTME: NEW -> BOOTSTRAPPING -> READY, driven by a finite run poll

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/runs"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

// Bootstrap errors
var (
	ErrBootstrapFailed  = errors.New("bootstrap run failed")
	ErrBootstrapTimeout = errors.New("bootstrap run timed out")
)

// State is the bootstrap lifecycle of a thread record
type State int

const (
	StateNew State = iota
	StateBootstrapping
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateBootstrapping:
		return "BOOTSTRAPPING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

type bootstrapper struct {
	svc         *Service
	rec         *store.ThreadRecord
	assistantID string
	current     State
}

// state classifies the record. A record whose log already holds a complete
// bootstrap pair but whose flag was never set is repaired to READY. A record
// with visible turns and no bootstrap pair predates the flag; it is READY
// without a flag write so history keeps hiding its opening prompt.
func (b *bootstrapper) state(ctx context.Context) State {
	switch {
	case b.rec.BootstrapCompleted:
		b.current = StateReady
	case b.rec.HasBootstrapPair():
		b.svc.logger.Info("repairing bootstrap flag", "topic", b.rec.Topic, "user_id", b.rec.UserID)
		if err := b.svc.threads.MarkBootstrapped(ctx, b.rec.Topic, b.rec.UserID); err != nil {
			b.svc.logger.Error("failed to repair bootstrap flag", "topic", b.rec.Topic, "error", err)
		}
		b.rec.BootstrapCompleted = true
		b.current = StateReady
	case b.rec.HasVisibleMessages():
		b.svc.logger.Debug("legacy thread, skipping bootstrap", "topic", b.rec.Topic, "user_id", b.rec.UserID)
		b.current = StateReady
	default:
		b.current = StateNew
	}
	return b.current
}

// run performs the opening exchange. On Failed, TimedOut or a missing reply
// the flag stays false so a later sentinel retries; persisted halves are
// deduplicated then.
func (b *bootstrapper) run(ctx context.Context) error {
	s := b.svc
	rec := b.rec
	b.current = StateBootstrapping
	logger := s.logger.With("topic", rec.Topic, "user_id", rec.UserID, "thread_id", rec.ThreadID)
	logger.Info("bootstrapping thread")

	s.runs.CancelActiveRuns(ctx, rec.ThreadID)

	if _, err := s.client.AddUserMessage(ctx, rec.ThreadID, s.opts.Sentinel); err != nil {
		return wrapUpstream("sending bootstrap message", err)
	}
	s.persist(ctx, rec, store.RoleUser, s.opts.Sentinel, true)

	run, err := s.client.CreateRun(ctx, rec.ThreadID, b.assistantID)
	if err != nil {
		return wrapUpstream("creating bootstrap run", err)
	}

	res := s.poller.Wait(ctx, rec.ThreadID, run.ID)
	switch res.Outcome {
	case runs.Completed:
	case runs.Failed:
		logger.Warn("bootstrap run failed", "run_id", run.ID, "status", res.Run.Status)
		return fmt.Errorf("%w: run %s ended %s", ErrBootstrapFailed, run.ID, res.Run.Status)
	default:
		logger.Warn("bootstrap run timed out", "run_id", run.ID, "attempts", res.Attempts)
		return fmt.Errorf("%w: run %s after %d polls", ErrBootstrapTimeout, run.ID, res.Attempts)
	}

	reply, err := s.client.LatestMessage(ctx, rec.ThreadID)
	if err != nil {
		return wrapUpstream("reading bootstrap reply", err)
	}
	if reply.Role != string(store.RoleAssistant) || reply.Content == "" {
		logger.Warn("bootstrap run completed without an assistant reply", "run_id", run.ID, "role", reply.Role)
		return fmt.Errorf("%w: run %s left no assistant reply", ErrBootstrapFailed, run.ID)
	}
	s.persist(ctx, rec, store.RoleAssistant, reply.Content, true)

	if err := s.threads.MarkBootstrapped(ctx, rec.Topic, rec.UserID); err != nil {
		logger.Error("failed to mark thread bootstrapped", "error", err)
	}
	rec.BootstrapCompleted = true
	b.current = StateReady
	logger.Info("thread bootstrapped", "run_id", run.ID)
	return nil
}
