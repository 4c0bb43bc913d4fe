// ABOUTME: Finite run poller returning a typed Completed/Failed/TimedOut outcome
// ABOUTME: Polls at a fixed interval for a bounded number of attempts and honors context cancellation

package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
)

// Outcome is the result class of waiting on a run
type Outcome int

const (
	Completed Outcome = iota + 1
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result is the terminal state of a Wait call
type Result struct {
	Outcome  Outcome
	Run      assistant.Run
	Attempts int
	// Err holds the last retrieval error, if any
	Err error
}

// RunGetter retrieves run state
type RunGetter interface {
	GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error)
}

// Poller waits for runs to reach a terminal state
type Poller struct {
	client      RunGetter
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller creates a Poller. Non-positive arguments fall back to 1s and 30 attempts.
func NewPoller(client RunGetter, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "runs"),
	}
}

// Wait polls runID until it completes, fails, or the attempt budget or ctx runs out.
// A retrieval error consumes an attempt; polling continues after it.
// A run that requires action is reported as Failed since no tools are registered.
func (p *Poller) Wait(ctx context.Context, threadID, runID string) Result {
	res := Result{Run: assistant.Run{ID: runID, ThreadID: threadID}}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for res.Attempts < p.maxAttempts {
		select {
		case <-ctx.Done():
			res.Outcome = TimedOut
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}

		res.Attempts++
		run, err := p.client.GetRun(ctx, threadID, runID)
		if err != nil {
			res.Err = err
			p.logger.Warn("failed to retrieve run", "thread_id", threadID, "run_id", runID, "attempt", res.Attempts, "error", err)
		} else {
			res.Run = run
			res.Err = nil
			switch {
			case run.Status == assistant.RunCompleted:
				res.Outcome = Completed
				return res
			case run.Status.Terminal(), run.Status == assistant.RunRequiresAction:
				res.Outcome = Failed
				return res
			}
		}
		timer.Reset(p.interval)
	}

	res.Outcome = TimedOut
	return res
}
