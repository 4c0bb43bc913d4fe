// ABOUTME: Best-effort cancellation of a thread's active runs before new input is submitted
// ABOUTME: Failures are logged and swallowed so the caller always proceeds

package runs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
)

// maxConcurrentCancels bounds parallel cancel calls for a single thread
const maxConcurrentCancels = 4

// RunLister is the subset of assistant.Client used for run cancellation
type RunLister interface {
	ListRuns(ctx context.Context, threadID string) ([]assistant.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
}

// Coordinator keeps at most one run active per thread
type Coordinator struct {
	client RunLister
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator
func NewCoordinator(client RunLister, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		client: client,
		logger: logger.With("component", "runs"),
	}
}

// CancelActiveRuns cancels every queued or in-progress run on threadID and
// returns how many cancellations succeeded. It never fails: list and cancel
// errors are logged, and a run that finishes between list and cancel is not
// an error worth surfacing.
func (c *Coordinator) CancelActiveRuns(ctx context.Context, threadID string) int {
	runs, err := c.client.ListRuns(ctx, threadID)
	if err != nil {
		c.logger.Warn("failed to list runs", "thread_id", threadID, "error", err)
		return 0
	}

	var cancelled atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCancels)
	for _, run := range runs {
		if !run.Status.Active() {
			continue
		}
		g.Go(func() error {
			if err := c.client.CancelRun(gctx, threadID, run.ID); err != nil {
				c.logger.Warn("failed to cancel run",
					"thread_id", threadID,
					"run_id", run.ID,
					"status", run.Status,
					"error", err,
				)
				return nil
			}
			cancelled.Add(1)
			c.logger.Debug("cancelled active run", "thread_id", threadID, "run_id", run.ID)
			return nil
		})
	}
	_ = g.Wait()

	return int(cancelled.Load())
}
