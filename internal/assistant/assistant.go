// ABOUTME: Upstream assistant service abstraction: threads, messages, runs and run streams
// ABOUTME: Defines the Client interface, run status semantics and stream event types

package assistant

import (
	"context"
	"errors"
)

// ErrNoMessages is returned by LatestMessage when the thread is empty
var ErrNoMessages = errors.New("thread has no messages")

// RunStatus is the upstream lifecycle state of a run
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Active reports whether a run still occupies the thread and must be
// cancelled before a new message can be added.
func (s RunStatus) Active() bool {
	return s == RunQueued || s == RunInProgress
}

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Run is a single assistant execution on a thread
type Run struct {
	ID       string
	ThreadID string
	Status   RunStatus
}

// Message is a thread message reduced to its text content
type Message struct {
	ID      string
	Role    string
	Content string
}

// Stream event names emitted by the upstream run stream
const (
	EventRunCreated     = "thread.run.created"
	EventMessageDelta   = "thread.message.delta"
	EventRunCompleted   = "thread.run.completed"
	EventRunFailed      = "thread.run.failed"
	EventRunCancelled   = "thread.run.cancelled"
	EventRunExpired     = "thread.run.expired"
	EventRunIncomplete  = "thread.run.incomplete"
	EventRunRequiresAct = "thread.run.requires_action"
	EventDone           = "done"
	EventError          = "error"
)

// StreamEvent is one server-sent event from a run stream. Data is relayed verbatim.
type StreamEvent struct {
	Event string
	Data  string
}

// Completed reports whether the event marks successful run completion.
func (e StreamEvent) Completed() bool {
	return e.Event == EventRunCompleted
}

// LeavesReply reports whether the run ended with an assistant message on the
// thread. Incomplete runs keep the partial reply they produced.
func (e StreamEvent) LeavesReply() bool {
	return e.Event == EventRunCompleted || e.Event == EventRunIncomplete
}

// Terminal reports whether no further run events follow this one.
func (e StreamEvent) Terminal() bool {
	switch e.Event {
	case EventRunCompleted, EventRunFailed, EventRunCancelled, EventRunExpired,
		EventRunIncomplete, EventRunRequiresAct, EventDone, EventError:
		return true
	}
	return false
}

// Stream yields run events until io.EOF
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Client is the subset of the upstream assistant API the gateway depends on
type Client interface {
	CreateThread(ctx context.Context) (threadID string, err error)
	AddUserMessage(ctx context.Context, threadID, content string) (messageID string, err error)
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	StreamRun(ctx context.Context, threadID, assistantID string) (Stream, error)

	// LatestMessage returns the newest message on the thread or ErrNoMessages.
	LatestMessage(ctx context.Context, threadID string) (Message, error)
}
