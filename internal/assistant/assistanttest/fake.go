// ABOUTME: In-memory assistant.Client for tests with scripted replies and run accounting
// ABOUTME: Tracks the peak number of simultaneously active runs per thread

// Package assistanttest provides a fake upstream assistant service.
package assistanttest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
)

type fakeThread struct {
	messages []assistant.Message
	runs     []*assistant.Run
}

// Fake implements assistant.Client in memory
type Fake struct {
	mu      sync.Mutex
	threads map[string]*fakeThread
	nextID  int

	maxActive int

	// Reply produces the assistant response for the newest user message.
	Reply func(userContent string) string

	// PollsToComplete is how many GetRun calls a non-streamed run stays in_progress.
	PollsToComplete int

	// FinalStatus is the terminal status reached by non-streamed runs. Defaults to completed.
	FinalStatus assistant.RunStatus

	// FailCreateThread, FailAddMessage, FailStream and FailListRuns inject errors.
	FailCreateThread error
	FailAddMessage   error
	FailStream       error
	FailListRuns     error

	// StreamStatus is the terminal status reached by streamed runs. Defaults to completed.
	StreamStatus assistant.RunStatus

	// StreamGate, when set, must be signalled before each stream event after the first.
	StreamGate chan struct{}

	// Calls counts invocations by method name
	Calls map[string]int

	polls map[string]int
}

// New creates a Fake that echoes user messages
func New() *Fake {
	return &Fake{
		threads: make(map[string]*fakeThread),
		Calls:   make(map[string]int),
		polls:   make(map[string]int),
		Reply: func(user string) string {
			return "echo: " + user
		},
	}
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *Fake) thread(threadID string) (*fakeThread, error) {
	t, ok := f.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("no such thread %q", threadID)
	}
	return t, nil
}

// activeLocked counts active runs on t and updates the recorded peak
func (f *Fake) activeLocked(t *fakeThread) int {
	n := 0
	for _, r := range t.runs {
		if r.Status.Active() {
			n++
		}
	}
	if n > f.maxActive {
		f.maxActive = n
	}
	return n
}

// MaxActiveRuns returns the largest number of simultaneously active runs seen on any thread
func (f *Fake) MaxActiveRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// ActiveRuns returns the number of active runs on threadID
func (f *Fake) ActiveRuns(threadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[threadID]
	if !ok {
		return 0
	}
	return f.activeLocked(t)
}

// Messages returns a copy of the upstream thread's messages
func (f *Fake) Messages(threadID string) []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[threadID]
	if !ok {
		return nil
	}
	return append([]assistant.Message(nil), t.messages...)
}

// CallCount returns the number of calls to method
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// StartRun adds an in_progress run to the thread, simulating a run left over from another request
func (f *Fake) StartRun(threadID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.thread(threadID)
	if err != nil {
		return ""
	}
	run := &assistant.Run{ID: f.id("run"), ThreadID: threadID, Status: assistant.RunInProgress}
	t.runs = append(t.runs, run)
	f.activeLocked(t)
	return run.ID
}

func (f *Fake) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateThread"]++
	if f.FailCreateThread != nil {
		return "", f.FailCreateThread
	}
	id := f.id("thread")
	f.threads[id] = &fakeThread{}
	return id, nil
}

func (f *Fake) AddUserMessage(_ context.Context, threadID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["AddUserMessage"]++
	if f.FailAddMessage != nil {
		return "", f.FailAddMessage
	}
	t, err := f.thread(threadID)
	if err != nil {
		return "", err
	}
	msg := assistant.Message{ID: f.id("msg"), Role: "user", Content: content}
	t.messages = append(t.messages, msg)
	return msg.ID, nil
}

func (f *Fake) ListRuns(_ context.Context, threadID string) ([]assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["ListRuns"]++
	if f.FailListRuns != nil {
		return nil, f.FailListRuns
	}
	t, err := f.thread(threadID)
	if err != nil {
		return nil, err
	}
	runs := make([]assistant.Run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, *r)
	}
	return runs, nil
}

func (f *Fake) CancelRun(_ context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CancelRun"]++
	t, err := f.thread(threadID)
	if err != nil {
		return err
	}
	for _, r := range t.runs {
		if r.ID == runID {
			if r.Status.Terminal() {
				return fmt.Errorf("cannot cancel run with status %s", r.Status)
			}
			r.Status = assistant.RunCancelled
			return nil
		}
	}
	return fmt.Errorf("no such run %q", runID)
}

func (f *Fake) startRunLocked(threadID string, status assistant.RunStatus) (*fakeThread, *assistant.Run, error) {
	t, err := f.thread(threadID)
	if err != nil {
		return nil, nil, err
	}
	run := &assistant.Run{ID: f.id("run"), ThreadID: threadID, Status: status}
	t.runs = append(t.runs, run)
	f.activeLocked(t)
	return t, run, nil
}

func (f *Fake) CreateRun(_ context.Context, threadID, _ string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateRun"]++
	_, run, err := f.startRunLocked(threadID, assistant.RunQueued)
	if err != nil {
		return assistant.Run{}, err
	}
	return *run, nil
}

func (f *Fake) GetRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetRun"]++
	t, err := f.thread(threadID)
	if err != nil {
		return assistant.Run{}, err
	}
	for _, r := range t.runs {
		if r.ID != runID {
			continue
		}
		if r.Status.Active() {
			f.polls[runID]++
			r.Status = assistant.RunInProgress
			if f.polls[runID] > f.PollsToComplete {
				status := f.FinalStatus
				if status == "" {
					status = assistant.RunCompleted
				}
				f.finishLocked(t, r, status)
			}
		}
		return *r, nil
	}
	return assistant.Run{}, fmt.Errorf("no such run %q", runID)
}

// finishLocked moves a run to status, appending the reply when the run leaves one
func (f *Fake) finishLocked(t *fakeThread, r *assistant.Run, status assistant.RunStatus) {
	r.Status = status
	if status == assistant.RunCompleted || status == assistant.RunIncomplete {
		t.messages = append(t.messages, assistant.Message{
			ID:      f.id("msg"),
			Role:    "assistant",
			Content: f.Reply(lastUser(t.messages)),
		})
	}
}

func lastUser(msgs []assistant.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func (f *Fake) LatestMessage(_ context.Context, threadID string) (assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["LatestMessage"]++
	t, err := f.thread(threadID)
	if err != nil {
		return assistant.Message{}, err
	}
	if len(t.messages) == 0 {
		return assistant.Message{}, assistant.ErrNoMessages
	}
	return t.messages[len(t.messages)-1], nil
}

// StreamRun starts an in_progress run whose events are produced lazily by Recv.
// The run reaches StreamStatus only when its terminal event is read.
func (f *Fake) StreamRun(ctx context.Context, threadID, _ string) (assistant.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["StreamRun"]++
	if f.FailStream != nil {
		return nil, f.FailStream
	}
	t, run, err := f.startRunLocked(threadID, assistant.RunInProgress)
	if err != nil {
		return nil, err
	}

	reply := f.Reply(lastUser(t.messages))
	delta, _ := json.Marshal(map[string]any{
		"delta": map[string]any{
			"content": []map[string]any{{
				"index": 0, "type": "text", "text": map[string]any{"value": reply},
			}},
		},
	})
	runJSON, _ := json.Marshal(map[string]string{"id": run.ID, "thread_id": threadID})

	status := f.StreamStatus
	if status == "" {
		status = assistant.RunCompleted
	}

	return &fakeStream{
		ctx:    ctx,
		gate:   f.StreamGate,
		fake:   f,
		thread: t,
		run:    run,
		status: status,
		events: []assistant.StreamEvent{
			{Event: assistant.EventRunCreated, Data: string(runJSON)},
			{Event: assistant.EventMessageDelta, Data: string(delta)},
			{Event: "thread.run." + string(status), Data: string(runJSON)},
			{Event: assistant.EventDone, Data: "[DONE]"},
		},
	}, nil
}

type fakeStream struct {
	ctx    context.Context
	gate   chan struct{}
	fake   *Fake
	thread *fakeThread
	run    *assistant.Run
	status assistant.RunStatus
	events []assistant.StreamEvent
	pos    int
}

func (s *fakeStream) Recv() (assistant.StreamEvent, error) {
	if err := s.ctx.Err(); err != nil {
		return assistant.StreamEvent{}, err
	}
	if s.pos >= len(s.events) {
		return assistant.StreamEvent{}, io.EOF
	}
	if s.gate != nil && s.pos > 0 {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return assistant.StreamEvent{}, s.ctx.Err()
		}
	}
	ev := s.events[s.pos]
	s.pos++

	if ev.Event == "thread.run."+string(s.status) {
		s.fake.mu.Lock()
		if s.run.Status.Active() {
			s.fake.finishLocked(s.thread, s.run, s.status)
		}
		s.fake.mu.Unlock()
	}
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

var _ assistant.Client = (*Fake)(nil)
