// ABOUTME: Streaming relay: forwards upstream run events and mirrors the final reply into storage
// ABOUTME: The persisted reply is refetched from upstream after the run ends, never assembled from deltas

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
)

// persistTimeout bounds the post-stream refetch and write, detached from the request
const persistTimeout = 5 * time.Second

func (s *Service) relay(ctx context.Context, rec *store.ThreadRecord, assistantID, content string) (*SendResult, error) {
	s.runs.CancelActiveRuns(ctx, rec.ThreadID)

	messageID, err := s.client.AddUserMessage(ctx, rec.ThreadID, content)
	if err != nil {
		return nil, wrapUpstream("sending message", err)
	}
	s.persist(ctx, rec, store.RoleUser, content, false)

	stream, err := s.client.StreamRun(ctx, rec.ThreadID, assistantID)
	if err != nil {
		return nil, wrapUpstream("starting run", err)
	}

	return &SendResult{
		ThreadID:  rec.ThreadID,
		MessageID: messageID,
		Events:    s.forward(ctx, rec, stream),
	}, nil
}

// forward copies stream events to the returned channel. After a run that
// completed, or ended incomplete with a partial reply, it persists the latest
// assistant message, then closes the channel. If ctx
// ends first the upstream run is left alone and nothing is persisted.
func (s *Service) forward(ctx context.Context, rec *store.ThreadRecord, stream assistant.Stream) <-chan assistant.StreamEvent {
	out := make(chan assistant.StreamEvent, 16)

	go func() {
		defer close(out)
		defer stream.Close()

		replied := false
		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Debug("caller stopped stream", "thread_id", rec.ThreadID)
					return
				}
				s.logger.Error("run stream failed", "thread_id", rec.ThreadID, "error", err)
				s.send(ctx, out, streamError("stream interrupted"))
				return
			}

			if ev.LeavesReply() {
				replied = true
			}
			if !s.send(ctx, out, ev) {
				s.logger.Debug("caller stopped stream", "thread_id", rec.ThreadID)
				return
			}
		}

		if replied {
			s.persistReply(rec)
		} else {
			s.logger.Warn("run stream ended without a reply", "thread_id", rec.ThreadID)
		}
	}()

	return out
}

func (s *Service) send(ctx context.Context, out chan<- assistant.StreamEvent, ev assistant.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// persistReply refetches the newest thread message and stores it if it is assistant text
func (s *Service) persistReply(rec *store.ThreadRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := s.client.LatestMessage(ctx, rec.ThreadID)
	if err != nil {
		s.logger.Error("failed to fetch final reply", "thread_id", rec.ThreadID, "error", err)
		return
	}
	if msg.Role != string(store.RoleAssistant) || msg.Content == "" {
		s.logger.Warn("latest message is not assistant text", "thread_id", rec.ThreadID, "role", msg.Role)
		return
	}
	s.persist(ctx, rec, store.RoleAssistant, msg.Content, false)
}

func streamError(msg string) assistant.StreamEvent {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return assistant.StreamEvent{Event: assistant.EventError, Data: string(data)}
}
