// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Thread-safe maps with copy-on-read so callers cannot mutate stored state

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests
type MockStore struct {
	mu      sync.RWMutex
	threads map[string]*ThreadRecord

	// Err, when set, is returned by every mutating call
	Err error
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	return &MockStore{threads: make(map[string]*ThreadRecord)}
}

func mockKey(topic, userID string) string {
	return topic + "\x00" + userID
}

// GetThread returns a copy of the stored record
func (m *MockStore) GetThread(_ context.Context, topic, userID string) (*ThreadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.threads[mockKey(topic, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// CreateThread stores a copy of rec
func (m *MockStore) CreateThread(_ context.Context, rec *ThreadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	key := mockKey(rec.Topic, rec.UserID)
	if _, ok := m.threads[key]; ok {
		return ErrDuplicateThread
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	m.threads[key] = copyRecord(rec)
	return nil
}

// AppendMessage appends unless a (role, content) match already exists
func (m *MockStore) AppendMessage(_ context.Context, topic, userID string, msg *Message) (bool, error) {
	if err := validateMessage(msg); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	rec, ok := m.threads[mockKey(topic, userID)]
	if !ok {
		return false, ErrNotFound
	}
	for _, existing := range rec.Messages {
		if existing.Role == msg.Role && existing.Content == msg.Content {
			return false, nil
		}
	}
	rec.Messages = append(rec.Messages, *msg)
	rec.UpdatedAt = msg.Timestamp
	return true, nil
}

// MarkBootstrapped sets the flag on the stored record
func (m *MockStore) MarkBootstrapped(_ context.Context, topic, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	rec, ok := m.threads[mockKey(topic, userID)]
	if !ok {
		return ErrNotFound
	}
	rec.BootstrapCompleted = true
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Ping always succeeds
func (m *MockStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (m *MockStore) Close() error { return nil }

func copyRecord(rec *ThreadRecord) *ThreadRecord {
	cp := *rec
	cp.Messages = append([]Message(nil), rec.Messages...)
	return &cp
}

var _ Store = (*MockStore)(nil)
