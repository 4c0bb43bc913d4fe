// ABOUTME: Store interface and data types for transcript persistence
// ABOUTME: Defines ThreadRecord, Message and the sentinel errors shared by every backend

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for a (topic, user) pair
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when a record for the (topic, user) pair already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a thread's log
type Message struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	IsBootstrap bool
}

// ThreadRecord binds a (topic, user) pair to an upstream thread
type ThreadRecord struct {
	Topic              string
	UserID             string
	ThreadID           string
	Messages           []Message
	BootstrapCompleted bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasBootstrapPair reports whether the log holds a bootstrap user message
// followed later by a bootstrap assistant message.
func (r *ThreadRecord) HasBootstrapPair() bool {
	sawUser := false
	for _, m := range r.Messages {
		if !m.IsBootstrap {
			continue
		}
		if m.Role == RoleUser {
			sawUser = true
		} else if m.Role == RoleAssistant && sawUser {
			return true
		}
	}
	return false
}

// HasVisibleMessages reports whether the log holds any entry outside a bootstrap exchange.
func (r *ThreadRecord) HasVisibleMessages() bool {
	for _, m := range r.Messages {
		if !m.IsBootstrap {
			return true
		}
	}
	return false
}

// Store defines the persistence operations for thread records
type Store interface {
	// GetThread returns the record for (topic, userID) or ErrNotFound.
	GetThread(ctx context.Context, topic, userID string) (*ThreadRecord, error)

	// CreateThread inserts a new record with an empty log.
	// Returns ErrDuplicateThread if one already exists for the pair.
	CreateThread(ctx context.Context, rec *ThreadRecord) error

	// AppendMessage adds msg to the end of the log unless an entry with the
	// same role and content is already present. Returns ErrNotFound if the
	// record does not exist.
	AppendMessage(ctx context.Context, topic, userID string, msg *Message) (appended bool, err error)

	// MarkBootstrapped sets BootstrapCompleted. Idempotent.
	MarkBootstrapped(ctx context.Context, topic, userID string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds a Store for the named driver: "sqlite", "postgres" or "mongo".
func Open(ctx context.Context, driver, dsn, database string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	case "mongo", "mongodb":
		return NewMongoStore(ctx, dsn, database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func validateMessage(msg *Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return nil
}
