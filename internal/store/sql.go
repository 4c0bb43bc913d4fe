// ABOUTME: database/sql implementation of Store for SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq)
// ABOUTME: Threads keyed by (topic, user_id); messages ordered by an autoincrement id

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store on a relational database
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Parent directories are created if needed and the schema is applied on open.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s, err := newSQLStore(db, dialectSQLite)
	if err != nil {
		return nil, err
	}
	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore creates a PostgreSQL-backed store from a lib/pq connection string.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s, err := newSQLStore(db, dialectPostgres)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Postgres store initialized")
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  slog.Default().With("component", "store"),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createSchema() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			topic               TEXT NOT NULL,
			user_id             TEXT NOT NULL,
			thread_id           TEXT NOT NULL,
			bootstrap_completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,
			PRIMARY KEY (topic, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS thread_messages (
			` + idColumn + `,
			message_id   TEXT NOT NULL,
			topic        TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			is_bootstrap BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TEXT NOT NULL,
			FOREIGN KEY (topic, user_id) REFERENCES threads(topic, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thread_messages_owner
			ON thread_messages(topic, user_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetThread loads a record and its ordered message log
func (s *SQLStore) GetThread(ctx context.Context, topic, userID string) (*ThreadRecord, error) {
	var rec ThreadRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT topic, user_id, thread_id, bootstrap_completed, created_at, updated_at
		FROM threads WHERE topic = ? AND user_id = ?`), topic, userID,
	).Scan(&rec.Topic, &rec.UserID, &rec.ThreadID, &rec.BootstrapCompleted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT message_id, role, content, is_bootstrap, created_at
		FROM thread_messages WHERE topic = ? AND user_id = ?
		ORDER BY id ASC`), topic, userID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var role, ts string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.IsBootstrap, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		m.Timestamp = parseTime(ts)
		rec.Messages = append(rec.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return &rec, nil
}

// CreateThread inserts a new record. The primary key enforces one record per pair.
func (s *SQLStore) CreateThread(ctx context.Context, rec *ThreadRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO threads (topic, user_id, thread_id, bootstrap_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		rec.Topic, rec.UserID, rec.ThreadID, rec.BootstrapCompleted,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// AppendMessage inserts msg only when the record exists and no entry with the
// same (role, content) is present. Both checks run inside the INSERT statement.
func (s *SQLStore) AppendMessage(ctx context.Context, topic, userID string, msg *Message) (bool, error) {
	if err := validateMessage(msg); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO thread_messages (message_id, topic, user_id, role, content, is_bootstrap, created_at)
		SELECT ?, ?, ?, ?, ?, CAST(? AS BOOLEAN), ?
		WHERE EXISTS (SELECT 1 FROM threads WHERE topic = ? AND user_id = ?)
		AND NOT EXISTS (
			SELECT 1 FROM thread_messages
			WHERE topic = ? AND user_id = ? AND role = ? AND content = ?
		)`),
		msg.ID, topic, userID, string(msg.Role), msg.Content, msg.IsBootstrap, formatTime(msg.Timestamp),
		topic, userID,
		topic, userID, string(msg.Role), msg.Content,
	)
	if err != nil {
		return false, fmt.Errorf("inserting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if exists, err := s.threadExists(ctx, topic, userID); err != nil {
			return false, err
		} else if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}

	if err := s.touch(ctx, topic, userID, msg.Timestamp); err != nil {
		s.logger.Warn("failed to update thread timestamp", "topic", topic, "error", err)
	}
	return true, nil
}

// MarkBootstrapped sets the bootstrap flag for the pair
func (s *SQLStore) MarkBootstrapped(ctx context.Context, topic, userID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE threads SET bootstrap_completed = ?, updated_at = ?
		WHERE topic = ? AND user_id = ?`),
		true, formatTime(time.Now().UTC()), topic, userID,
	)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) threadExists(ctx context.Context, topic, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM threads WHERE topic = ? AND user_id = ?`), topic, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying thread: %w", err)
	}
	return true, nil
}

func (s *SQLStore) touch(ctx context.Context, topic, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE threads SET updated_at = ? WHERE topic = ? AND user_id = ?`),
		formatTime(at), topic, userID,
	)
	return err
}

// isConstraintViolation reports a unique or primary key violation from either driver
func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*SQLStore)(nil)
