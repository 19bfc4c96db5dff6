// Package sessions persists conversations in SQLite. Sessions own their
// messages; deleting a session cascades.
package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/myllm/pkg/db"
	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// Session is one durable conversation.
type Session struct {
	ID        string    `json:"id" db:"id"`
	ModelName string    `json:"model_name" db:"model_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NotFoundError reports a reference to a session id that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

// Store is the SQLite-backed session store.
type Store struct {
	db *sqlx.DB

	// maxMessages caps messages per session; oldest rows are trimmed past
	// it. Zero means unlimited.
	maxMessages int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxMessages caps how many messages a session retains.
func WithMaxMessages(n int) Option {
	return func(s *Store) { s.maxMessages = n }
}

// Open opens the store at dbPath, creating and migrating the schema.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	conn, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(ctx, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing connection and migrates the schema. The
// connection must have WAL and foreign keys enabled: cascade deletes depend
// on it.
func NewStore(ctx context.Context, conn *sqlx.DB, opts ...Option) (*Store, error) {
	if err := db.VerifyConfiguration(conn); err != nil {
		return nil, errors.Wrap(err, "session database misconfigured")
	}

	s := &Store{db: conn}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.NewMigrationRunner(conn).Run(ctx, migrations); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create starts a new session for a model and returns it.
func (s *Store) Create(ctx context.Context, modelName string) (Session, error) {
	now := time.Now().UTC()
	session := Session{
		ID:        uuid.NewString(),
		ModelName: modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, model_name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		session.ID, session.ModelName, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return Session{}, errors.Wrap(err, "failed to create session")
	}
	return session, nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	var session Session
	err := s.db.GetContext(ctx, &session,
		"SELECT id, model_name, created_at, updated_at FROM sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "failed to get session")
	}
	return session, nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT id, model_name, created_at, updated_at FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	return sessions, nil
}

// AddMessage appends one message to a session.
func (s *Store) AddMessage(ctx context.Context, sessionID string, m llm.Message) error {
	return s.AddTurn(ctx, sessionID, m)
}

// AddTurn appends messages to a session in one transaction, bumps the
// session's updated_at, and trims history past the message cap.
func (s *Store) AddTurn(ctx context.Context, sessionID string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i, m := range messages {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			// Spread timestamps so ordering within the turn is stable.
			createdAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, content, tokens, created_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, m.Role, m.Content, m.Tokens, createdAt)
		if err != nil {
			return errors.Wrap(err, "failed to insert message")
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return errors.Wrap(err, "failed to update session")
	}

	if s.maxMessages > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE session_id = ? AND id NOT IN (
				SELECT id FROM messages WHERE session_id = ?
				ORDER BY created_at DESC, id DESC LIMIT ?
			)`, sessionID, sessionID, s.maxMessages)
		if err != nil {
			return errors.Wrap(err, "failed to trim session history")
		}
	}

	return tx.Commit()
}

// ListMessages returns a session's messages ordered oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	var messages []llm.Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT role, content, tokens, created_at FROM messages
		WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	return messages, nil
}

// Delete removes a session and, via the cascade, its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// DeleteOlderThan removes sessions not updated since the cutoff and returns
// how many were removed. Used by the retention sweep.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted sessions")
	}
	return affected, nil
}

// MessageCount returns the number of stored messages for a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return count, nil
}
