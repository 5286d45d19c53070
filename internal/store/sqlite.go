// ABOUTME: SQLite implementation of the message log using modernc.org/sqlite.
// ABOUTME: Schema is created automatically; WAL mode for concurrent readers.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/courier-gateway/internal/message"
)

// LoggedMessage is one row of the message log.
type LoggedMessage struct {
	ID          int64
	SessionID   string
	From        string
	FromHandle  string
	DisplayName string
	Body        string
	Type        string
	IsGroup     bool
	SentAt      string
	ReceivedAt  time.Time
}

// SQLiteStore persists dispatched messages to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the message log at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps status reads from blocking behind message writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("message log opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		sender       TEXT NOT NULL,
		sender_handle TEXT NOT NULL,
		sender_name  TEXT NOT NULL,
		body         TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT '',
		is_group     INTEGER NOT NULL DEFAULT 0,
		sent_at      TEXT NOT NULL,
		received_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveMessage appends a normalized message to the log.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *message.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, sender, sender_handle, sender_name, body, message_type, is_group, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.From, msg.FromHandle, msg.DisplayName, msg.Body, msg.Type, msg.IsGroup, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a session, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*LoggedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, sender_handle, sender_name, body, message_type, is_group, sent_at, received_at
		FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*LoggedMessage
	for rows.Next() {
		m := &LoggedMessage{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.From, &m.FromHandle, &m.DisplayName,
			&m.Body, &m.Type, &m.IsGroup, &m.SentAt, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the number of logged messages for a session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
