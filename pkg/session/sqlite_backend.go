package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	timestamp       TEXT NOT NULL,
	speaker         TEXT NOT NULL,
	content         TEXT NOT NULL,
	UNIQUE (session_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, sequence_number);
`

// SQLiteBackend implements EventLog on a single SQLite database file.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (or creates) the database at path and applies the schema.
// If path is empty, uses ~/.llminster/sessions.db.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".llminster", "sessions.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection keeps the max-then-insert transaction serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Append inserts a turn if its sequence number exceeds the session's maximum.
func (s *SQLiteBackend) Append(ctx context.Context, turn *Turn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var max int64
	const maxQuery = `SELECT COALESCE(MAX(sequence_number), 0) FROM turns WHERE session_id = ?`
	if err := tx.QueryRowContext(ctx, maxQuery, turn.SessionID).Scan(&max); err != nil {
		return fmt.Errorf("read max sequence: %w", err)
	}
	if turn.SequenceNumber <= max {
		return ErrSequenceConflict
	}

	const insert = `
		INSERT INTO turns (id, session_id, sequence_number, timestamp, speaker, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		turn.ID, turn.SessionID, turn.SequenceNumber,
		turn.Timestamp.UTC().Format(time.RFC3339Nano), turn.Speaker, turn.Content,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSequenceConflict
		}
		return fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// Turns returns the turns of a session ordered by sequence number.
func (s *SQLiteBackend) Turns(ctx context.Context, sessionID string, fromSequence int64) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	const query = `
		SELECT id, session_id, sequence_number, timestamp, speaker, content
		FROM turns
		WHERE session_id = ? AND sequence_number >= ?
		ORDER BY sequence_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, fromSequence)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]*Turn, 0)
	for rows.Next() {
		var (
			turn Turn
			ts   string
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.SequenceNumber, &ts, &turn.Speaker, &turn.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
