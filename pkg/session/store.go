package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors for event log operations.
var (
	// ErrSequenceConflict is returned when a turn's sequence number is not
	// greater than the highest sequence number already stored for its session.
	ErrSequenceConflict = errors.New("sequence number conflict")
	// ErrStorageClosed is returned when operating on a closed backend.
	ErrStorageClosed = errors.New("storage backend is closed")
	// ErrInvalidTurn is returned when a turn is missing required fields.
	ErrInvalidTurn = errors.New("invalid turn")
)

// EventLog is the append-only, per-session ordered store of turns.
// Implementations must be safe for concurrent use and must reject an append
// whose sequence number does not exceed the session's current maximum.
type EventLog interface {
	// Append stores a turn at the end of its session.
	// Returns ErrSequenceConflict if the sequence number is already taken
	// or lower than the latest stored one.
	Append(ctx context.Context, turn *Turn) error

	// Turns returns the turns of a session with SequenceNumber >= fromSequence,
	// ordered by sequence number. An unknown session yields an empty slice.
	Turns(ctx context.Context, sessionID string, fromSequence int64) ([]*Turn, error)

	// Close releases any resources held by the backend.
	Close() error
}

// validateTurn checks the fields every backend relies on.
func validateTurn(turn *Turn) error {
	if turn == nil {
		return fmt.Errorf("%w: nil turn", ErrInvalidTurn)
	}
	if turn.SessionID == "" {
		return fmt.Errorf("%w: empty session ID", ErrInvalidTurn)
	}
	if turn.SequenceNumber < 1 {
		return fmt.Errorf("%w: sequence number %d < 1", ErrInvalidTurn, turn.SequenceNumber)
	}
	return nil
}

// NewEventLog creates the backend selected by cfg.Store.
func NewEventLog(ctx context.Context, cfg Config) (EventLog, error) {
	switch strings.ToLower(cfg.Store) {
	case "", StoreFile:
		return NewFileBackend(cfg.BaseDir)
	case StoreMemory:
		return NewMemoryBackend(), nil
	case StoreRedis:
		return NewRedisBackend(cfg.Redis)
	case StoreSQLite:
		return NewSQLiteBackend(ctx, cfg.SQLite.Path)
	case StoreFirestore:
		return NewFirestoreBackend(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown event log store %q", cfg.Store)
	}
}
