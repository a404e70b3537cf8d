package session

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process EventLog for tests and throwaway sessions.
type MemoryBackend struct {
	mu     sync.RWMutex
	turns  map[string][]*Turn
	closed bool
}

// NewMemoryBackend creates an empty in-memory event log.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{turns: make(map[string][]*Turn)}
}

// Append stores a copy of turn.
func (m *MemoryBackend) Append(_ context.Context, turn *Turn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	existing := m.turns[turn.SessionID]
	if turn.SequenceNumber <= MaxSequence(existing) {
		return ErrSequenceConflict
	}

	stored := *turn
	m.turns[turn.SessionID] = append(existing, &stored)
	return nil
}

// Turns returns copies of the stored turns for a session.
func (m *MemoryBackend) Turns(_ context.Context, sessionID string, fromSequence int64) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Turn, 0, len(m.turns[sessionID]))
	for _, t := range filterFrom(m.turns[sessionID], fromSequence) {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
