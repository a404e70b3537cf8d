package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked append polls the session lock.
const lockRetryDelay = 10 * time.Millisecond

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements EventLog using one JSONL file per session.
// Storage layout:
//
//	~/.llminster/sessions/
//	  ├── <session-id>.jsonl
//	  └── <session-id>.jsonl.lock
//
// Appends hold an exclusive OS lock on the session's lock file while they
// read the current maximum sequence and write, so several processes may
// share one directory.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based event log.
// If baseDir is empty, uses ~/.llminster/sessions.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".llminster", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

// Append writes turn as a JSON line at the end of its session file.
func (f *FileBackend) Append(ctx context.Context, turn *Turn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}
	if err := validatePathComponent(turn.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	lock := flock.New(f.lockPath(turn.SessionID))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock session file: %s busy", turn.SessionID)
	}
	defer func() { _ = lock.Unlock() }()

	turns, err := f.readUnlocked(turn.SessionID)
	if err != nil {
		return err
	}
	if turn.SequenceNumber <= MaxSequence(turns) {
		return ErrSequenceConflict
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	file, err := os.OpenFile(f.sessionPath(turn.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - path component validated
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write turn: %w", err)
	}
	return nil
}

// Turns reads a session file and returns its turns from fromSequence on.
func (f *FileBackend) Turns(ctx context.Context, sessionID string, fromSequence int64) ([]*Turn, error) {
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	if _, err := os.Stat(f.sessionPath(sessionID)); os.IsNotExist(err) {
		return []*Turn{}, nil
	}

	// Shared lock so a concurrent append is never seen half written.
	lock := flock.New(f.lockPath(sessionID))
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock session file: %s busy", sessionID)
	}
	defer func() { _ = lock.Unlock() }()

	turns, err := f.readUnlocked(sessionID)
	if err != nil {
		return nil, err
	}
	return filterFrom(turns, fromSequence), nil
}

// Close marks the backend closed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *FileBackend) sessionPath(sessionID string) string {
	return filepath.Join(f.baseDir, sessionID+".jsonl")
}

func (f *FileBackend) lockPath(sessionID string) string {
	return f.sessionPath(sessionID) + ".lock"
}

// readUnlocked loads every turn of a session. Caller must hold f.mu and,
// for appends, the session lock.
func (f *FileBackend) readUnlocked(sessionID string) ([]*Turn, error) {
	file, err := os.Open(f.sessionPath(sessionID)) // #nosec G304 - path component validated
	if err != nil {
		if os.IsNotExist(err) {
			return []*Turn{}, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var turns []*Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn Turn
		if err := json.Unmarshal(line, &turn); err != nil {
			return nil, fmt.Errorf("parse turn: %w", err)
		}
		turns = append(turns, &turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session file: %w", err)
	}

	return turns, nil
}
