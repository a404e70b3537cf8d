package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// HashContent returns the lowercase hex SHA-256 digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Guard is the set of processed content hashes, persisted as a JSON array.
type Guard struct {
	path string

	mu     sync.Mutex
	hashes map[string]struct{}

	// saveMu keeps concurrent saves from interleaving file writes.
	saveMu sync.Mutex
}

// NewGuard creates an empty guard that saves to path.
func NewGuard(path string) *Guard {
	return &Guard{
		path:   path,
		hashes: make(map[string]struct{}),
	}
}

// LoadGuard reads the hash file at path. A missing file yields an empty guard.
func LoadGuard(path string) (*Guard, error) {
	g := NewGuard(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hash file: %w", err)
	}

	var hashes []string
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("parse hash file %s: %w", path, err)
	}
	for _, h := range hashes {
		g.hashes[h] = struct{}{}
	}
	return g, nil
}

// TryMark records hash and returns true, or returns false if it was
// already recorded.
func (g *Guard) TryMark(hash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.hashes[hash]; ok {
		return false
	}
	g.hashes[hash] = struct{}{}
	return true
}

// Forget removes hash so the same content can be processed again.
func (g *Guard) Forget(hash string) {
	g.mu.Lock()
	delete(g.hashes, hash)
	g.mu.Unlock()
}

// Len returns the number of recorded hashes.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hashes)
}

// Path returns the hash file location.
func (g *Guard) Path() string {
	return g.path
}

// Save rewrites the hash file with the full set.
func (g *Guard) Save() error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()

	g.mu.Lock()
	hashes := make([]string, 0, len(g.hashes))
	for h := range g.hashes {
		hashes = append(hashes, h)
	}
	g.mu.Unlock()
	slices.Sort(hashes)

	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hashes: %w", err)
	}

	if dir := filepath.Dir(g.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create hash file directory: %w", err)
		}
	}

	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write hash file: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace hash file: %w", err)
	}
	return nil
}
