package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideBase is returned when a relative path escapes its base directory.
var ErrOutsideBase = errors.New("path escapes base directory")

// ResolveInside joins name onto base and rejects absolute names and names
// that climb out of base.
func ResolveInside(base, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid path %q", name)
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrOutsideBase, name)
	}
	return filepath.Join(base, name), nil
}
