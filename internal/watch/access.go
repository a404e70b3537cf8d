package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrAccessTimeout is returned when a file stays locked for every attempt.
var ErrAccessTimeout = errors.New("file access timeout")

// Default access retry settings.
const (
	DefaultAccessAttempts = 10
	DefaultAccessDelay    = 100 * time.Millisecond
)

type openFunc func(path string) (*os.File, error)

func openReadWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// ReadWhenReady opens path read-write, retrying while another writer holds
// it, and returns its content. Missing files, directories and permission
// errors fail at once.
func ReadWhenReady(ctx context.Context, path string, attempts int, delay time.Duration) ([]byte, error) {
	return readWhenReady(ctx, path, attempts, delay, openReadWrite)
}

func readWhenReady(ctx context.Context, path string, attempts int, delay time.Duration, open openFunc) ([]byte, error) {
	if attempts <= 0 {
		attempts = DefaultAccessAttempts
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		f, err := open(path)
		if err == nil {
			data, readErr := io.ReadAll(f)
			_ = f.Close()
			if readErr != nil {
				return nil, fmt.Errorf("read %s: %w", path, readErr)
			}
			return data, nil
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, err
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %s: %v", ErrAccessTimeout, attempts, path, lastErr)
}
