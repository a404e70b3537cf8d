// Package logging opens the process log sink. Components receive the
// resulting zerolog.Logger explicitly; nothing here is global.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the log level and outputs.
type Config struct {
	// Level is a zerolog level name ("debug", "info", ...). Defaults to info.
	Level string `yaml:"level"`

	// Console writes human-readable output to stderr.
	Console bool `yaml:"console"`

	// File is a path prefix for a daily log file; "logs/llminster" becomes
	// logs/llminster-20240501.log. Empty disables file output.
	File string `yaml:"file"`
}

// Sink owns the log outputs and their lifecycle.
type Sink struct {
	logger zerolog.Logger
	file   *os.File
	mu     sync.Mutex
}

// Open creates the sink described by cfg.
func Open(cfg Config) (*Sink, error) {
	return open(cfg, os.Stderr, time.Now())
}

func open(cfg Config, console io.Writer, now time.Time) (*Sink, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	s := &Sink{}
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime})
	}

	if cfg.File != "" {
		path := DailyPath(cfg.File, now)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
		writers = append(writers, f)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	s.logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return s, nil
}

// DailyPath appends the date suffix and .log extension to prefix.
func DailyPath(prefix string, now time.Time) string {
	prefix = strings.TrimSuffix(prefix, ".log")
	return fmt.Sprintf("%s-%s.log", prefix, now.Format("20060102"))
}

// Logger returns the root logger.
func (s *Sink) Logger() zerolog.Logger {
	return s.logger
}

// Close flushes and closes the file output.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		s.file = nil
		return fmt.Errorf("sync log file: %w", err)
	}
	err := s.file.Close()
	s.file = nil
	return err
}
