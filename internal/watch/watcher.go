package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	metrics "github.com/llminster/llminster/pkg/observability"
)

// DefaultPruneSchedule is the cron spec for debounce map pruning.
const DefaultPruneSchedule = "@every 30s"

// Handler processes one file notification.
type Handler interface {
	Handle(ctx context.Context, path string, at time.Time) (Outcome, error)
}

// Watcher feeds filesystem notifications for one directory to a Handler.
type Watcher struct {
	dir           string
	handler       Handler
	maxConcurrent int64
	debouncer     *Debouncer
	pruneSchedule string
	logger        zerolog.Logger
	now           func() time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithMaxConcurrent bounds how many files are processed at once.
func WithMaxConcurrent(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.maxConcurrent = int64(n)
		}
	}
}

// WithPruning prunes d on the given cron schedule while the watcher runs.
func WithPruning(d *Debouncer, schedule string) WatcherOption {
	return func(w *Watcher) {
		w.debouncer = d
		if schedule != "" {
			w.pruneSchedule = schedule
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, handler Handler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:           dir,
		handler:       handler,
		maxConcurrent: 4,
		pruneSchedule: DefaultPruneSchedule,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is canceled. A missing directory is created.
// On cancellation no new notifications are accepted and in-flight
// handlers finish before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	scheduler, err := w.startPruning()
	if err != nil {
		_ = fsw.Close()
		return err
	}

	w.logger.Info().Str("dir", w.dir).Msg("Watching directory")

	sem := semaphore.NewWeighted(w.maxConcurrent)
	var g errgroup.Group

	runErr := w.loop(ctx, fsw, sem, &g)

	_ = fsw.Close()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	w.logger.Info().Msg("Watcher stopped")
	return runErr
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, sem *semaphore.Weighted, g *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			at := w.now()

			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			metrics.AddInflightFiles(1)

			// Handlers outlive cancellation so shutdown never leaves
			// half-written outputs.
			hctx := context.WithoutCancel(ctx)
			g.Go(func() error {
				defer func() {
					metrics.AddInflightFiles(-1)
					sem.Release(1)
				}()
				_, _ = w.handler.Handle(hctx, event.Name, at)
				return nil
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) startPruning() (*cron.Cron, error) {
	if w.debouncer == nil {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(w.pruneSchedule, func() {
		if n := w.debouncer.Prune(w.now()); n > 0 {
			w.logger.Debug().Int("removed", n).Msg("Pruned debounce entries")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", w.pruneSchedule, err)
	}
	c.Start()
	return c, nil
}
