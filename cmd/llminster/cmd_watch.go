package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/llminster/llminster/internal/observability"
	"github.com/llminster/llminster/internal/watch"
	metrics "github.com/llminster/llminster/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Answer .q and .razorq files dropped into the watch directory",
		Long: `Watches the configured directory. For every new or changed <name>.q or
<name>.razorq file the answer is written to <name>.answer.md and the
question/answer pair is appended to <name>.context.md.

Identical content is answered once, across restarts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runWatch(ctx, a)
		},
	}
}

func runWatch(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger

	if err := observability.Init(ctx, cfg.Tracing, logger); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := observability.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	r, err := a.router()
	if err != nil {
		return err
	}

	guard, err := watch.LoadGuard(cfg.HashesFile)
	if err != nil {
		return err
	}
	logger.Info().Int("hashes", guard.Len()).Str("file", guard.Path()).Msg("Loaded processed hashes")

	debouncer := watch.NewDebouncer(cfg.Watcher.Debounce)
	pipeline := watch.NewPipeline(r, guard,
		watch.WithDebouncer(debouncer),
		watch.WithGeneration(cfg.Generation),
		watch.WithAccessRetry(cfg.Watcher.AccessAttempts, cfg.Watcher.AccessDelay),
		watch.WithPipelineLogger(logger),
	)
	watcher := watch.NewWatcher(cfg.WatchDirectory, pipeline,
		watch.WithMaxConcurrent(cfg.Watcher.MaxConcurrent),
		watch.WithPruning(debouncer, cfg.Watcher.PruneSchedule),
		watch.WithWatcherLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metrics.InitMetrics()
		health := metrics.NewHealthChecker(Version,
			metrics.WatchDirectoryCheck(cfg.WatchDirectory),
			metrics.HashesFileCheck(cfg.HashesFile),
		)

		server := metrics.NewServer(cfg.Metrics.Port, health)
		g.Go(func() error {
			logger.Info().Int("port", cfg.Metrics.Port).Msg("Serving metrics and health")
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		return watcher.Run(gctx)
	})

	runErr := g.Wait()

	if err := guard.Save(); err != nil {
		logger.Error().Err(err).Msg("Failed to save processed hashes")
	}
	logger.Info().Int("hashes", guard.Len()).Msg("Shutdown complete")
	return runErr
}
