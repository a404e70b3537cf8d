package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/llminster/llminster/internal/logging"
	"github.com/llminster/llminster/internal/observability"
	"github.com/llminster/llminster/internal/router"
	"github.com/llminster/llminster/pkg/config"
	"github.com/llminster/llminster/pkg/session"
)

// app carries what every command needs: the configuration and the log sink.
type app struct {
	cfg    *config.Config
	sink   *logging.Sink
	logger zerolog.Logger
}

func loadApp(configPath string) (*app, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	sink, err := logging.Open(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger := sink.Logger()
	logger.Debug().Str("config", path).Msg("Configuration loaded")
	return &app{cfg: cfg, sink: sink, logger: logger}, nil
}

func (a *app) Close() {
	_ = a.sink.Close()
}

func (a *app) router() (*router.Router, error) {
	instrument := a.cfg.Metrics.Enabled ||
		(a.cfg.Tracing.Exporter != "" && a.cfg.Tracing.Exporter != observability.ExporterNone)

	r, err := router.New(a.cfg.RouterSpecs(), a.cfg.DefaultAlias,
		router.WithInstrumentation(instrument),
		router.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build alias table: %w", err)
	}
	return r, nil
}

func (a *app) eventLog(ctx context.Context) (session.EventLog, error) {
	log, err := session.NewEventLog(ctx, a.cfg.EventLog)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return log, nil
}
