// Package app runs the settlement engine in one of its operating modes:
// full (engine, API and keeper), server (engine and API), keeper (drives a
// remote engine) or archive (one pass of cold-storage archiving).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/conviction/internal/config"
)

// App owns the configuration and the resources Wire acquired for the
// selected mode.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled. Archive mode returns after one pass.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		"full":    a.FullMode,
		"server":  a.ServerMode,
		"keeper":  a.KeeperMode,
		"archive": a.ArchiveMode,
	}
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("store", a.cfg.Store.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	return run(ctx, deps)
}

// Close releases everything Wire acquired. Only the first call has effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down")
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
