package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/conviction/internal/cache/redis"
	"github.com/alanyoungcy/conviction/internal/client"
	"github.com/alanyoungcy/conviction/internal/crypto"
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/engine"
	"github.com/alanyoungcy/conviction/internal/keeper"
	"github.com/alanyoungcy/conviction/internal/metrics"
	"github.com/alanyoungcy/conviction/internal/notify"
	"github.com/alanyoungcy/conviction/internal/server"
	"github.com/alanyoungcy/conviction/internal/server/handler"
	"github.com/alanyoungcy/conviction/internal/server/ws"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// FullMode runs the engine, the HTTP API and an in-process keeper.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runEngine(ctx, deps, a.cfg.Keeper.Enabled)
}

// ServerMode runs the engine and the HTTP API. Upkeep and resolution are
// left to external keepers.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runEngine(ctx, deps, false)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, withKeeper bool) error {
	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Sinks run in commit order; the event log goes first.
	if deps.Events != nil {
		a.subscribe(eng, "event_store", domain.EventSinkFunc(deps.Events.Append))
	}
	a.subscribe(eng, "signal_bus", redis.NewEventPublisher(deps.SignalBus))
	a.subscribe(eng, "metrics", metrics.Sink{})

	if deps.Notifier != nil {
		sink := notify.NewEventSink(deps.Notifier, a.logger)
		a.subscribe(eng, "notify", sink)
		g.Go(func() error {
			return sink.Run(ctx)
		})
	}

	if deps.Snapshots != nil {
		persister := NewPersister(eng, deps.Snapshots, deps.Prune, a.cfg.Store.SnapshotInterval.Duration, a.logger)
		a.subscribe(eng, "persister", persister)
		g.Go(func() error {
			return persister.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		// The engine feeds the hub directly, so the bus relay stays off.
		hub := ws.NewHub(nil, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		a.subscribe(eng, "ws_hub", hub)
		g.Go(func() error {
			return hub.Run(ctx)
		})

		a.startHTTPServer(ctx, g, server.Handlers{
			Health:    handler.NewHealthHandler(eng, a.logger),
			Markets:   handler.NewMarketHandler(eng, deps.Events, a.logger),
			Positions: handler.NewPositionHandler(eng, a.logger),
			Admin:     handler.NewAdminHandler(eng, a.logger),
		}, hub)
	}

	if withKeeper {
		a.startKeeper(ctx, g, eng.As(engine.KeeperIdentity), deps)
	}

	return g.Wait()
}

// KeeperMode drives upkeep and resolution of a remote engine through its
// signed HTTP API. Markers and locks are shared through Redis so several
// keepers can run side by side.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode",
		slog.String("remote", a.cfg.Keeper.RemoteURL),
	)

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: keeper signer: %w", err)
	}
	remote := client.New(a.cfg.Keeper.RemoteURL, signer)
	if err := remote.Health(ctx); err != nil {
		a.logger.WarnContext(ctx, "remote engine not reachable yet",
			slog.String("error", err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "keeper identity", slog.String("address", remote.Address()))

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channel:   redis.EventsChannel,
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, server.Handlers{
			Health: handler.NewHealthHandler(nil, a.logger),
		}, hub)
	}

	a.startKeeper(ctx, g, remote, deps)
	return g.Wait()
}

// ArchiveMode copies new events and the latest snapshot to object storage,
// prunes what the archive now covers, and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil || deps.Events == nil {
		return fmt.Errorf("app: archive mode needs a persistent store and s3")
	}
	start := time.Now()

	after, err := deps.Archiver.ArchivedSeq(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	last, n, err := deps.Archiver.ArchiveEvents(ctx, after)
	if err != nil {
		metrics.RecordKeeperRun("archive", time.Since(start), err)
		return fmt.Errorf("app: archive events: %w", err)
	}

	key, err := deps.Archiver.ArchiveSnapshot(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no snapshot to archive")
	case err != nil:
		metrics.RecordKeeperRun("archive", time.Since(start), err)
		return fmt.Errorf("app: archive snapshot: %w", err)
	}

	if deps.Prune != nil {
		if err := deps.Prune(ctx, snapshotsKept, last); err != nil {
			a.logger.WarnContext(ctx, "prune after archive failed", slog.String("error", err.Error()))
		}
	}

	metrics.RecordKeeperRun("archive", time.Since(start), nil)
	a.logger.InfoContext(ctx, "archive complete",
		slog.Uint64("from_seq", after),
		slog.Uint64("to_seq", last),
		slog.Int64("events", n),
		slog.String("snapshot", key),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	treasury, globalMin, defaultMin := a.cfg.ProtocolParams()
	eng, err := engine.New(
		engine.Roles{
			Admin:     common.HexToAddress(a.cfg.Roles.Admin),
			StakeHook: common.HexToAddress(a.cfg.Roles.StakeHook),
		},
		domain.ProtocolConfig{
			FeeBps:          a.cfg.Protocol.FeeBps,
			Treasury:        treasury,
			GlobalMinStake:  globalMin,
			DefaultMinStake: defaultMin,
			MaxStaleness:    a.cfg.Protocol.MaxStaleness.Duration,
		},
		engine.WithLogger(a.logger),
		engine.WithPriceFeed(deps.Feed),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}

	var archive SnapshotSource
	if deps.Archiver != nil {
		archive = deps.Archiver
	}
	if err := restoreState(ctx, eng, deps.Snapshots, archive, deps.Events, a.logger); err != nil {
		return nil, err
	}
	return eng, nil
}

// subscribe registers sink on eng and counts its failures.
func (a *App) subscribe(eng *engine.Engine, name string, sink domain.EventSink) {
	eng.Subscribe(name, domain.EventSinkFunc(func(ctx context.Context, events []domain.Event) error {
		err := sink.Handle(ctx, events)
		if err != nil {
			metrics.SinkErrors.WithLabelValues(name).Inc()
		}
		return err
	}))
}

// keeperTarget is what both keeper phases drive: an engine session or a
// remote client.
type keeperTarget interface {
	keeper.Upkeeper
	keeper.MarketResolver
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, target keeperTarget, deps *Dependencies) {
	scanner := keeper.NewScanner(target, a.cfg.Keeper.ScanInterval.Duration, a.cfg.Keeper.BatchSize, a.logger)
	resolver := keeper.NewResolver(target, deps.SignalBus, deps.Locks, keeper.ResolverConfig{
		Interval: a.cfg.Keeper.ResolveInterval.Duration,
		LockTTL:  a.cfg.Keeper.LockTTL.Duration,
		Batch:    a.cfg.Keeper.BatchSize,
	}, a.logger)

	g.Go(func() error {
		return scanner.Run(ctx)
	})
	g.Go(func() error {
		return resolver.Run(ctx)
	})
}

// startHTTPServer serves the API until ctx is cancelled, then shuts down
// gracefully.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
		MaxClockSkew:   a.cfg.Server.MaxClockSkew.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
