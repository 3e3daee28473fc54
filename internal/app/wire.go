package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/conviction/internal/blob/s3"
	"github.com/alanyoungcy/conviction/internal/cache/memory"
	"github.com/alanyoungcy/conviction/internal/cache/redis"
	"github.com/alanyoungcy/conviction/internal/config"
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/notify"
	"github.com/alanyoungcy/conviction/internal/oracle"
	"github.com/alanyoungcy/conviction/internal/platform/chainlink"
	"github.com/alanyoungcy/conviction/internal/store/postgres"
	"github.com/alanyoungcy/conviction/internal/store/sqlite"
	"github.com/ethereum/go-ethereum/common"
)

// memoryStreamMaxLen bounds each in-process stream when Redis is disabled.
const memoryStreamMaxLen = 10_000

// Dependencies bundles every infrastructure dependency that the application
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields are nil when the mode or configuration does not need them.
type Dependencies struct {
	// Stores
	Events    domain.EventStore
	Snapshots domain.SnapshotStore
	// Prune trims old snapshots (and, where supported, archived events).
	Prune func(ctx context.Context, keep int, archivedSeq uint64) error

	// Caches
	SignalBus  domain.SignalBus
	Locks      domain.LockManager
	PriceCache domain.PriceCache

	// Price source used by the oracle resolver.
	Feed domain.PriceFeed

	// Blob storage
	Archiver *s3blob.ArchiveImpl

	// Notifications
	Notifier *notify.Notifier
}

// runsEngine returns true for modes that host the engine in-process.
func runsEngine(mode string) bool {
	return mode == "full" || mode == "server"
}

// needsStore returns true for modes that read or write the event log.
func needsStore(mode string) bool {
	return runsEngine(mode) || mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Event and snapshot store ---
	if needsStore(mode) {
		switch strings.ToLower(cfg.Store.Driver) {
		case "postgres":
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				return fail("postgres", err)
			}
			closers = append(closers, pgClient.Close)

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					return fail("postgres migrations", err)
				}
			}

			pool := pgClient.Pool()
			snapshots := postgres.NewSnapshotStore(pool)
			deps.Events = postgres.NewEventStore(pool)
			deps.Snapshots = snapshots
			deps.Prune = func(ctx context.Context, keep int, _ uint64) error {
				_, err := snapshots.Prune(ctx, keep)
				return err
			}

		case "sqlite":
			store, err := sqlite.Open(cfg.SQLite.Path)
			if err != nil {
				return fail("sqlite", err)
			}
			closers = append(closers, func() { _ = store.Close() })
			deps.Events = store
			deps.Snapshots = store
			deps.Prune = store.Prune

		default:
			logger.Warn("store driver is memory, state is lost on restart")
		}
	}

	// --- Redis, or the in-process bus when disabled ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
	} else {
		deps.SignalBus = memory.NewSignalBus(memoryStreamMaxLen)
		deps.Locks = memory.NewLockManager()
	}

	// --- Price feed ---
	if runsEngine(mode) {
		switch strings.ToLower(cfg.Feed.Source) {
		case "chainlink":
			feed, err := chainlink.Dial(ctx, chainlink.Config{
				RPCURL:            cfg.Chain.RPCURL,
				Registry:          common.HexToAddress(cfg.Chain.FeedRegistry),
				RequestsPerSecond: cfg.Chain.RequestsPerSecond,
				Burst:             cfg.Chain.Burst,
			})
			if err != nil {
				return fail("chainlink", err)
			}
			closers = append(closers, feed.Close)
			deps.Feed = feed
		case "redis":
			deps.Feed = deps.PriceCache
		default:
			logger.Warn("price feed is static, markets cannot resolve until prices are set")
			deps.Feed = oracle.NewStaticFeed()
		}
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled || mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			return fail("s3", err)
		}

		// The archiver reads the local event log; without one it can
		// still serve archived snapshots for restore.
		bucket := s3blob.NewBucket(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			bucket,
			bucket,
			deps.Events,
			deps.Snapshots,
			cfg.S3.Prefix,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
