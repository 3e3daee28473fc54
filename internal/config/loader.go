package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, then applies CONVICTION_*
// environment overrides (a .env file in the working directory is read first
// when present). A malformed override is an error rather than silently
// ignored. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// override binds one environment variable to a config field.
type override struct {
	key string
	set func(string) error
}

func envOverrides(cfg *Config) []override {
	return []override{
		{"CONVICTION_ROLES_ADMIN", str(&cfg.Roles.Admin)},
		{"CONVICTION_ROLES_STAKE_HOOK", str(&cfg.Roles.StakeHook)},

		{"CONVICTION_PROTOCOL_FEE_BPS", uinteger(&cfg.Protocol.FeeBps)},
		{"CONVICTION_PROTOCOL_TREASURY", str(&cfg.Protocol.Treasury)},
		{"CONVICTION_PROTOCOL_GLOBAL_MIN_STAKE", str(&cfg.Protocol.GlobalMinStake)},
		{"CONVICTION_PROTOCOL_DEFAULT_MIN_STAKE", str(&cfg.Protocol.DefaultMinStake)},
		{"CONVICTION_PROTOCOL_MAX_STALENESS", cfg.Protocol.MaxStaleness.set},

		{"CONVICTION_WALLET_PRIVATE_KEY", str(&cfg.Wallet.PrivateKey)},
		{"CONVICTION_WALLET_ENCRYPTED_KEY_PATH", str(&cfg.Wallet.EncryptedKeyPath)},
		{"CONVICTION_WALLET_KEY_PASSWORD", str(&cfg.Wallet.KeyPassword)},

		{"CONVICTION_FEED_SOURCE", str(&cfg.Feed.Source)},
		{"CONVICTION_CHAIN_RPC_URL", str(&cfg.Chain.RPCURL)},
		{"CONVICTION_CHAIN_FEED_REGISTRY", str(&cfg.Chain.FeedRegistry)},
		{"CONVICTION_CHAIN_REQUESTS_PER_SECOND", float(&cfg.Chain.RequestsPerSecond)},
		{"CONVICTION_CHAIN_BURST", integer(&cfg.Chain.Burst)},

		{"CONVICTION_STORE_DRIVER", str(&cfg.Store.Driver)},
		{"CONVICTION_STORE_SNAPSHOT_INTERVAL", cfg.Store.SnapshotInterval.set},

		// DATABASE_URL is the conventional name on most hosts; the
		// namespaced variable wins when both are set.
		{"DATABASE_URL", str(&cfg.Postgres.DSN)},
		{"CONVICTION_POSTGRES_DSN", str(&cfg.Postgres.DSN)},
		{"CONVICTION_POSTGRES_HOST", str(&cfg.Postgres.Host)},
		{"CONVICTION_POSTGRES_PORT", integer(&cfg.Postgres.Port)},
		{"CONVICTION_POSTGRES_DATABASE", str(&cfg.Postgres.Database)},
		{"CONVICTION_POSTGRES_USER", str(&cfg.Postgres.User)},
		{"CONVICTION_POSTGRES_PASSWORD", str(&cfg.Postgres.Password)},
		{"CONVICTION_POSTGRES_SSL_MODE", str(&cfg.Postgres.SSLMode)},
		{"CONVICTION_POSTGRES_POOL_MAX_CONNS", integer(&cfg.Postgres.PoolMaxConns)},
		{"CONVICTION_POSTGRES_POOL_MIN_CONNS", integer(&cfg.Postgres.PoolMinConns)},
		{"CONVICTION_POSTGRES_RUN_MIGRATIONS", boolean(&cfg.Postgres.RunMigrations)},

		{"CONVICTION_SQLITE_PATH", str(&cfg.SQLite.Path)},

		{"CONVICTION_REDIS_ENABLED", boolean(&cfg.Redis.Enabled)},
		{"CONVICTION_REDIS_ADDR", str(&cfg.Redis.Addr)},
		{"CONVICTION_REDIS_PASSWORD", str(&cfg.Redis.Password)},
		{"CONVICTION_REDIS_DB", integer(&cfg.Redis.DB)},
		{"CONVICTION_REDIS_POOL_SIZE", integer(&cfg.Redis.PoolSize)},
		{"CONVICTION_REDIS_MAX_RETRIES", integer(&cfg.Redis.MaxRetries)},
		{"CONVICTION_REDIS_TLS_ENABLED", boolean(&cfg.Redis.TLSEnabled)},

		{"CONVICTION_S3_ENABLED", boolean(&cfg.S3.Enabled)},
		{"CONVICTION_S3_ENDPOINT", str(&cfg.S3.Endpoint)},
		{"CONVICTION_S3_REGION", str(&cfg.S3.Region)},
		{"CONVICTION_S3_BUCKET", str(&cfg.S3.Bucket)},
		{"CONVICTION_S3_PREFIX", str(&cfg.S3.Prefix)},
		{"CONVICTION_S3_ACCESS_KEY", str(&cfg.S3.AccessKey)},
		{"CONVICTION_S3_SECRET_KEY", str(&cfg.S3.SecretKey)},
		{"CONVICTION_S3_USE_SSL", boolean(&cfg.S3.UseSSL)},
		{"CONVICTION_S3_FORCE_PATH_STYLE", boolean(&cfg.S3.ForcePathStyle)},

		{"CONVICTION_KEEPER_ENABLED", boolean(&cfg.Keeper.Enabled)},
		{"CONVICTION_KEEPER_SCAN_INTERVAL", cfg.Keeper.ScanInterval.set},
		{"CONVICTION_KEEPER_RESOLVE_INTERVAL", cfg.Keeper.ResolveInterval.set},
		{"CONVICTION_KEEPER_LOCK_TTL", cfg.Keeper.LockTTL.set},
		{"CONVICTION_KEEPER_BATCH_SIZE", integer(&cfg.Keeper.BatchSize)},
		{"CONVICTION_KEEPER_REMOTE_URL", str(&cfg.Keeper.RemoteURL)},

		{"CONVICTION_SERVER_ENABLED", boolean(&cfg.Server.Enabled)},
		{"CONVICTION_SERVER_PORT", integer(&cfg.Server.Port)},
		{"CONVICTION_SERVER_CORS_ORIGINS", list(&cfg.Server.CORSOrigins)},
		{"CONVICTION_SERVER_RATE_LIMIT_RPS", float(&cfg.Server.RateLimitRPS)},
		{"CONVICTION_SERVER_RATE_LIMIT_BURST", integer(&cfg.Server.RateLimitBurst)},
		{"CONVICTION_SERVER_MAX_CLOCK_SKEW", cfg.Server.MaxClockSkew.set},

		{"CONVICTION_NOTIFY_TELEGRAM_TOKEN", str(&cfg.Notify.TelegramToken)},
		{"CONVICTION_NOTIFY_TELEGRAM_CHAT_ID", str(&cfg.Notify.TelegramChatID)},
		{"CONVICTION_NOTIFY_DISCORD_WEBHOOK_URL", str(&cfg.Notify.DiscordWebhookURL)},
		{"CONVICTION_NOTIFY_EVENTS", list(&cfg.Notify.Events)},

		{"CONVICTION_MODE", str(&cfg.Mode)},
		{"CONVICTION_LOG_LEVEL", str(&cfg.LogLevel)},
	}
}

// applyEnv applies every non-empty variable returned by lookup and reports
// all malformed values together.
func applyEnv(cfg *Config, lookup func(string) string) error {
	var errs []error
	for _, o := range envOverrides(cfg) {
		v := strings.TrimSpace(lookup(o.key))
		if v == "" {
			continue
		}
		if err := o.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", o.key, v, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.Atoi(v); return }
}

func uinteger(dst *uint64) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.ParseUint(v, 10, 64); return }
}

func float(dst *float64) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.ParseFloat(v, 64); return }
}

func boolean(dst *bool) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.ParseBool(v); return }
}

// list splits a comma-separated value, dropping empty items.
func list(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
		return nil
	}
}
