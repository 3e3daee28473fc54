// Package config defines the top-level configuration for the conviction
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CONVICTION_* environment variables.
type Config struct {
	Roles    RolesConfig    `toml:"roles"`
	Protocol ProtocolConfig `toml:"protocol"`
	Wallet   WalletConfig   `toml:"wallet"`
	Feed     FeedConfig     `toml:"feed"`
	Chain    ChainConfig    `toml:"chain"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RolesConfig holds the privileged identities of the deployment.
type RolesConfig struct {
	Admin     string `toml:"admin"`
	StakeHook string `toml:"stake_hook"`
}

// ProtocolConfig holds the initial protocol parameters. Amounts are decimal
// strings in the smallest unit.
type ProtocolConfig struct {
	FeeBps          uint64   `toml:"fee_bps"`
	Treasury        string   `toml:"treasury"`
	GlobalMinStake  string   `toml:"global_min_stake"`
	DefaultMinStake string   `toml:"default_min_stake"`
	MaxStaleness    duration `toml:"max_staleness"`
}

// WalletConfig holds the key used to sign API requests.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// FeedConfig selects the price source used for resolution.
type FeedConfig struct {
	// Source is one of "static", "redis" or "chainlink".
	Source string `toml:"source"`
}

// ChainConfig holds JSON-RPC parameters for the on-chain price feed.
type ChainConfig struct {
	RPCURL            string  `toml:"rpc_url"`
	FeedRegistry      string  `toml:"feed_registry"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// StoreConfig selects where events and snapshots are persisted.
type StoreConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver           string   `toml:"driver"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KeeperConfig holds the scheduler parameters.
type KeeperConfig struct {
	Enabled         bool     `toml:"enabled"`
	ScanInterval    duration `toml:"scan_interval"`
	ResolveInterval duration `toml:"resolve_interval"`
	LockTTL         duration `toml:"lock_ttl"`
	BatchSize       int      `toml:"batch_size"`
	// RemoteURL points a standalone keeper at an engine's HTTP API.
	RemoteURL string `toml:"remote_url"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d *duration) set(v string) error { return d.UnmarshalText([]byte(v)) }

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
	// MaxClockSkew bounds the age of a signed request timestamp.
	MaxClockSkew duration `toml:"max_clock_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			FeeBps:          100,
			GlobalMinStake:  "1000000000000000",
			DefaultMinStake: "0",
			MaxStaleness:    duration{time.Hour},
		},
		Feed: FeedConfig{Source: "redis"},
		Chain: ChainConfig{
			RPCURL:            "http://localhost:8545",
			FeedRegistry:      "0x47Fb2585D2C56Fe188D0E6ec628a38b74fCeeeDf",
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Store: StoreConfig{
			Driver:           "postgres",
			SnapshotInterval: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "conviction",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "conviction.db"},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "conviction-archive",
			Prefix:         "events",
			ForcePathStyle: true,
		},
		Keeper: KeeperConfig{
			Enabled:         true,
			ScanInterval:    duration{time.Minute},
			ResolveInterval: duration{15 * time.Second},
			LockTTL:         duration{30 * time.Second},
			BatchSize:       50,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			MaxClockSkew:   duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "claims_paused"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"server":  true,
	"keeper":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var (
	validFeeds   = map[string]bool{"static": true, "redis": true, "chainlink": true}
	validDrivers = map[string]bool{"postgres": true, "sqlite": true, "memory": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, keeper, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	runsEngine := mode == "full" || mode == "server"

	// Roles and protocol only matter where the engine runs in-process.
	if runsEngine {
		if !isAddress(c.Roles.Admin) {
			errs = append(errs, fmt.Sprintf("roles: admin %q is not a non-zero address", c.Roles.Admin))
		}
		if !isAddress(c.Roles.StakeHook) {
			errs = append(errs, fmt.Sprintf("roles: stake_hook %q is not a non-zero address", c.Roles.StakeHook))
		}
		if c.Protocol.FeeBps > 10_000 {
			errs = append(errs, fmt.Sprintf("protocol: fee_bps must be <= 10000, got %d", c.Protocol.FeeBps))
		}
		if !isAddress(c.Protocol.Treasury) {
			errs = append(errs, fmt.Sprintf("protocol: treasury %q is not a non-zero address", c.Protocol.Treasury))
		}
		if _, ok := parseAmount(c.Protocol.GlobalMinStake); !ok {
			errs = append(errs, fmt.Sprintf("protocol: global_min_stake %q is not a non-negative integer", c.Protocol.GlobalMinStake))
		}
		if _, ok := parseAmount(c.Protocol.DefaultMinStake); !ok {
			errs = append(errs, fmt.Sprintf("protocol: default_min_stake %q is not a non-negative integer", c.Protocol.DefaultMinStake))
		}
		if c.Protocol.MaxStaleness.Duration <= 0 {
			errs = append(errs, "protocol: max_staleness must be > 0")
		}

		if !validFeeds[strings.ToLower(c.Feed.Source)] {
			errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: static, redis, chainlink)", c.Feed.Source))
		}
		if strings.EqualFold(c.Feed.Source, "redis") && !c.Redis.Enabled {
			errs = append(errs, "feed: source redis requires redis.enabled")
		}
		if strings.EqualFold(c.Feed.Source, "chainlink") {
			if c.Chain.RPCURL == "" {
				errs = append(errs, "chain: rpc_url must not be empty for the chainlink feed")
			}
			if !isAddress(c.Chain.FeedRegistry) {
				errs = append(errs, fmt.Sprintf("chain: feed_registry %q is not a non-zero address", c.Chain.FeedRegistry))
			}
			if c.Chain.RequestsPerSecond <= 0 {
				errs = append(errs, "chain: requests_per_second must be > 0")
			}
		}
	}

	if !validDrivers[strings.ToLower(c.Store.Driver)] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if mode == "archive" && strings.EqualFold(c.Store.Driver, "memory") {
		errs = append(errs, "store: archive mode needs a persistent driver")
	}

	switch strings.ToLower(c.Store.Driver) {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Keeper.Enabled || mode == "keeper" {
		if c.Keeper.ScanInterval.Duration <= 0 {
			errs = append(errs, "keeper: scan_interval must be > 0")
		}
		if c.Keeper.ResolveInterval.Duration <= 0 {
			errs = append(errs, "keeper: resolve_interval must be > 0")
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
	}
	if mode == "keeper" {
		if !c.Redis.Enabled {
			errs = append(errs, "keeper: a standalone keeper requires redis.enabled for markers and locks")
		}
		if c.Keeper.RemoteURL == "" {
			errs = append(errs, "keeper: remote_url is required in keeper mode")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for keeper mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server: rate_limit_rps must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProtocolParams returns the typed protocol parameters. Call after Validate.
func (c *Config) ProtocolParams() (treasury common.Address, globalMin, defaultMin *big.Int) {
	globalMin, _ = parseAmount(c.Protocol.GlobalMinStake)
	defaultMin, _ = parseAmount(c.Protocol.DefaultMinStake)
	return common.HexToAddress(c.Protocol.Treasury), globalMin, defaultMin
}

func isAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return new(big.Int), false
	}
	return v, true
}
