// Package config defines the top-level configuration for betledger and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETLEDGER_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Market   MarketConfig   `toml:"market"`
	Casino   CasinoConfig   `toml:"casino"`
	Archive  ArchiveConfig  `toml:"archive"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Simulate SimulateConfig `toml:"simulate"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters. Redis backs the event bus,
// the price cache, the casino rate limiter and round locks; it is optional.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	PriceTTL     duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig selects the persistence backend.
type LedgerConfig struct {
	// Store is "memory" or "postgres".
	Store string `toml:"store"`
	// Isolation is "repeatable_read" or "serializable".
	Isolation string `toml:"isolation"`
}

// MarketConfig holds market defaults.
type MarketConfig struct {
	DefaultFee        decimal.Decimal `toml:"default_fee"`
	DefaultCollateral string          `toml:"default_collateral"`
}

// CasinoConfig holds crash game parameters.
type CasinoConfig struct {
	House          string          `toml:"house"`
	Collateral     string          `toml:"collateral"`
	MinCrashFactor decimal.Decimal `toml:"min_crash_factor"`
	// MaxCrashFactor of zero leaves targets unbounded.
	MaxCrashFactor decimal.Decimal `toml:"max_crash_factor"`
	RateLimit      int             `toml:"rate_limit"`
	RateWindow     duration        `toml:"rate_window"`
	RoundLockTTL   duration        `toml:"round_lock_ttl"`
}

// ArchiveConfig controls the cold-storage export.
type ArchiveConfig struct {
	RetentionDays        int `toml:"retention_days"`
	MultipartThresholdMB int `toml:"multipart_threshold_mb"`
}

// MetricsConfig controls the ops HTTP server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// SimulateConfig drives the scripted scenario run by the simulate mode.
type SimulateConfig struct {
	Traders         int      `toml:"traders"`
	TradesPerTrader int      `toml:"trades_per_trader"`
	StartingBalance int64    `toml:"starting_balance"`
	Liquidity       int64    `toml:"liquidity"`
	Outcomes        int      `toml:"outcomes"`
	Rounds          int      `toml:"rounds"`
	Seed            string   `toml:"seed"`
	Hold            duration `toml:"hold"`
}

// NotifyConfig selects which events are forwarded to notification senders.
// An empty list forwards everything.
type NotifyConfig struct {
	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "betledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "betledger",
			StreamMaxLen: 10_000,
			PriceTTL:     duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "betledger-archive",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			Store:     "memory",
			Isolation: "repeatable_read",
		},
		Market: MarketConfig{
			DefaultFee:        decimal.RequireFromString("0.02"),
			DefaultCollateral: "USD",
		},
		Casino: CasinoConfig{
			House:          "house",
			Collateral:     "USD",
			MinCrashFactor: decimal.NewFromInt(1),
			RateLimit:      20,
			RateWindow:     duration{time.Second},
			RoundLockTTL:   duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays:        90,
			MultipartThresholdMB: 16,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Simulate: SimulateConfig{
			Traders:         8,
			TradesPerTrader: 5,
			StartingBalance: 1_000,
			Liquidity:       1_000,
			Outcomes:        2,
			Rounds:          3,
			Seed:            "betledger-simulation",
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"migrate":  true,
	"simulate": true,
	"archive":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validIsolation = map[string]bool{
	"repeatable_read": true,
	"serializable":    true,
}

// UsesPostgres reports whether the configured mode needs a database.
func (c *Config) UsesPostgres() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "migrate" || mode == "archive" || strings.ToLower(c.Ledger.Store) == "postgres"
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: migrate, simulate, archive)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch strings.ToLower(c.Ledger.Store) {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown store %q (valid: memory, postgres)", c.Ledger.Store))
	}
	if !validIsolation[strings.ToLower(c.Ledger.Isolation)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown isolation %q (valid: repeatable_read, serializable)", c.Ledger.Isolation))
	}
	if mode == "archive" && strings.ToLower(c.Ledger.Store) != "postgres" {
		errs = append(errs, "ledger: archive mode requires store = \"postgres\"")
	}

	if c.UsesPostgres() {
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
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Market.DefaultFee.IsNegative() || c.Market.DefaultFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("market: default_fee must be in [0, 1), got %s", c.Market.DefaultFee))
	}
	if c.Market.DefaultCollateral == "" {
		errs = append(errs, "market: default_collateral must not be empty")
	}

	if c.Casino.House == "" {
		errs = append(errs, "casino: house must not be empty")
	}
	if c.Casino.Collateral == "" {
		errs = append(errs, "casino: collateral must not be empty")
	}
	if c.Casino.MinCrashFactor.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("casino: min_crash_factor must be >= 1, got %s", c.Casino.MinCrashFactor))
	}
	if !c.Casino.MaxCrashFactor.IsZero() && c.Casino.MaxCrashFactor.LessThan(c.Casino.MinCrashFactor) {
		errs = append(errs, "casino: max_crash_factor must be 0 or >= min_crash_factor")
	}
	if c.Casino.RateLimit < 0 {
		errs = append(errs, "casino: rate_limit must be >= 0")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if mode == "simulate" {
		if c.Simulate.Traders < 1 {
			errs = append(errs, "simulate: traders must be >= 1")
		}
		if c.Simulate.Outcomes < 2 {
			errs = append(errs, "simulate: outcomes must be >= 2")
		}
		if c.Simulate.StartingBalance <= 0 || c.Simulate.Liquidity <= 0 {
			errs = append(errs, "simulate: starting_balance and liquidity must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
