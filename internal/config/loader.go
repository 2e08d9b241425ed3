package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BETLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BETLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BETLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BETLEDGER_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "BETLEDGER_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.PriceTTL, "BETLEDGER_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETLEDGER_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.Store, "BETLEDGER_LEDGER_STORE")
	setStr(&cfg.Ledger.Isolation, "BETLEDGER_LEDGER_ISOLATION")

	// ── Market ──
	setDecimal(&cfg.Market.DefaultFee, "BETLEDGER_MARKET_DEFAULT_FEE")
	setStr(&cfg.Market.DefaultCollateral, "BETLEDGER_MARKET_DEFAULT_COLLATERAL")

	// ── Casino ──
	setStr(&cfg.Casino.House, "BETLEDGER_CASINO_HOUSE")
	setStr(&cfg.Casino.Collateral, "BETLEDGER_CASINO_COLLATERAL")
	setDecimal(&cfg.Casino.MinCrashFactor, "BETLEDGER_CASINO_MIN_CRASH_FACTOR")
	setDecimal(&cfg.Casino.MaxCrashFactor, "BETLEDGER_CASINO_MAX_CRASH_FACTOR")
	setInt(&cfg.Casino.RateLimit, "BETLEDGER_CASINO_RATE_LIMIT")
	setDuration(&cfg.Casino.RateWindow, "BETLEDGER_CASINO_RATE_WINDOW")
	setDuration(&cfg.Casino.RoundLockTTL, "BETLEDGER_CASINO_ROUND_LOCK_TTL")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "BETLEDGER_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.MultipartThresholdMB, "BETLEDGER_ARCHIVE_MULTIPART_THRESHOLD_MB")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "BETLEDGER_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "BETLEDGER_METRICS_ADDR")

	// ── Simulate ──
	setInt(&cfg.Simulate.Traders, "BETLEDGER_SIMULATE_TRADERS")
	setInt(&cfg.Simulate.TradesPerTrader, "BETLEDGER_SIMULATE_TRADES_PER_TRADER")
	setInt64(&cfg.Simulate.StartingBalance, "BETLEDGER_SIMULATE_STARTING_BALANCE")
	setInt64(&cfg.Simulate.Liquidity, "BETLEDGER_SIMULATE_LIQUIDITY")
	setInt(&cfg.Simulate.Outcomes, "BETLEDGER_SIMULATE_OUTCOMES")
	setInt(&cfg.Simulate.Rounds, "BETLEDGER_SIMULATE_ROUNDS")
	setStr(&cfg.Simulate.Seed, "BETLEDGER_SIMULATE_SEED")
	setDuration(&cfg.Simulate.Hold, "BETLEDGER_SIMULATE_HOLD")

	// ── Notify ──
	setStringSlice(&cfg.Notify.Events, "BETLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETLEDGER_MODE")
	setStr(&cfg.LogLevel, "BETLEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
