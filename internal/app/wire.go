package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/betledger/internal/blob/s3"
	"github.com/alanyoungcy/betledger/internal/cache/redis"
	"github.com/alanyoungcy/betledger/internal/casino"
	"github.com/alanyoungcy/betledger/internal/config"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/market"
	"github.com/alanyoungcy/betledger/internal/metrics"
	"github.com/alanyoungcy/betledger/internal/notify"
	"github.com/alanyoungcy/betledger/internal/server/handler"
	"github.com/alanyoungcy/betledger/internal/store/memstore"
	"github.com/alanyoungcy/betledger/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence
	UnitOfWork    domain.UnitOfWork
	AuditStore    domain.AuditStore
	ArchiveSource domain.ArchiveSource
	Postgres      *postgres.Client // nil on the memory store

	// Caches, all nil without redis
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, archive mode only
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Checks   map[string]handler.Check
	Notifier *notify.Notifier

	// Services
	Ledger  *ledger.Service
	Markets *market.Service
	Casino  *casino.Engine
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Checks:   make(map[string]handler.Check),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	mode := strings.ToLower(cfg.Mode)

	// --- Persistence ---
	if strings.ToLower(cfg.Ledger.Store) == "postgres" || mode == "migrate" {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations && mode != "migrate" {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: applied migrations", slog.Any("files", applied))
			}
		}

		iso, err := postgres.ParseIsolation(cfg.Ledger.Isolation)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		pool := pgClient.Pool()
		deps.UnitOfWork = postgres.NewUnitOfWork(pool, iso)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.ArchiveSource = postgres.NewArchiveStore(pool)
	} else {
		store := memstore.New()
		deps.UnitOfWork = store
		deps.AuditStore = store
		deps.ArchiveSource = store
		deps.Checks["store"] = store.Ping
	}

	// --- Redis ---
	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		senders = append(senders, notify.NewBusSender(deps.SignalBus))
	}

	// --- S3 blob storage (archive mode only) ---
	if mode == "archive" {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.ArchiveSource, deps.AuditStore)
		if cfg.Archive.MultipartThresholdMB > 0 {
			archiver.SetMultipartThreshold(cfg.Archive.MultipartThresholdMB << 20)
		}
		deps.Archiver = archiver
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	deps.Ledger = ledger.NewService(deps.UnitOfWork, deps.Metrics, logger)
	deps.Markets = market.NewService(
		deps.UnitOfWork,
		market.Config{
			DefaultFee:        cfg.Market.DefaultFee,
			DefaultCollateral: cfg.Market.DefaultCollateral,
		},
		deps.Notifier,
		deps.PriceCache,
		deps.AuditStore,
		deps.Metrics,
		logger,
	)

	opts := []casino.Option{
		casino.WithEvents(deps.Notifier),
		casino.WithMetrics(deps.Metrics),
	}
	if deps.RateLimiter != nil {
		opts = append(opts, casino.WithRateLimiter(deps.RateLimiter))
	}
	if deps.LockManager != nil {
		opts = append(opts, casino.WithRoundLocks(deps.LockManager))
	}
	deps.Casino = casino.NewEngine(deps.UnitOfWork, casino.Config{
		House:          cfg.Casino.House,
		Collateral:     cfg.Casino.Collateral,
		MinCrashFactor: cfg.Casino.MinCrashFactor,
		MaxCrashFactor: cfg.Casino.MaxCrashFactor,
		RateLimit:      cfg.Casino.RateLimit,
		RateWindow:     cfg.Casino.RateWindow.Duration,
		RoundLockTTL:   cfg.Casino.RoundLockTTL.Duration,
	}, logger, opts...)

	return deps, cleanup, nil
}
