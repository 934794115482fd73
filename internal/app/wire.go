package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/bookbias/internal/blob/s3"
	"github.com/alanyoungcy/bookbias/internal/cache/redis"
	"github.com/alanyoungcy/bookbias/internal/config"
	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/instrumentation"
	"github.com/alanyoungcy/bookbias/internal/notify"
	"github.com/alanyoungcy/bookbias/internal/platform/binance"
	"github.com/alanyoungcy/bookbias/internal/server/handler"
	"github.com/alanyoungcy/bookbias/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional parts are nil when
// their section is disabled. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Source domain.LadderSource

	// Persistence
	SampleStore domain.SampleStore

	// Redis; nil when redis.enabled is false.
	SampleCache domain.SampleCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter *redis.RateLimiter

	// Blob storage; nil when s3.enabled is false.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *instrumentation.Metrics

	// Checks probe each connected backend for the health endpoint.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- PostgreSQL ---
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

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.SampleStore = postgres.NewSampleStore(pgClient.Pool())
	deps.Checks["postgres"] = pgClient.Ping

	// --- Redis ---
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

		deps.SampleCache = redis.NewSampleCache(redisClient, cfg.Redis.SampleTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Exchange ---
	deps.Source = binance.NewSource(binance.Config{
		RESTURL:     cfg.Binance.RESTURL,
		WSURL:       cfg.Binance.WSURL,
		DepthLimit:  cfg.Binance.DepthLimit,
		UpdateSpeed: cfg.Binance.UpdateSpeed,
		ReadTimeout: cfg.Binance.ReadTimeout.Duration,
	}, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = instrumentation.NewMetrics(deps.Registry, cfg.Collector.AssetSymbol())

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
