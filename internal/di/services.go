// Package di provides dependency injection for infrastructure and services.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/cache"
	"github.com/aristath/matchsync/internal/config"
	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/events"
	"github.com/aristath/matchsync/internal/fixtures"
	"github.com/aristath/matchsync/internal/matches"
	"github.com/aristath/matchsync/internal/merge"
	"github.com/aristath/matchsync/internal/metrics"
	"github.com/aristath/matchsync/internal/queue"
	"github.com/aristath/matchsync/internal/reconcile"
	"github.com/aristath/matchsync/internal/scheduler"
	"github.com/aristath/matchsync/internal/store"
	"github.com/aristath/matchsync/internal/upstream"
)

// redisKeyPrefix namespaces cache keys on a shared Redis.
const redisKeyPrefix = "matchsync:"

// InitializeInfrastructure creates the cache store, bus, upstream client
// and metrics.
func InitializeInfrastructure(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Metrics = metrics.New()

	codec, err := cache.CodecFor(cfg.CacheCodec)
	if err != nil {
		return err
	}
	container.Codec = codec

	if cfg.CacheBackend == config.BackendRedis || cfg.BusBackend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		container.Redis = client
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	switch cfg.CacheBackend {
	case config.BackendRedis:
		container.Cache = cache.NewRedisStore(container.Redis, redisKeyPrefix)
	case config.BackendSQLite:
		container.Cache = cache.NewSQLiteStore(container.cacheConn().Conn())
	default:
		container.Cache = cache.NewMemoryStore()
	}

	switch cfg.BusBackend {
	case config.BackendRedis:
		container.Bus = events.NewRedisBus(container.Redis, log)
	case config.BackendAMQP:
		bus, err := events.NewAMQPBus(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		container.Bus = bus
	default:
		container.Bus = events.NewMemoryBus(log)
	}

	container.Upstream = upstream.NewClient(upstream.Config{
		URL:        cfg.UpstreamFixturesURL,
		Timeout:    cfg.UpstreamTimeout,
		RetryDelay: cfg.UpstreamRetryDelay,
	}, log)

	log.Info().
		Str("cache", cfg.CacheBackend).
		Str("codec", codec.Name()).
		Str("bus", cfg.BusBackend).
		Msg("Infrastructure initialized")
	return nil
}

// InitializeServices creates repositories, services and the background
// machinery. Infrastructure must be initialized first.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.Cache == nil || container.Bus == nil {
		return fmt.Errorf("infrastructure not initialized")
	}

	container.Store = store.NewSQLStore(container.DB, log)
	container.Matches = matches.NewRepository(container.Store, matches.DefaultDependents, log)

	// The sweep reads whatever snapshot is cached; a cold cache sweeps nothing.
	source := reconcile.FixtureSourceFunc(func(ctx context.Context) ([]domain.NormalizedFixture, error) {
		snap, err := container.Fixtures.Peek(ctx)
		if errors.Is(err, cache.ErrMiss) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return snap.Fixtures, nil
	})

	container.Reconcile = reconcile.NewService(reconcile.Config{
		PlaceholderPrefixes: cfg.PlaceholderPrefixes,
		SweepEvery:          cfg.ReconcileSweepEvery,
		InstanceID:          cfg.InstanceID,
	}, reconcile.Deps{
		Repo:    container.Matches,
		Source:  source,
		Bus:     container.Bus,
		Metrics: container.Metrics,
	}, log)

	container.Fixtures = fixtures.NewService(fixtures.Config{
		Key:        fixtures.DefaultKey,
		TTL:        cfg.FixturesCacheTTL,
		InstanceID: cfg.InstanceID,
		LiveWindow: cfg.StatusLiveWindow,
	}, fixtures.Deps{
		Store:   container.Cache,
		Codec:   container.Codec,
		Fetcher: container.Upstream,
		Bus:     container.Bus,
		Sink:    container.Reconcile,
		Metrics: container.Metrics,
	}, log)

	container.Merge = merge.NewService(container.Fixtures, container.Matches, log)

	expirers := make(map[string]cache.Expirer)
	if exp, ok := container.Cache.(cache.Expirer); ok {
		expirers[cfg.CacheBackend] = exp
	}
	container.CacheCleanup = cache.NewCleanupJob(expirers, log)

	container.QueueManager = queue.NewManager(container.Metrics, log)
	container.Scheduler = scheduler.New(log)

	log.Info().Msg("Services initialized")
	return nil
}
