/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the HTTP server and cmd/server for access to services.
 */
package di

import (
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/cache"
	"github.com/aristath/matchsync/internal/config"
	"github.com/aristath/matchsync/internal/database"
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

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: the relational record of truth, plus an embedded SQLite cache
 *   database when CACHE_BACKEND=sqlite runs next to Postgres
 * - Infrastructure: cache store and codec, pub/sub bus, upstream client, metrics
 * - Repositories: match and bet access through the generic SQL store
 * - Services: fixtures cache, reconciliation, multi-source merge
 * - Background: queue manager with fixed job types, named scheduler tasks
 */
type Container struct {
	Config *config.Config

	// Databases
	DB      *database.DB // matches and bets
	CacheDB *database.DB // embedded cache database, nil unless it differs from DB

	// Infrastructure
	Redis    redis.UniversalClient // nil unless a Redis backend is configured
	Cache    cache.Store
	Codec    cache.Codec
	Bus      events.Bus
	Upstream *upstream.Client
	Metrics  *metrics.Metrics

	// Repositories
	Store   *store.SQLStore
	Matches *matches.Repository

	// Services
	Fixtures  *fixtures.Service
	Reconcile *reconcile.Service
	Merge     *merge.Service

	// Background work
	QueueManager *queue.Manager
	Scheduler    *scheduler.Scheduler
	CacheCleanup *cache.CleanupJob

	log         zerolog.Logger
	unsubscribe func()
	stopOnce    sync.Once
}
