// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/config"
	"github.com/aristath/matchsync/internal/database"
)

// InitializeDatabases opens the relational database and applies its schema.
// With CACHE_BACKEND=sqlite on a Postgres deployment, a separate embedded
// cache.db is opened under DATA_DIR as well.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{
		Config: cfg,
		log:    log.With().Str("component", "container").Logger(),
	}

	db, err := database.New(database.Config{
		Driver: cfg.DatabaseDriver,
		DSN:    cfg.DatabaseURL,
		Name:   "matches",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize matches database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate matches database: %w", err)
	}
	container.DB = db

	if cfg.CacheBackend != config.BackendSQLite || cfg.DatabaseDriver == config.DriverSQLite {
		return container, nil
	}

	cacheDB, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(cfg.DataDir, "cache.db"),
		Name:   "cache",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	if err := cacheDB.Migrate(); err != nil {
		cacheDB.Close()
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	container.CacheDB = cacheDB

	log.Info().Str("path", filepath.Join(cfg.DataDir, "cache.db")).Msg("Embedded cache database initialized")
	return container, nil
}

// cacheConn returns the database backing the SQLite cache store.
func (c *Container) cacheConn() *database.DB {
	if c.CacheDB != nil {
		return c.CacheDB
	}
	return c.DB
}
