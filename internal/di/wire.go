// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/config"
	"github.com/aristath/matchsync/internal/queue"
)

// Wire initializes all dependencies and returns a fully configured container
// This is the main entry point for dependency injection
// Order of operations:
// 1. Initialize databases
// 2. Initialize infrastructure (cache, bus, upstream, metrics)
// 3. Initialize repositories and services
// 4. Register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize infrastructure
	if err := InitializeInfrastructure(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	// Step 3: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Register jobs
	if err := RegisterJobs(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}

// Start warms the fixtures cache, then starts workers, bus listeners and
// the scheduler. A failed cold fill is logged; the scheduled refresh
// retries it.
func (c *Container) Start(ctx context.Context) error {
	_ = c.Fixtures.Start(ctx)

	c.QueueManager.Start()

	unsubscribe, err := queue.RegisterListeners(c.Bus, c.QueueManager, c.Config.InstanceID, c.log)
	if err != nil {
		return fmt.Errorf("failed to register event listeners: %w", err)
	}
	c.unsubscribe = unsubscribe

	if err := scheduleTasks(c); err != nil {
		return fmt.Errorf("failed to schedule tasks: %w", err)
	}

	c.log.Info().Strs("tasks", c.Scheduler.Names()).Msg("Background work started")
	return nil
}

// Stop stops scheduling, then the bus listeners, then the workers (active
// jobs finish within their timeout), then closes every connection.
func (c *Container) Stop() {
	c.stopOnce.Do(func() {
		if c.Scheduler != nil {
			c.Scheduler.StopAll()
		}
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		if c.QueueManager != nil {
			c.QueueManager.Stop()
		}
		c.Close()
	})
}

// Close releases connections without stopping background work. Use Stop on
// a started container.
func (c *Container) Close() {
	if c.Bus != nil {
		if err := c.Bus.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close bus")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if c.CacheDB != nil {
		if err := c.CacheDB.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close cache database")
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close matches database")
		}
	}
	c.log.Info().Msg("Connections closed")
}
