// Package main is the entry point for matchsync, the fixture freshness and
// reconciliation service. It keeps a cached fixtures snapshot fresh from the
// upstream provider, reconciles it into the relational store and serves a
// merged fixture list over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/matchsync/internal/config"
	"github.com/aristath/matchsync/internal/di"
	"github.com/aristath/matchsync/internal/server"
	"github.com/aristath/matchsync/pkg/logger"
)

// main orchestrates startup and shutdown:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Warms the fixtures cache, starts workers and scheduled tasks
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal, then stops scheduling, workers and connections
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("instance", cfg.InstanceID).
		Str("database", cfg.DatabaseDriver).
		Msg("Starting matchsync")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// The cold fill runs before the server accepts reads. It is bounded by
	// the upstream timeout and retries, not by this context.
	if err := container.Start(context.Background()); err != nil {
		container.Stop()
		log.Fatal().Err(err).Msg("Failed to start background work")
	}

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		InstanceID: cfg.InstanceID,
		Fixtures:   container.Merge,
		Live:       container.Fixtures,
		Queues:     container.QueueManager,
		Database:   container.DB,
		Metrics:    container.Metrics.Handler(),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get up to 10 seconds.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Stop()

	log.Info().Msg("Server stopped")
}
