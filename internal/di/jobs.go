// Package di provides dependency injection for background jobs.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/cache"
	"github.com/aristath/matchsync/internal/fixtures"
	"github.com/aristath/matchsync/internal/queue"
)

// Scheduler task names.
const (
	TaskFixturesRefresh  = "fixtures:refresh"
	TaskMatchesReconcile = "matches:reconcile"
	TaskCacheCleanup     = "cache:cleanup"
)

// refreshHeadroom covers the snapshot write and hand-off after the fetch.
const refreshHeadroom = 5 * time.Second

// refreshTimeout lets a refresh job outlive the upstream client's whole retry
// budget, so a hanging provider exhausts the retries before the job times out.
func refreshTimeout(container *Container) time.Duration {
	d := container.Upstream.MaxFetchDuration() + refreshHeadroom
	if d < queue.DefaultTimeout {
		return queue.DefaultTimeout
	}
	return d
}

// RegisterJobs registers the queues and binds every fixed job type to its
// handler.
func RegisterJobs(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	log = log.With().Str("component", "jobs").Logger()
	manager := container.QueueManager

	for _, q := range []queue.QueueConfig{
		{Name: queue.QueueFixtures, Concurrency: 1, Timeout: refreshTimeout(container)},
		{Name: queue.QueueMatches, Concurrency: 1},
		{Name: queue.QueueMaintenance, Concurrency: 1},
	} {
		if err := manager.Register(q); err != nil {
			return fmt.Errorf("failed to register queue %s: %w", q.Name, err)
		}
	}

	handlers := []struct {
		queue   string
		jobType queue.JobType
		handler queue.HandlerFunc
	}{
		{queue.QueueFixtures, queue.JobTypeFixturesRefresh, refreshHandler(container.Fixtures, log)},
		{queue.QueueMatches, queue.JobTypeMatchesIngest, ingestHandler(container, log)},
		{queue.QueueMaintenance, queue.JobTypeCacheCleanup, func(ctx context.Context, _ *queue.Job) error {
			return container.CacheCleanup.Run(ctx)
		}},
	}
	for _, h := range handlers {
		if err := manager.Handle(h.queue, h.jobType, h.handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", h.jobType, err)
		}
	}

	log.Info().Int("job_types", len(handlers)).Msg("Jobs registered")
	return nil
}

// refreshHandler runs a snapshot refresh. A refresh already in flight
// produces the same snapshot, so it counts as success.
func refreshHandler(svc *fixtures.Service, log zerolog.Logger) queue.HandlerFunc {
	return func(ctx context.Context, job *queue.Job) error {
		err := svc.Refresh(ctx)
		if errors.Is(err, fixtures.ErrRefreshInProgress) {
			log.Debug().Str("job_id", job.ID).Msg("Refresh already running, job satisfied")
			return nil
		}
		return err
	}
}

// ingestHandler feeds the cached snapshot to reconciliation. It runs when
// another instance refreshed the shared cache.
func ingestHandler(container *Container, log zerolog.Logger) queue.HandlerFunc {
	return func(ctx context.Context, job *queue.Job) error {
		snap, err := container.Fixtures.Peek(ctx)
		if errors.Is(err, cache.ErrMiss) {
			log.Debug().Str("job_id", job.ID).Msg("No snapshot to ingest")
			return nil
		}
		if err != nil {
			return err
		}

		pending := container.Reconcile.EnqueueFixtures(snap.Fixtures)
		log.Debug().
			Str("job_id", job.ID).
			Int("fixtures", len(snap.Fixtures)).
			Int("pending", pending).
			Msg("Snapshot queued for reconciliation")
		return nil
	}
}

// scheduleTasks registers the periodic tasks. Refresh and cleanup are
// enqueued under a fixed job id; reconciliation ticks inline.
func scheduleTasks(container *Container) error {
	cfg := container.Config
	enqueue := func(queueName string, jobType queue.JobType, jobID string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := container.QueueManager.Enqueue(ctx, queueName, jobType, nil, queue.Options{JobID: jobID})
			if errors.Is(err, queue.ErrDuplicateJob) {
				return nil
			}
			return err
		}
	}

	if err := container.Scheduler.Schedule(TaskFixturesRefresh, cfg.FixturesRefreshInterval,
		enqueue(queue.QueueFixtures, queue.JobTypeFixturesRefresh, TaskFixturesRefresh)); err != nil {
		return err
	}
	if err := container.Scheduler.Schedule(TaskMatchesReconcile, cfg.ReconcileInterval,
		container.Reconcile.Tick); err != nil {
		return err
	}
	return container.Scheduler.Schedule(TaskCacheCleanup, cfg.CacheCleanupInterval,
		enqueue(queue.QueueMaintenance, queue.JobTypeCacheCleanup, TaskCacheCleanup))
}
