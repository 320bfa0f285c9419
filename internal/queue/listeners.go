package queue

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/events"
)

// RegisterListeners subscribes to bus channels that enqueue jobs:
//   - fixtures:refresh-requested -> fixtures.refresh, deduplicated as refresh:<eventId|all>
//   - fixtures:updated from another instance -> matches.ingest
//
// The returned function unsubscribes all listeners.
func RegisterListeners(bus events.Bus, manager *Manager, instanceID string, log zerolog.Logger) (func(), error) {
	log = log.With().Str("component", "event_listeners").Logger()

	enqueue := func(ctx context.Context, channel, queueName string, jobType JobType, payload map[string]interface{}, jobID string) {
		job, err := manager.Enqueue(ctx, queueName, jobType, payload, Options{JobID: jobID})
		switch {
		case errors.Is(err, ErrDuplicateJob):
			log.Debug().
				Str("event_type", channel).
				Str("job_id", job.ID).
				Msg("Job already outstanding")
		case err != nil:
			log.Error().
				Err(err).
				Str("event_type", channel).
				Str("job_type", string(jobType)).
				Str("job_id", jobID).
				Msg("Failed to enqueue job from event")
		}
	}

	var unsubscribers []func()
	unsubscribeAll := func() {
		for _, u := range unsubscribers {
			u()
		}
	}

	unsub, err := bus.Subscribe(events.FixturesRefreshRequested, func(ctx context.Context, env events.Envelope) {
		target := env.EventID
		if target == "" {
			target = "all"
		}
		enqueue(ctx, events.FixturesRefreshRequested, QueueFixtures, JobTypeFixturesRefresh,
			map[string]interface{}{"eventId": env.EventID, "requestedBy": env.Source},
			"refresh:"+target)
	})
	if err != nil {
		return nil, err
	}
	unsubscribers = append(unsubscribers, unsub)

	unsub, err = bus.Subscribe(events.FixturesUpdated, func(ctx context.Context, env events.Envelope) {
		// Our own refreshes already feed reconciliation directly.
		if env.Source == instanceID {
			return
		}
		enqueue(ctx, events.FixturesUpdated, QueueMatches, JobTypeMatchesIngest,
			map[string]interface{}{"source": env.Source},
			"ingest:"+env.Source)
	})
	if err != nil {
		unsubscribeAll()
		return nil, err
	}
	unsubscribers = append(unsubscribers, unsub)

	return unsubscribeAll, nil
}
