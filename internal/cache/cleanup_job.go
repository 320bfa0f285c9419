package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// CleanupJob removes expired entries from stores that do not expire keys
// on their own.
type CleanupJob struct {
	stores map[string]Expirer
	log    zerolog.Logger
}

// NewCleanupJob creates a cleanup job over the named stores.
func NewCleanupJob(stores map[string]Expirer, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		stores: stores,
		log:    log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run deletes expired entries from every store. A failing store does not
// stop the others; the first error is returned.
func (j *CleanupJob) Run(ctx context.Context) error {
	var firstErr error
	var totalDeleted int64

	for name, store := range j.stores {
		deleted, err := store.DeleteExpired(ctx)
		if err != nil {
			j.log.Error().Err(err).Str("store", name).Msg("Failed to delete expired cache entries")
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %s: %w", name, err)
			}
			continue
		}
		if deleted > 0 {
			j.log.Info().
				Str("store", name).
				Int64("deleted", deleted).
				Msg("Cleaned up expired cache entries")
			totalDeleted += deleted
		}
	}

	if totalDeleted > 0 {
		j.log.Info().Int64("total_deleted", totalDeleted).Msg("Cache cleanup completed")
	}
	return firstErr
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
