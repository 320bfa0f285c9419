// Package merge combines the live cache and the stored upcoming and
// completed matches into one ranked, duplicate-free fixture list.
package merge

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/domain"
)

// Source names, in priority order.
const (
	SourceLive      = "live"
	SourceUpcoming  = "upcoming"
	SourceCompleted = "completed"
)

// Options filter and limit the merged list.
type Options struct {
	Status        domain.MatchStatus
	LiveOnly      bool
	UpcomingOnly  bool
	CompletedOnly bool
	Limit         int
}

// Merge walks sources in the given priority order and keeps the first row
// seen for each dedup key. Rows without beventId and bmarketId are logged
// and skipped. The result is filtered, limited, then sorted by status
// priority and most recent update.
func Merge(sources [][]domain.FixtureView, opts Options, log zerolog.Logger) []domain.FixtureView {
	seen := make(map[string]bool)
	merged := make([]domain.FixtureView, 0)

	for _, rows := range sources {
		for _, row := range rows {
			key := row.DedupKey()
			if key == "" {
				log.Warn().
					Str("key", row.Key).
					Str("source", row.Source).
					Msg("Skipping fixture without beventId or bmarketId")
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, row)
		}
	}

	filtered := merged[:0]
	for _, row := range merged {
		if opts.keep(row) {
			filtered = append(filtered, row)
		}
	}

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		pi, pj := filtered[i].Status.Priority(), filtered[j].Status.Priority()
		if pi != pj {
			return pi > pj
		}
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})
	return filtered
}

func (o Options) keep(row domain.FixtureView) bool {
	if o.Status != "" && row.Status != o.Status {
		return false
	}
	if o.LiveOnly && !(row.IsLive || row.Status == domain.StatusLive) {
		return false
	}
	if o.UpcomingOnly && row.Status != domain.StatusUpcoming {
		return false
	}
	if o.CompletedOnly && row.Status != domain.StatusCompleted && row.Status != domain.StatusSettled {
		return false
	}
	return true
}
