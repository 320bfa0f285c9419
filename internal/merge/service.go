package merge

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/fixtures"
)

// SourceLimit caps how many rows each store query returns.
const SourceLimit = 500

// LiveSource serves the cached fixtures snapshot.
type LiveSource interface {
	Get(ctx context.Context) (fixtures.Snapshot, error)
}

// MatchLister queries stored matches by status.
type MatchLister interface {
	ListByStatus(ctx context.Context, statuses []domain.MatchStatus, limit int) ([]domain.MatchRecord, error)
}

// Service fetches the three sources concurrently and merges them.
type Service struct {
	live    LiveSource
	matches MatchLister
	log     zerolog.Logger
}

// NewService creates a merge service.
func NewService(live LiveSource, matches MatchLister, log zerolog.Logger) *Service {
	return &Service{
		live:    live,
		matches: matches,
		log:     log.With().Str("component", "fixture_merge").Logger(),
	}
}

// List returns the merged fixture list. A failing source contributes no
// rows; List itself never fails on a source error.
func (s *Service) List(ctx context.Context, opts Options) []domain.FixtureView {
	var live, upcoming, completed []domain.FixtureView

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		live = s.liveRows(gctx)
		return nil
	})
	g.Go(func() error {
		upcoming = s.storedRows(gctx, SourceUpcoming, domain.StatusUpcoming)
		return nil
	})
	g.Go(func() error {
		completed = s.storedRows(gctx, SourceCompleted, domain.StatusCompleted, domain.StatusSettled)
		return nil
	})
	_ = g.Wait()

	return Merge([][]domain.FixtureView{live, upcoming, completed}, opts, s.log)
}

func (s *Service) liveRows(ctx context.Context) []domain.FixtureView {
	snap, err := s.live.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("source", SourceLive).Msg("Source unavailable, merging without it")
		return nil
	}
	updatedAt := snap.FetchedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	rows := make([]domain.FixtureView, 0, len(snap.Fixtures))
	for _, f := range snap.Fixtures {
		rows = append(rows, f.View(SourceLive, updatedAt))
	}
	return rows
}

func (s *Service) storedRows(ctx context.Context, source string, statuses ...domain.MatchStatus) []domain.FixtureView {
	records, err := s.matches.ListByStatus(ctx, statuses, SourceLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("source", source).Msg("Source unavailable, merging without it")
		return nil
	}
	rows := make([]domain.FixtureView, 0, len(records))
	for _, m := range records {
		rows = append(rows, m.View(source))
	}
	return rows
}
