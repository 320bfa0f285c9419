// Package reconcile aligns stored matches with upstream identifiers without
// ever leaving a bet pointing at a deleted or missing match.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/events"
	"github.com/aristath/matchsync/internal/matches"
	"github.com/aristath/matchsync/internal/metrics"
	"github.com/aristath/matchsync/internal/store"
)

// DefaultSweepEvery is how many ticks pass between placeholder sweeps.
const DefaultSweepEvery = 5

// FixtureSource returns the current upstream fixtures for the sweep.
type FixtureSource interface {
	CurrentFixtures(ctx context.Context) ([]domain.NormalizedFixture, error)
}

// FixtureSourceFunc adapts a function to FixtureSource.
type FixtureSourceFunc func(ctx context.Context) ([]domain.NormalizedFixture, error)

// CurrentFixtures calls f.
func (f FixtureSourceFunc) CurrentFixtures(ctx context.Context) ([]domain.NormalizedFixture, error) {
	return f(ctx)
}

// Config configures the Service.
type Config struct {
	PlaceholderPrefixes []string
	SweepEvery          int
	InstanceID          string
}

// Deps are the collaborators of the Service. Source, Bus and Metrics are
// optional; without a Source the sweep is skipped.
type Deps struct {
	Repo    *matches.Repository
	Source  FixtureSource
	Bus     events.Bus
	Metrics *metrics.Metrics
}

// TickResult summarizes one tick.
type TickResult struct {
	Processed int
	Changed   int
	Failed    int
	Dropped   int
	Swept     bool
}

// Service drains the sync queue on every tick.
type Service struct {
	cfg     Config
	repo    *matches.Repository
	queue   *SyncQueue
	source  FixtureSource
	bus     events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger

	ticks   atomic.Int64
	running atomic.Bool
}

// NewService creates the reconciliation service.
func NewService(cfg Config, deps Deps, log zerolog.Logger) *Service {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	return &Service{
		cfg:     cfg,
		repo:    deps.Repo,
		queue:   NewSyncQueue(),
		source:  deps.Source,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		log:     log.With().Str("component", "match_sync").Logger(),
	}
}

// EnqueueFixtures queues fixtures for the next tick and returns the number
// of pending entries.
func (s *Service) EnqueueFixtures(fixtures []domain.NormalizedFixture) int {
	for _, f := range fixtures {
		s.queue.Put(f)
	}
	n := s.queue.Len()
	s.metrics.SetSyncQueueSize(n)
	return n
}

// Pending returns the number of queued entries.
func (s *Service) Pending() int {
	return s.queue.Len()
}

// Tick drains the queue, reconciles every entry and, every SweepEvery
// ticks, sweeps placeholder records. Overlapping ticks are skipped.
func (s *Service) Tick(ctx context.Context) error {
	_, err := s.tick(ctx)
	return err
}

func (s *Service) tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("Previous tick still running, skipping")
		return res, nil
	}
	defer s.running.Store(false)

	n := s.ticks.Add(1)
	for _, entry := range s.queue.Drain() {
		res.Processed++
		changed, err := s.reconcile(ctx, entry.Payload)
		if err == nil {
			s.metrics.ReconcileEntry(metrics.OutcomeSuccess)
			if changed {
				res.Changed++
			}
			continue
		}

		res.Failed++
		if s.queue.Fail(entry) {
			res.Dropped++
			s.metrics.ReconcileEntry(metrics.OutcomeDropped)
			s.log.Error().
				Err(err).
				Str("external_id", entry.Payload.ID).
				Int("retry_count", entry.RetryCount+1).
				Dur("waited", time.Since(entry.EnqueuedAt)).
				Msg("Dropping sync entry after repeated failures")
		} else {
			s.metrics.ReconcileEntry(metrics.OutcomeRetry)
			s.log.Warn().
				Err(err).
				Str("external_id", entry.Payload.ID).
				Int("retry_count", entry.RetryCount+1).
				Msg("Sync entry failed, will retry next tick")
		}
	}

	var sweepErr error
	if n%int64(s.cfg.SweepEvery) == 0 {
		res.Swept = true
		swept, err := s.Sweep(ctx)
		res.Changed += swept
		if err != nil {
			sweepErr = fmt.Errorf("placeholder sweep failed: %w", err)
		}
	}

	s.metrics.SetSyncQueueSize(s.queue.Len())
	if res.Changed > 0 {
		s.publish(ctx, res.Changed)
	}
	if res.Processed > 0 || res.Changed > 0 {
		s.log.Debug().
			Int("processed", res.Processed).
			Int("changed", res.Changed).
			Int("failed", res.Failed).
			Int("dropped", res.Dropped).
			Msg("Reconciliation tick finished")
	}

	if sweepErr != nil {
		return res, sweepErr
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d sync entries failed", res.Failed, res.Processed)
	}
	return res, nil
}

// Reconcile aligns the stored record for one fixture and reports whether
// any row changed.
func (s *Service) Reconcile(ctx context.Context, f domain.NormalizedFixture) (bool, error) {
	return s.reconcile(ctx, f)
}

func (s *Service) reconcile(ctx context.Context, f domain.NormalizedFixture) (bool, error) {
	existing, err := s.findExisting(ctx, f)
	if errors.Is(err, store.ErrNotFound) {
		return s.create(ctx, f)
	}
	if err != nil {
		return false, err
	}

	if existing.ExternalID != f.ID {
		return s.repair(ctx, existing, f)
	}

	changed, err := s.repo.ApplyFixture(ctx, existing, f)
	if err != nil {
		return changed, err
	}

	// A placeholder left behind by an earlier partial repair.
	stale, err := s.repo.FindLiveByAliases(ctx, domain.PlaceholderAliases(f, s.cfg.PlaceholderPrefixes))
	if errors.Is(err, store.ErrNotFound) || (err == nil && stale.ID == existing.ID) {
		return changed, nil
	}
	if err != nil {
		return changed, err
	}
	repaired, err := s.repair(ctx, stale, f)
	return changed || repaired, err
}

// findExisting looks up the live record by external id, then beventId,
// then placeholder aliases.
func (s *Service) findExisting(ctx context.Context, f domain.NormalizedFixture) (domain.MatchRecord, error) {
	m, err := s.repo.FindLive(ctx, f.ID)
	if !errors.Is(err, store.ErrNotFound) {
		return m, err
	}
	m, err = s.repo.FindLiveByBEventID(ctx, f.BEventID)
	if !errors.Is(err, store.ErrNotFound) {
		return m, err
	}
	return s.repo.FindLiveByAliases(ctx, domain.PlaceholderAliases(f, s.cfg.PlaceholderPrefixes))
}

// create inserts a record, falling back to an update when another writer
// inserted the same external id first.
func (s *Service) create(ctx context.Context, f domain.NormalizedFixture) (bool, error) {
	m, err := s.repo.Create(ctx, f)
	if err == nil {
		s.log.Info().
			Str("external_id", f.ID).
			Int64("match_id", m.ID).
			Msg("Created match")
		return true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return false, err
	}

	existing, err := s.repo.FindLive(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("failed to re-read conflicting match %s: %w", f.ID, err)
	}
	return s.repo.ApplyFixture(ctx, existing, f)
}

// repair moves stale to f's identifiers. Without dependents the record is
// relabelled in place. With dependents they are migrated to the correctly
// identified record, which is created if needed, and stale is soft-deleted
// only when every migration succeeded.
func (s *Service) repair(ctx context.Context, stale domain.MatchRecord, f domain.NormalizedFixture) (bool, error) {
	log := s.log.With().
		Int64("match_id", stale.ID).
		Str("stale_id", stale.ExternalID).
		Str("external_id", f.ID).
		Logger()

	dependents, err := s.repo.CountDependents(ctx, stale.ID)
	if err != nil {
		return false, err
	}

	target, err := s.repo.FindLive(ctx, f.ID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		if dependents == 0 {
			if err := s.repo.Relabel(ctx, stale, f); err != nil {
				return false, err
			}
			log.Info().Msg("Corrected match identifiers in place")
			return true, nil
		}
		target, err = s.repo.Create(ctx, f)
		if errors.Is(err, store.ErrConflict) {
			target, err = s.repo.FindLive(ctx, f.ID)
		}
		if err != nil {
			return false, err
		}
	default:
		return false, err
	}

	if target.ID == stale.ID {
		return s.repo.ApplyFixture(ctx, target, f)
	}
	if _, err := s.repo.ApplyFixture(ctx, target, f); err != nil {
		return false, err
	}

	res, err := s.repo.MigrateDependents(ctx, stale.ID, target.ID)
	if res.Migrated > 0 {
		s.metrics.BetsMigrated(res.Migrated)
	}
	if err != nil {
		return true, err
	}
	if res.Failed > 0 {
		log.Warn().
			Int("migrated", res.Migrated).
			Int("failed", res.Failed).
			Msg("Dependent migration incomplete, keeping stale match")
		return true, fmt.Errorf("migrated %d of %d dependents of match %d", res.Migrated, res.Migrated+res.Failed, stale.ID)
	}

	remark := fmt.Sprintf("superseded by match %d", target.ID)
	if err := s.repo.SoftDelete(ctx, stale.ID, remark); err != nil {
		return true, err
	}
	log.Info().
		Int64("new_match_id", target.ID).
		Int("migrated", res.Migrated).
		Msg("Superseded stale match")
	return true, nil
}

// Sweep repairs every live placeholder record that the current fixtures can
// resolve, independent of the queue. It returns the number of repaired
// records.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s.source == nil || len(s.cfg.PlaceholderPrefixes) == 0 {
		return 0, nil
	}

	placeholders, err := s.repo.ListPlaceholders(ctx, s.cfg.PlaceholderPrefixes)
	if err != nil {
		return 0, err
	}
	if len(placeholders) == 0 {
		return 0, nil
	}

	fixtures, err := s.source.CurrentFixtures(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load current fixtures: %w", err)
	}

	byAlias := make(map[string]domain.NormalizedFixture)
	for _, f := range fixtures {
		if domain.IsPlaceholder(f.ID, s.cfg.PlaceholderPrefixes) {
			continue
		}
		for _, alias := range domain.PlaceholderAliases(f, s.cfg.PlaceholderPrefixes) {
			if _, taken := byAlias[alias]; !taken {
				byAlias[alias] = f
			}
		}
	}

	repaired := 0
	var errs []error
	for _, m := range placeholders {
		f, ok := byAlias[m.ExternalID]
		if !ok {
			continue
		}
		changed, err := s.repair(ctx, m, f)
		if changed {
			repaired++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Debug().
		Int("placeholders", len(placeholders)).
		Int("repaired", repaired).
		Msg("Placeholder sweep finished")
	return repaired, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, count int) {
	if s.bus == nil {
		return
	}
	env := events.NewEnvelope(s.cfg.InstanceID).WithCount(count)
	if err := s.bus.Publish(ctx, events.MatchesSynced, env); err != nil {
		s.log.Warn().Err(err).Str("channel", events.MatchesSynced).Msg("Failed to publish sync")
	}
}
