// Package fixtures keeps the fixtures snapshot in the cache fresh.
//
// A refresh either replaces the whole snapshot (including with a confirmed
// empty list) or leaves it untouched. Readers never see an empty list caused
// by an upstream error.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/cache"
	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/events"
	"github.com/aristath/matchsync/internal/metrics"
)

// ErrRefreshInProgress is returned when a refresh is already running. The
// overlapping call is skipped, not queued.
var ErrRefreshInProgress = errors.New("fixtures refresh already in progress")

// DefaultKey is the cache key of the fixtures snapshot.
const DefaultKey = "fixtures:snapshot"

// Fetcher returns the raw provider records.
type Fetcher interface {
	FetchFixtures(ctx context.Context) ([]domain.UpstreamRecord, error)
}

// Sink receives every successfully refreshed fixture set.
type Sink interface {
	EnqueueFixtures(fixtures []domain.NormalizedFixture) int
}

// Snapshot is the cached fixtures value. Confirmed is false only when the
// cache has never been filled, which distinguishes it from a provider that
// confirmed an empty list.
type Snapshot struct {
	Fixtures  []domain.NormalizedFixture `json:"fixtures" msgpack:"fixtures"`
	FetchedAt time.Time                  `json:"fetchedAt" msgpack:"fetchedAt"`
	Confirmed bool                       `json:"confirmed" msgpack:"confirmed"`
}

// Config configures the Service.
type Config struct {
	Key        string
	TTL        time.Duration
	InstanceID string
	LiveWindow time.Duration // how long after kick-off an unlabelled fixture stays live
}

// Deps are the collaborators of the Service. Bus, Sink and Metrics are
// optional.
type Deps struct {
	Store   cache.Store
	Codec   cache.Codec
	Fetcher Fetcher
	Bus     events.Bus
	Sink    Sink
	Metrics *metrics.Metrics
}

type inflight struct {
	done chan struct{}
	err  error
}

// Service owns the fixtures snapshot.
type Service struct {
	cfg     Config
	store   cache.Store
	codec   cache.Codec
	fetcher Fetcher
	bus     events.Bus
	sink    Sink
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	current atomic.Pointer[inflight]
}

// NewService creates the fixtures service.
func NewService(cfg Config, deps Deps, log zerolog.Logger) *Service {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	codec := deps.Codec
	if codec == nil {
		codec = cache.JSONCodec{}
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		codec:   codec,
		fetcher: deps.Fetcher,
		bus:     deps.Bus,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		log:     log.With().Str("component", "fixtures_service").Logger(),
		now:     time.Now,
	}
}

// Start performs the cold fill. It returns once the first fetch has either
// written a snapshot or failed.
func (s *Service) Start(ctx context.Context) error {
	if err := s.fill(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Cold fill failed, snapshot stays empty until the next refresh")
		return err
	}
	s.log.Info().Msg("Fixtures cache warmed")
	return nil
}

// Refresh fetches the provider list and replaces the snapshot. At most one
// refresh runs at a time; an overlapping call returns ErrRefreshInProgress.
// On failure the snapshot and its TTL are left exactly as they were.
func (s *Service) Refresh(ctx context.Context) error {
	run := &inflight{done: make(chan struct{})}
	if !s.current.CompareAndSwap(nil, run) {
		s.metrics.CacheRefresh(metrics.OutcomeSkipped)
		s.log.Debug().Msg("Refresh already in progress, skipping")
		return ErrRefreshInProgress
	}
	defer func() {
		s.current.Store(nil)
		close(run.done)
	}()

	run.err = s.refresh(ctx)
	if run.err != nil {
		s.metrics.CacheRefresh(metrics.OutcomeFailure)
		s.log.Warn().Err(run.err).Msg("Fixtures refresh failed, keeping previous snapshot")
		return run.err
	}
	s.metrics.CacheRefresh(metrics.OutcomeSuccess)
	return nil
}

func (s *Service) refresh(ctx context.Context) error {
	start := time.Now()

	records, err := s.fetcher.FetchFixtures(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch fixtures: %w", err)
	}

	now := s.now()
	fixtures, skipped := domain.Normalizer{LiveWindow: s.cfg.LiveWindow}.NormalizeAll(records, now)
	if skipped > 0 {
		s.log.Warn().
			Int("skipped", skipped).
			Int("received", len(records)).
			Msg("Skipped upstream records without an identifier")
	}

	snap := Snapshot{Fixtures: fixtures, FetchedAt: now.UTC(), Confirmed: true}
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.store.Set(ctx, s.cfg.Key, data, s.cfg.TTL); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.log.Info().
		Int("fixtures", len(fixtures)).
		Dur("duration", time.Since(start)).
		Msg("Fixtures snapshot refreshed")

	if s.sink != nil {
		s.sink.EnqueueFixtures(fixtures)
	}
	s.publish(ctx, len(fixtures))
	return nil
}

func (s *Service) publish(ctx context.Context, count int) {
	if s.bus == nil {
		return
	}
	env := events.NewEnvelope(s.cfg.InstanceID).WithCount(count)
	if err := s.bus.Publish(ctx, events.FixturesUpdated, env); err != nil {
		s.log.Warn().Err(err).Str("channel", events.FixturesUpdated).Msg("Failed to publish update")
	}
}

// fill runs a refresh, or waits for the one already in flight.
func (s *Service) fill(ctx context.Context) error {
	for {
		if run := s.current.Load(); run != nil {
			select {
			case <-run.done:
				return run.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := s.Refresh(ctx)
		if !errors.Is(err, ErrRefreshInProgress) {
			return err
		}
	}
}

// Get returns the current snapshot without calling the provider. On a cold
// cache it triggers, or waits for, a fill and reads again. If that fill
// fails the result is an unconfirmed empty snapshot, not an error.
func (s *Service) Get(ctx context.Context) (Snapshot, error) {
	snap, err := s.read(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return Snapshot{Fixtures: []domain.NormalizedFixture{}}, err
	}

	if err := s.fill(ctx); err != nil {
		s.log.Debug().Err(err).Msg("Cold read could not fill the cache")
	}

	snap, err = s.read(ctx)
	if errors.Is(err, cache.ErrMiss) {
		return Snapshot{Fixtures: []domain.NormalizedFixture{}}, nil
	}
	return snap, err
}

// Peek returns the cached snapshot, or ErrMiss, without filling.
func (s *Service) Peek(ctx context.Context) (Snapshot, error) {
	return s.read(ctx)
}

func (s *Service) read(ctx context.Context) (Snapshot, error) {
	data, err := s.store.Get(ctx, s.cfg.Key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return Snapshot{}, cache.ErrMiss
		}
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		s.log.Warn().Err(err).Str("key", s.cfg.Key).Msg("Unreadable snapshot, treating as miss")
		return Snapshot{}, cache.ErrMiss
	}
	if snap.Fixtures == nil {
		snap.Fixtures = []domain.NormalizedFixture{}
	}
	return snap, nil
}

// TTL returns the remaining lifetime of the snapshot.
func (s *Service) TTL(ctx context.Context) (time.Duration, error) {
	return s.store.TTL(ctx, s.cfg.Key)
}

// Refreshing reports whether a refresh is currently running.
func (s *Service) Refreshing() bool {
	return s.current.Load() != nil
}
