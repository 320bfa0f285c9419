package fixtures

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/matchsync/internal/cache"
	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/events"
	testingpkg "github.com/aristath/matchsync/internal/testing"
	"github.com/aristath/matchsync/internal/upstream"
)

// MockSink is a mock reconciliation sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) EnqueueFixtures(fixtures []domain.NormalizedFixture) int {
	args := m.Called(fixtures)
	return args.Int(0)
}

var kickoff = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store cache.Store, fetcher Fetcher, ttl time.Duration) *Service {
	t.Helper()
	return NewService(Config{TTL: ttl, InstanceID: "node-1"}, Deps{
		Store:   store,
		Fetcher: fetcher,
	}, zerolog.Nop())
}

func TestStart_ColdFill(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(3, kickoff))
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	require.NoError(t, svc.Start(context.Background()))

	snap, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Confirmed)
	assert.Len(t, snap.Fixtures, 3)
	assert.Equal(t, "34626000", snap.Fixtures[0].ID)

	_, err = svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.Calls(), "reads never call upstream when a snapshot exists")
}

func TestGet_ConfirmedEmptyIsNotCold(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	require.NoError(t, svc.Start(context.Background()))

	snap, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Confirmed)
	assert.Empty(t, snap.Fixtures)
	assert.NotNil(t, snap.Fixtures)
}

func TestGet_ColdWithUpstreamDown(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetError(upstream.ErrUnavailable)
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	assert.ErrorIs(t, svc.Start(context.Background()), upstream.ErrUnavailable)

	snap, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Confirmed, "never filled")
	assert.Empty(t, snap.Fixtures)
	assert.Equal(t, 2, fetcher.Calls(), "a cold read triggers a fill")

	fetcher.SetError(nil)
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(2, kickoff))
	snap, err = svc.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Confirmed)
	assert.Len(t, snap.Fixtures, 2)
}

func TestRefresh_FailureKeepsSnapshotAndTTL(t *testing.T) {
	store := cache.NewMemoryStore()
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(12, kickoff))
	svc := newTestService(t, store, fetcher, 200*time.Second)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	before, err := svc.Get(ctx)
	require.NoError(t, err)
	rawBefore, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	ttlBefore, err := svc.TTL(ctx)
	require.NoError(t, err)

	fetcher.SetError(context.DeadlineExceeded)
	err = svc.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	after, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, after.Fixtures, 12)
	assert.Equal(t, before.FetchedAt, after.FetchedAt)
	assert.Equal(t, before.Fixtures, after.Fixtures)

	rawAfter, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, rawBefore, rawAfter)

	ttl, err := svc.TTL(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 200*time.Second)
	assert.LessOrEqual(t, ttl, ttlBefore, "a failed refresh never resets the TTL")
}

func TestRefresh_SuccessReplacesSnapshot(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(4, kickoff))
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	fetcher.SetRecords([]domain.UpstreamRecord{})
	require.NoError(t, svc.Refresh(ctx))

	snap, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Confirmed)
	assert.Empty(t, snap.Fixtures, "a confirmed empty list replaces the snapshot")
}

func TestRefresh_SkipsOverlappingCall(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(2, kickoff))
	fetcher.Block()
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	first := make(chan error, 1)
	go func() { first <- svc.Refresh(context.Background()) }()
	<-fetcher.Entered()

	assert.True(t, svc.Refreshing())
	assert.ErrorIs(t, svc.Refresh(context.Background()), ErrRefreshInProgress)

	fetcher.Release()
	require.NoError(t, <-first)
	assert.False(t, svc.Refreshing())
	assert.Equal(t, 1, fetcher.Calls())
}

func TestGet_WaitsForInFlightColdFill(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(5, kickoff))
	fetcher.Block()
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	started := make(chan error, 1)
	go func() { started <- svc.Start(context.Background()) }()
	<-fetcher.Entered()

	got := make(chan Snapshot, 1)
	go func() {
		snap, err := svc.Get(context.Background())
		assert.NoError(t, err)
		got <- snap
	}()

	select {
	case <-got:
		t.Fatal("read returned before the cold fill finished")
	case <-time.After(50 * time.Millisecond):
	}

	fetcher.Release()
	require.NoError(t, <-started)

	snap := <-got
	assert.True(t, snap.Confirmed)
	assert.Len(t, snap.Fixtures, 5)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestRefresh_SkipsRecordsWithoutIdentifier(t *testing.T) {
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords([]domain.UpstreamRecord{
		testingpkg.NewUpstreamRecord("34626187", "1000", "live"),
		{"homeTeam": "Nobody", "awayTeam": "Nowhere"},
	})
	svc := newTestService(t, cache.NewMemoryStore(), fetcher, time.Minute)

	require.NoError(t, svc.Start(context.Background()))
	snap, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Fixtures, 1)
	assert.Equal(t, domain.StatusLive, snap.Fixtures[0].Status)
}

func TestRefresh_LiveWindow(t *testing.T) {
	rec := domain.UpstreamRecord{
		"beventId":  "34626187",
		"startTime": kickoff.Add(-90 * time.Minute).Format(time.RFC3339),
	}

	for _, tt := range []struct {
		window time.Duration
		want   domain.MatchStatus
	}{
		{0, domain.StatusLive},
		{time.Hour, domain.StatusCompleted},
	} {
		fetcher := testingpkg.NewMockFetcher()
		fetcher.SetRecords([]domain.UpstreamRecord{rec})
		svc := NewService(Config{LiveWindow: tt.window}, Deps{
			Store:   cache.NewMemoryStore(),
			Fetcher: fetcher,
		}, zerolog.Nop())
		svc.now = func() time.Time { return kickoff }

		require.NoError(t, svc.Refresh(context.Background()))
		snap, err := svc.Peek(context.Background())
		require.NoError(t, err)
		require.Len(t, snap.Fixtures, 1)
		assert.Equal(t, tt.want, snap.Fixtures[0].Status, "window %s", tt.window)
	}
}

func TestRefresh_NotifiesSinkAndBus(t *testing.T) {
	bus := events.NewMemoryBus(zerolog.Nop())
	defer bus.Close()

	updates := make(chan events.Envelope, 1)
	_, err := bus.Subscribe(events.FixturesUpdated, func(_ context.Context, env events.Envelope) {
		updates <- env
	})
	require.NoError(t, err)

	sink := new(MockSink)
	sink.On("EnqueueFixtures", mock.MatchedBy(func(f []domain.NormalizedFixture) bool {
		return len(f) == 3
	})).Return(3).Once()

	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(3, kickoff))
	svc := NewService(Config{InstanceID: "node-1"}, Deps{
		Store:   cache.NewMemoryStore(),
		Fetcher: fetcher,
		Bus:     bus,
		Sink:    sink,
	}, zerolog.Nop())

	require.NoError(t, svc.Refresh(context.Background()))

	select {
	case env := <-updates:
		assert.Equal(t, "node-1", env.Source)
		require.NotNil(t, env.Count)
		assert.Equal(t, 3, *env.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("no fixtures:updated event")
	}
	sink.AssertExpectations(t)
}

func TestRefresh_FailureNotifiesNobody(t *testing.T) {
	sink := new(MockSink)
	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetError(errors.New("connection reset"))
	svc := NewService(Config{}, Deps{
		Store:   cache.NewMemoryStore(),
		Fetcher: fetcher,
		Sink:    sink,
	}, zerolog.Nop())

	require.Error(t, svc.Refresh(context.Background()))
	sink.AssertNotCalled(t, "EnqueueFixtures", mock.Anything)
}

func TestService_RedisMsgpack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	fetcher := testingpkg.NewMockFetcher()
	fetcher.SetRecords(testingpkg.NewUpstreamRecords(12, kickoff))
	svc := NewService(Config{TTL: 200 * time.Second}, Deps{
		Store:   cache.NewRedisStore(client, "matchsync:"),
		Codec:   cache.MsgpackCodec{},
		Fetcher: fetcher,
	}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	mr.FastForward(50 * time.Second)

	fetcher.SetError(upstream.ErrUnavailable)
	require.Error(t, svc.Refresh(ctx))

	snap, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Fixtures, 12)

	ttl, err := svc.TTL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, ttl)
}
