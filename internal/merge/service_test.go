package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/fixtures"
)

// MockLiveSource is a mock fixtures cache
type MockLiveSource struct {
	mock.Mock
}

func (m *MockLiveSource) Get(ctx context.Context) (fixtures.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(fixtures.Snapshot), args.Error(1)
}

// MockMatchLister is a mock match repository
type MockMatchLister struct {
	mock.Mock
}

func (m *MockMatchLister) ListByStatus(ctx context.Context, statuses []domain.MatchStatus, limit int) ([]domain.MatchRecord, error) {
	args := m.Called(ctx, statuses, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MatchRecord), args.Error(1)
}

var (
	upcomingStatuses  = []domain.MatchStatus{domain.StatusUpcoming}
	completedStatuses = []domain.MatchStatus{domain.StatusCompleted, domain.StatusSettled}
)

func TestService_List(t *testing.T) {
	live := new(MockLiveSource)
	live.On("Get", mock.Anything).Return(fixtures.Snapshot{
		Confirmed: true,
		FetchedAt: base,
		Fixtures: []domain.NormalizedFixture{
			{ID: "A", BEventID: "A", Status: domain.StatusLive, IsLive: true},
		},
	}, nil)

	lister := new(MockMatchLister)
	lister.On("ListByStatus", mock.Anything, upcomingStatuses, SourceLimit).Return([]domain.MatchRecord{
		{ExternalID: "A", BEventID: "A", Status: domain.StatusUpcoming, UpdatedAt: base},
		{ExternalID: "B", BEventID: "B", Status: domain.StatusUpcoming, UpdatedAt: base},
	}, nil)
	lister.On("ListByStatus", mock.Anything, completedStatuses, SourceLimit).Return([]domain.MatchRecord{
		{ExternalID: "C", BEventID: "C", Status: domain.StatusCompleted, UpdatedAt: base.Add(-time.Hour)},
	}, nil)

	out := NewService(live, lister, zerolog.Nop()).List(context.Background(), Options{})

	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].Key)
	assert.Equal(t, domain.StatusLive, out[0].Status)
	assert.Equal(t, SourceLive, out[0].Source)
	assert.Equal(t, base, out[0].UpdatedAt)
	assert.Equal(t, "B", out[1].Key)
	assert.Equal(t, "C", out[2].Key)

	live.AssertExpectations(t)
	lister.AssertExpectations(t)
}

func TestService_List_DegradesOnSourceFailure(t *testing.T) {
	live := new(MockLiveSource)
	live.On("Get", mock.Anything).Return(fixtures.Snapshot{}, errors.New("redis down"))

	lister := new(MockMatchLister)
	lister.On("ListByStatus", mock.Anything, upcomingStatuses, SourceLimit).Return(nil, errors.New("db locked"))
	lister.On("ListByStatus", mock.Anything, completedStatuses, SourceLimit).Return([]domain.MatchRecord{
		{ExternalID: "C", BEventID: "C", Status: domain.StatusCompleted},
	}, nil)

	out := NewService(live, lister, zerolog.Nop()).List(context.Background(), Options{})

	require.Len(t, out, 1)
	assert.Equal(t, "C", out[0].Key)
}
