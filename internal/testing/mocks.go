package testing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aristath/matchsync/internal/domain"
)

// MockFetcher is a mock upstream fixtures client for testing
type MockFetcher struct {
	mu      sync.RWMutex
	records []domain.UpstreamRecord
	err     error
	gate    chan struct{}
	calls   atomic.Int32
	entered chan struct{}
}

// NewMockFetcher creates a new mock fetcher
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		records: make([]domain.UpstreamRecord, 0),
		entered: make(chan struct{}, 64),
	}
}

// SetRecords sets the records to return
func (m *MockFetcher) SetRecords(records []domain.UpstreamRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// SetError sets the error to return
func (m *MockFetcher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Block makes subsequent fetches wait until Release is called or the
// context is done.
func (m *MockFetcher) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release unblocks waiting fetches.
func (m *MockFetcher) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Entered is signalled each time a fetch starts.
func (m *MockFetcher) Entered() <-chan struct{} {
	return m.entered
}

// Calls returns how many fetches have started.
func (m *MockFetcher) Calls() int {
	return int(m.calls.Load())
}

// FetchFixtures returns the configured records or error
func (m *MockFetcher) FetchFixtures(ctx context.Context) ([]domain.UpstreamRecord, error) {
	m.calls.Add(1)
	select {
	case m.entered <- struct{}{}:
	default:
	}

	m.mu.RLock()
	gate := m.gate
	m.mu.RUnlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.UpstreamRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}
