package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/matchsync/internal/domain"
)

// MaxRetries is how many failed attempts an entry gets before it is dropped.
const MaxRetries = 3

// SyncEntry is one pending reconciliation.
type SyncEntry struct {
	Payload    domain.NormalizedFixture
	EnqueuedAt time.Time
	RetryCount int
}

// SyncQueue holds at most one pending entry per external id.
type SyncQueue struct {
	mu      sync.Mutex
	entries map[string]*SyncEntry
	now     func() time.Time
}

// NewSyncQueue creates an empty queue.
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{
		entries: make(map[string]*SyncEntry),
		now:     time.Now,
	}
}

// Put enqueues f. A pending entry for the same id takes the newer payload
// and keeps its retry count.
func (q *SyncQueue) Put(f domain.NormalizedFixture) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[f.ID]; ok {
		e.Payload = f
		return
	}
	q.entries[f.ID] = &SyncEntry{Payload: f, EnqueuedAt: q.now()}
}

// Drain removes and returns every pending entry, oldest first.
func (q *SyncQueue) Drain() []SyncEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]SyncEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	q.entries = make(map[string]*SyncEntry)

	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].Payload.ID < out[j].Payload.ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Fail records a failed attempt for a drained entry and re-queues it. It
// returns true when the entry has used up its retries and was dropped. If a
// newer payload arrived meanwhile, that payload is kept with the failure
// counted against it; a dropped entry leaves a newer payload untouched.
func (q *SyncQueue) Fail(e SyncEntry) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	retries := e.RetryCount + 1
	id := e.Payload.ID
	if retries >= MaxRetries {
		return true
	}

	if pending, ok := q.entries[id]; ok {
		if pending.RetryCount < retries {
			pending.RetryCount = retries
		}
		return false
	}
	e.RetryCount = retries
	q.entries[id] = &e
	return false
}

// Len returns the number of pending entries.
func (q *SyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
