package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// JobType represents the type of job. The set is fixed at compile time.
type JobType string

const (
	// JobTypeFixturesRefresh refreshes the fixtures snapshot from upstream.
	JobTypeFixturesRefresh JobType = "fixtures.refresh"
	// JobTypeMatchesIngest feeds the current snapshot to reconciliation.
	JobTypeMatchesIngest JobType = "matches.ingest"
	// JobTypeCacheCleanup removes expired cache entries.
	JobTypeCacheCleanup JobType = "cache.cleanup"
)

// Queue names, one per job family.
const (
	QueueFixtures    = "fixtures"
	QueueMatches     = "matches"
	QueueMaintenance = "maintenance"
)

// Default retry policy.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
	DefaultTimeout  = 30 * time.Second
)

var (
	ErrUnknownQueue   = errors.New("unknown queue")
	ErrUnknownJobType = errors.New("no handler for job type")
	ErrDuplicateJob   = errors.New("job with this id is already outstanding")
	ErrStopped        = errors.New("queue manager stopped")
)

// IsKnown reports whether t is one of the fixed job types.
func (t JobType) IsKnown() bool {
	switch t {
	case JobTypeFixturesRefresh, JobTypeMatchesIngest, JobTypeCacheCleanup:
		return true
	}
	return false
}

// JobState is the lifecycle position of a job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// HandlerFunc executes one job attempt.
type HandlerFunc func(ctx context.Context, job *Job) error

// QueueConfig configures one queue.
type QueueConfig struct {
	Name        string
	Concurrency int
	Attempts    int           // default attempts per job (3 when zero)
	Backoff     time.Duration // first retry delay, doubled per attempt (2s when zero)
	Timeout     time.Duration // per-attempt timeout (30s when zero)
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Options override the queue defaults for one job.
type Options struct {
	// JobID is an idempotency key. While a job with the same id is waiting,
	// delayed or active, enqueueing again returns the outstanding job.
	JobID    string
	Attempts int
	Backoff  time.Duration
}

// Counts is the per-queue status snapshot.
type Counts struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Job represents a queued job. It doubles as the handle returned by Enqueue.
type Job struct {
	ID          string
	Queue       string
	Type        JobType
	Payload     map[string]interface{}
	CreatedAt   time.Time
	MaxAttempts int
	Backoff     time.Duration

	mu          sync.Mutex
	state       JobState
	attempts    int
	availableAt time.Time
	lastErr     error
	done        chan struct{}
}

func newJob(id, queue string, jobType JobType, payload map[string]interface{}, attempts int, backoff time.Duration, now time.Time) *Job {
	return &Job{
		ID:          id,
		Queue:       queue,
		Type:        jobType,
		Payload:     payload,
		CreatedAt:   now,
		MaxAttempts: attempts,
		Backoff:     backoff,
		state:       StateWaiting,
		availableAt: now,
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Attempts returns how many attempts have started.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Err returns the error of the most recent failed attempt.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Done is closed once the job completed or failed for good.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns nil on completion or the
// last attempt's error on failure.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		if j.State() == StateFailed {
			return j.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PayloadString reads a string payload field.
func (j *Job) PayloadString(key string) string {
	if v, ok := j.Payload[key].(string); ok {
		return v
	}
	return ""
}

// backoffFor returns the delay before the retry that follows attempt n.
func backoffFor(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<uint(attempt-1))
}
