// Package queue runs fixed job types on named queues with bounded worker
// concurrency, per-attempt timeouts and exponential-backoff retries.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/metrics"
)

// Manager owns every queue and its workers.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queue
	started bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager creates a manager. m may be nil.
func NewManager(m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		queues:  make(map[string]*queue),
		stop:    make(chan struct{}),
		metrics: m,
		log:     log.With().Str("component", "queue_manager").Logger(),
		now:     time.Now,
	}
}

// Register adds a queue. Registering after Start launches its workers
// immediately.
func (m *Manager) Register(cfg QueueConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if _, exists := m.queues[cfg.Name]; exists {
		return fmt.Errorf("queue %s already registered", cfg.Name)
	}

	q := newQueue(cfg, m)
	m.queues[cfg.Name] = q
	if m.started {
		m.startWorkers(q)
	}

	m.log.Info().
		Str("queue", cfg.Name).
		Int("concurrency", cfg.Concurrency).
		Int("attempts", cfg.Attempts).
		Dur("backoff", cfg.Backoff).
		Msg("Queue registered")
	return nil
}

// Handle binds the handler for jobType on a queue.
func (m *Manager) Handle(queueName string, jobType JobType, handler HandlerFunc) error {
	if !jobType.IsKnown() {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	m.mu.Lock()
	q, ok := m.queues[queueName]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
	return nil
}

// Enqueue adds a job and returns its handle. With an explicit JobID that is
// still outstanding, the outstanding job is returned with ErrDuplicateJob.
func (m *Manager) Enqueue(ctx context.Context, queueName string, jobType JobType, payload map[string]interface{}, opts Options) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	q, ok := m.queues[queueName]
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		return nil, ErrStopped
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}

	return q.enqueue(jobType, payload, opts)
}

// Status returns counts for every queue.
func (m *Manager) Status() map[string]Counts {
	m.mu.Lock()
	queues := make([]*queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	out := make(map[string]Counts, len(queues))
	for _, q := range queues {
		out[q.cfg.Name] = q.counts()
	}
	return out
}

// Queues lists registered queue names.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches workers for every registered queue.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true
	for _, q := range m.queues {
		m.startWorkers(q)
	}
	m.log.Info().Int("queues", len(m.queues)).Msg("Queue workers started")
}

func (m *Manager) startWorkers(q *queue) {
	for i := 0; i < q.cfg.Concurrency; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			q.work(m.stop)
		}()
	}
}

// Stop stops accepting jobs, cancels pending retries and waits for active
// attempts to finish within their timeout. Waiting jobs are abandoned.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	queues := make([]*queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.cancelTimers()
	}
	m.wg.Wait()
	m.log.Info().Msg("Queue workers stopped")
}

// queue is one named queue: a FIFO of ready jobs plus delayed retries.
type queue struct {
	cfg     QueueConfig
	manager *Manager
	log     zerolog.Logger

	mu          sync.Mutex
	handlers    map[JobType]HandlerFunc
	ready       []*Job
	outstanding map[string]*Job
	timers      map[string]*time.Timer
	active      int
	completed   int
	failed      int

	trigger chan struct{}
}

func newQueue(cfg QueueConfig, m *Manager) *queue {
	return &queue{
		cfg:         cfg,
		manager:     m,
		log:         m.log.With().Str("queue", cfg.Name).Logger(),
		handlers:    make(map[JobType]HandlerFunc),
		outstanding: make(map[string]*Job),
		timers:      make(map[string]*time.Timer),
		trigger:     make(chan struct{}, cfg.Concurrency),
	}
}

func (q *queue) enqueue(jobType JobType, payload map[string]interface{}, opts Options) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.handlers[jobType]; !ok {
		return nil, fmt.Errorf("%w: %s on queue %s", ErrUnknownJobType, jobType, q.cfg.Name)
	}

	now := q.manager.now()
	id := opts.JobID
	if id == "" {
		id = fmt.Sprintf("%s:%d:%s", jobType, now.Unix()/60, uuid.NewString()[:8])
	}

	if existing, ok := q.outstanding[id]; ok {
		return existing, ErrDuplicateJob
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.cfg.Attempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = q.cfg.Backoff
	}

	job := newJob(id, q.cfg.Name, jobType, payload, attempts, backoff, now)
	q.outstanding[id] = job
	q.ready = append(q.ready, job)
	q.notify()

	q.log.Debug().
		Str("job_id", id).
		Str("job_type", string(jobType)).
		Msg("Job enqueued")
	return job, nil
}

// notify wakes one idle worker without blocking.
func (q *queue) notify() {
	select {
	case q.trigger <- struct{}{}:
	default:
		// Trigger already pending
	}
}

// next pops the oldest ready job and marks it active.
func (q *queue) next() (*Job, HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ready) == 0 {
		return nil, nil
	}
	job := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	q.active++
	if len(q.ready) > 0 {
		q.notify()
	}

	job.mu.Lock()
	job.state = StateActive
	job.attempts++
	job.mu.Unlock()

	return job, q.handlers[job.Type]
}

func (q *queue) work(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, handler := q.next()
		if job == nil {
			select {
			case <-stop:
				return
			case <-q.trigger:
			}
			continue
		}
		q.run(job, handler)
	}
}

func (q *queue) run(job *Job, handler HandlerFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := q.execute(ctx, job, handler)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("job timed out after %s: %w", q.cfg.Timeout, err)
	}
	q.finish(job, err, time.Since(start))
}

func (q *queue) execute(ctx context.Context, job *Job, handler HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *queue) finish(job *Job, err error, took time.Duration) {
	jobType := string(job.Type)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--

	job.mu.Lock()
	attempt := job.attempts
	job.lastErr = err

	if err == nil {
		job.state = StateCompleted
		job.mu.Unlock()
		q.completed++
		delete(q.outstanding, job.ID)
		close(job.done)
		q.manager.metrics.JobFinished(q.cfg.Name, jobType, metrics.OutcomeSuccess)
		q.log.Debug().
			Str("job_id", job.ID).
			Str("job_type", jobType).
			Int("attempt", attempt).
			Dur("duration", took).
			Msg("Job completed")
		return
	}

	if attempt < job.MaxAttempts && !q.manager.isStopped() {
		delay := backoffFor(job.Backoff, attempt)
		job.state = StateDelayed
		job.availableAt = q.manager.now().Add(delay)
		job.mu.Unlock()

		q.timers[job.ID] = time.AfterFunc(delay, func() { q.release(job) })
		q.manager.metrics.JobFinished(q.cfg.Name, jobType, metrics.OutcomeRetry)
		q.log.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("job_type", jobType).
			Int("attempt", attempt).
			Int("max_attempts", job.MaxAttempts).
			Dur("retry_in", delay).
			Msg("Job failed, retrying")
		return
	}

	job.state = StateFailed
	job.mu.Unlock()
	q.failed++
	delete(q.outstanding, job.ID)
	close(job.done)
	q.manager.metrics.JobFinished(q.cfg.Name, jobType, metrics.OutcomeFailure)
	q.log.Error().
		Err(err).
		Str("job_id", job.ID).
		Str("job_type", jobType).
		Int("attempts", attempt).
		Msg("Job failed permanently")
}

// release moves a delayed job back to the ready list.
func (q *queue) release(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.timers[job.ID]; !ok {
		return
	}
	delete(q.timers, job.ID)

	job.mu.Lock()
	job.state = StateWaiting
	job.mu.Unlock()

	q.ready = append(q.ready, job)
	q.notify()
}

func (q *queue) cancelTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *queue) counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Counts{
		Waiting:   len(q.ready),
		Delayed:   len(q.timers),
		Active:    q.active,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
