// Package scheduler fires named periodic tasks, each on its own timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownTask is returned by RunNow for a name that is not scheduled.
var ErrUnknownTask = errors.New("unknown task")

// Handler is one invocation of a task.
type Handler func(ctx context.Context) error

type task struct {
	id      cron.EntryID
	cadence time.Duration
	handler Handler
}

// Scheduler manages named background tasks
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	running bool
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{log: l}),
		),
		log:   l,
		tasks: make(map[string]*task),
	}
}

// Schedule registers handler under name and starts it immediately. The first
// invocation fires one cadence from now. Re-registering a name replaces the
// previous task; overlapping invocations of the same task are skipped.
func (s *Scheduler) Schedule(name string, cadence time.Duration, handler Handler) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if cadence <= 0 {
		return fmt.Errorf("task %s: cadence must be positive, got %s", name, cadence)
	}
	if handler == nil {
		return fmt.Errorf("task %s: handler is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[name]; ok {
		s.cron.Remove(prev.id)
		delete(s.tasks, name)
	}

	job := cron.NewChain(
		cron.SkipIfStillRunning(cronLogger{log: s.log}),
	).Then(cron.FuncJob(func() {
		_ = s.invoke(name, handler)
	}))

	id := s.cron.Schedule(cron.Every(cadence), job)
	s.tasks[name] = &task{id: id, cadence: cadence, handler: handler}

	if !s.running {
		s.cron.Start()
		s.running = true
	}

	s.log.Info().
		Str("task", name).
		Dur("cadence", cadence).
		Msg("Task scheduled")
	return nil
}

// invoke runs one isolated invocation. Errors and panics are logged and
// never stop the schedule.
func (s *Scheduler) invoke(name string, handler Handler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
			s.log.Error().
				Str("task", name).
				Interface("panic", r).
				Msg("Task panicked")
		}
	}()

	s.log.Debug().Str("task", name).Msg("Running task")

	if err = handler(context.Background()); err != nil {
		s.log.Error().
			Err(err).
			Str("task", name).
			Dur("duration", time.Since(start)).
			Msg("Task failed")
		return err
	}

	s.log.Debug().
		Str("task", name).
		Dur("duration", time.Since(start)).
		Msg("Task completed")
	return nil
}

// Stop unschedules name. Stopping an unknown or stopped task is a no-op.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return
	}
	s.cron.Remove(t.id)
	delete(s.tasks, name)
	s.log.Info().Str("task", name).Msg("Task stopped")
}

// StopAll unschedules every task and waits for running invocations to
// return. It is safe to call more than once.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for name, t := range s.tasks {
		s.cron.Remove(t.id)
		delete(s.tasks, name)
	}
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		<-s.cron.Stop().Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// RunNow executes a task immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	s.log.Info().Str("task", name).Msg("Running task immediately")
	return s.invoke(name, t.handler)
}

// Names lists scheduled tasks in alphabetical order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cadence returns the interval of a scheduled task.
func (s *Scheduler) Cadence(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return 0, false
	}
	return t.cadence, true
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
