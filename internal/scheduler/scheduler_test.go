package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Validation(t *testing.T) {
	s := New(zerolog.Nop())
	defer s.StopAll()

	noop := func(context.Context) error { return nil }
	assert.Error(t, s.Schedule("", time.Second, noop))
	assert.Error(t, s.Schedule("x", 0, noop))
	assert.Error(t, s.Schedule("x", time.Second, nil))
	assert.Empty(t, s.Names())
}

func TestSchedule_FiresRepeatedly(t *testing.T) {
	s := New(zerolog.Nop())
	defer s.StopAll()

	var calls atomic.Int32
	require.NoError(t, s.Schedule("fixtures:refresh", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestSchedule_FailuresDoNotStopTask(t *testing.T) {
	s := New(zerolog.Nop())
	defer s.StopAll()

	var calls atomic.Int32
	require.NoError(t, s.Schedule("flaky", time.Second, func(context.Context) error {
		if calls.Add(1)%2 == 1 {
			panic("upstream exploded")
		}
		return errors.New("upstream timeout")
	}))

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 50*time.Millisecond)
}

func TestSchedule_ReplacesExistingName(t *testing.T) {
	s := New(zerolog.Nop())
	defer s.StopAll()

	var first, second atomic.Int32
	require.NoError(t, s.Schedule("task", time.Second, func(context.Context) error {
		first.Add(1)
		return nil
	}))
	require.NoError(t, s.Schedule("task", time.Second, func(context.Context) error {
		second.Add(1)
		return nil
	}))

	assert.Equal(t, []string{"task"}, s.Names())
	assert.Eventually(t, func() bool { return second.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestStop_Idempotent(t *testing.T) {
	s := New(zerolog.Nop())

	var calls atomic.Int32
	require.NoError(t, s.Schedule("task", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	s.Stop("task")
	s.Stop("task")
	s.Stop("never-registered")
	assert.Empty(t, s.Names())

	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, calls.Load())

	s.StopAll()
	s.StopAll()
}

func TestStopAll_AllowsRescheduling(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.Schedule("a", time.Minute, func(context.Context) error { return nil }))
	require.NoError(t, s.Schedule("b", time.Minute, func(context.Context) error { return nil }))
	assert.Equal(t, []string{"a", "b"}, s.Names())

	s.StopAll()
	assert.Empty(t, s.Names())

	var calls atomic.Int32
	require.NoError(t, s.Schedule("c", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	defer s.StopAll()
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	defer s.StopAll()

	wantErr := errors.New("boom")
	require.NoError(t, s.Schedule("task", time.Hour, func(context.Context) error { return wantErr }))

	assert.ErrorIs(t, s.RunNow("task"), wantErr)
	assert.ErrorIs(t, s.RunNow("missing"), ErrUnknownTask)

	require.NoError(t, s.Schedule("panics", time.Hour, func(context.Context) error { panic("x") }))
	assert.Error(t, s.RunNow("panics"))

	cadence, ok := s.Cadence("task")
	assert.True(t, ok)
	assert.Equal(t, time.Hour, cadence)
}
