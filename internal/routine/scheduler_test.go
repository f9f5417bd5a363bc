package routine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_RejectsInvalidIntervals(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	noop := func(context.Context) error { return nil }
	for _, d := range []time.Duration{0, -time.Second, MaxInterval + time.Nanosecond} {
		assert.Error(t, s.Schedule("bad", d, false, noop), "interval %s", d)
	}
	assert.NoError(t, s.Schedule("max", MaxInterval, false, noop))
	assert.Error(t, s.Schedule("max", time.Second, false, noop), "duplicate name")
	assert.Error(t, s.Schedule("nil", time.Second, false, nil))
	assert.Equal(t, []string{"max"}, s.Names())
}

func TestSchedule_ImmediateAndRepeating(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", 10*time.Millisecond, true, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedule_NotImmediateWaitsForInterval(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Schedule("slow", time.Hour, false, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestSchedule_ErrorsAndPanicsDoNotStopLoop(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Schedule("flaky", 5*time.Millisecond, true, func(context.Context) error {
		n := runs.Add(1)
		if n == 1 {
			return errors.New("bridge unreachable")
		}
		if n == 2 {
			panic("boom")
		}
		return nil
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_RunsEarly(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	ran := make(chan struct{}, 10)
	require.NoError(t, s.Schedule("sync", time.Hour, false, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	assert.True(t, s.Trigger("sync"))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not run the routine")
	}

	assert.False(t, s.Trigger("unknown"))
}

func TestTrigger_CoalescesDuringRun(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Schedule("sync", time.Hour, true, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}))

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		s.Trigger("sync")
	}
	close(release)

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load(), "queued triggers collapse into one run")
}

func TestStop_HaltsRoutines(t *testing.T) {
	s := New(context.Background())

	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", 5*time.Millisecond, true, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	assert.ErrorIs(t, s.Schedule("late", time.Second, true, func(context.Context) error { return nil }), ErrStopped)
}

func TestStop_WaitsForRunningAction(t *testing.T) {
	s := New(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Schedule("long", time.Hour, true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}))

	<-started
	s.Stop()
	assert.True(t, finished.Load())
}

func TestParentContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx)

	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", 5*time.Millisecond, true, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routines did not stop with parent context")
	}
}
