package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialState(t *testing.T) {
	s := NewStore("db", "web")

	e, ok := s.Get("db")
	require.True(t, ok)
	assert.Equal(t, Stopped, e.State)
	assert.Empty(t, s.Running())

	_, ok = s.Get("cache")
	assert.False(t, ok)
}

func TestStartStopRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore("db")

	e, err := s.Transition(ctx, "db", EventStart, "Starting...")
	require.NoError(t, err)
	assert.Equal(t, Starting, e.State)
	assert.False(t, s.IsRunning("db"))

	e, err = s.Transition(ctx, "db", EventStartDone, "Running")
	require.NoError(t, err)
	assert.Equal(t, Running, e.State)
	assert.False(t, e.Since.IsZero())
	assert.Equal(t, []string{"db"}, s.Running())

	e, err = s.Transition(ctx, "db", EventStop, "Stopping...")
	require.NoError(t, err)
	assert.Equal(t, Stopping, e.State)
	assert.False(t, s.IsRunning("db"))
	assert.True(t, e.Since.IsZero())

	e, err = s.Transition(ctx, "db", EventStopDone, "Stopped")
	require.NoError(t, err)
	assert.Equal(t, Stopped, e.State)
	assert.Equal(t, "Stopped", e.Message)
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewStore("db")

	_, err := s.Transition(ctx, "db", EventStartDone, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition(ctx, "db", EventStart, "")
	require.NoError(t, err)

	assert.False(t, s.Can("db", EventStart), "no double start while starting")
	assert.False(t, s.Can("db", EventStop), "no stop while starting")

	e, err := s.Transition(ctx, "db", EventStart, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Starting, e.State)

	_, err = s.Transition(ctx, "nope", EventStart, "")
	require.ErrorIs(t, err, ErrNotTracked)
}

func TestFailureStates(t *testing.T) {
	ctx := context.Background()
	s := NewStore("db")

	for _, step := range []struct {
		event string
		want  State
	}{
		{EventStart, Starting},
		{EventStartFailed, FailedToStart},
		{EventStop, Stopping},
		{EventStopFailed, FailedToStop},
		{EventStop, Stopping},
		{EventStopIncomplete, StopIncomplete},
		{EventStart, Starting},
		{EventStartDone, Running},
	} {
		e, err := s.Transition(ctx, "db", step.event, step.event)
		require.NoError(t, err, step.event)
		assert.Equal(t, step.want, e.State, step.event)
	}

	assert.False(t, s.Can("db", EventStart), "already running")
	assert.True(t, s.Can("db", EventStop))
}

func TestStopFromStoppedIsAllowed(t *testing.T) {
	s := NewStore("db")
	assert.True(t, s.Can("db", EventStop))
}

func TestRunningSetMatchesState(t *testing.T) {
	ctx := context.Background()
	names := []string{"a", "b", "c", "d"}
	s := NewStore(names...)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = s.Transition(ctx, name, EventStart, "")
				_, _ = s.Transition(ctx, name, EventStartDone, "")
				_, _ = s.Transition(ctx, name, EventStop, "")
				_, _ = s.Transition(ctx, name, EventStopDone, "")
			}
			_, _ = s.Transition(ctx, name, EventStart, "")
			_, _ = s.Transition(ctx, name, EventStartDone, "")
		}(name)
	}
	wg.Wait()

	for _, e := range s.Snapshot() {
		assert.Equal(t, e.State == Running, s.IsRunning(e.Name), e.Name)
		assert.True(t, e.Running, e.Name)
	}
	assert.Equal(t, names, s.Running())
}

func TestSnapshotRunningFlagDuringTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewStore("db")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			_, _ = s.Transition(ctx, "db", EventStart, "")
			_, _ = s.Transition(ctx, "db", EventStartDone, "")
			_, _ = s.Transition(ctx, "db", EventStop, "")
			_, _ = s.Transition(ctx, "db", EventStopDone, "")
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		for _, e := range s.Snapshot() {
			require.Equal(t, e.State == Running, e.Running, "state %s", e.State)
		}
		e, _ := s.Get("db")
		require.Equal(t, e.State == Running, e.Running, "state %s", e.State)
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Starting.Terminal())
	assert.False(t, Stopping.Terminal())
	assert.True(t, StopIncomplete.Terminal())
	assert.True(t, Running.Terminal())
}
