package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kolkov/devsv/internal/process"
	"github.com/kolkov/devsv/internal/registry"
)

// fakeTable is a scripted process table. Each Find pops the next answer;
// once the script is exhausted the last answer repeats.
type fakeTable struct {
	mu      sync.Mutex
	answers []answer
	finds   int
	kills   []int32
	killErr map[int32]error
	// killRemoves drops a PID from later answers once it is killed.
	killRemoves bool
	killed      map[int32]bool
}

type answer struct {
	pids []int32
	err  error
}

func (f *fakeTable) Find(context.Context, string) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.finds, len(f.answers)-1)
	f.finds++
	a := f.answers[i]
	if a.err != nil {
		return nil, a.err
	}
	var out []int32
	for _, pid := range a.pids {
		if f.killRemoves && f.killed[pid] {
			continue
		}
		out = append(out, pid)
	}
	return out, nil
}

func (f *fakeTable) Kill(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, pid)
	if err := f.killErr[pid]; err != nil {
		return err
	}
	if f.killed == nil {
		f.killed = make(map[int32]bool)
	}
	f.killed[pid] = true
	return nil
}

type fakeLog struct {
	mu       sync.Mutex
	calls    int
	readyAt  int
	offsets  []int64
	failWith error
}

func (l *fakeLog) ContainsSince(_ string, offset int64, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.offsets = append(l.offsets, offset)
	if l.failWith != nil {
		return false, l.failWith
	}
	return l.readyAt > 0 && l.calls >= l.readyAt, nil
}

func newEngine(t *testing.T, table *fakeTable, logs LogMatcher) *Engine {
	return New(table, table, logs, zaptest.NewLogger(t).Sugar())
}

func TestAwaitStartProcessPoll(t *testing.T) {
	table := &fakeTable{answers: []answer{{}, {}, {pids: []int32{42}}}}
	e := newEngine(t, table, &fakeLog{})

	err := e.AwaitStart(context.Background(), StartCheck{
		Executable: "mongod",
		Strategy:   registry.ProcessPoll,
		Attempts:   10,
		Interval:   time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, table.finds)
}

func TestAwaitStartWaitsForMarker(t *testing.T) {
	table := &fakeTable{answers: []answer{{pids: []int32{7}}}}
	logs := &fakeLog{readyAt: 3}
	e := newEngine(t, table, logs)

	err := e.AwaitStart(context.Background(), StartCheck{
		Executable: "mongod",
		Strategy:   registry.ProcessPollWithLogMarker,
		LogPath:    "mongod.log",
		Marker:     "Waiting for connections",
		LogOffset:  1024,
		Attempts:   30,
		Interval:   time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, table.finds)
	assert.Equal(t, []int64{1024, 1024, 1024}, logs.offsets)
}

func TestAwaitStartTimeout(t *testing.T) {
	table := &fakeTable{answers: []answer{{}}}
	e := newEngine(t, table, &fakeLog{})

	err := e.AwaitStart(context.Background(), StartCheck{
		Executable: "nginx",
		Attempts:   4,
		Interval:   time.Millisecond,
	})
	require.ErrorIs(t, err, ErrVerificationTimeout)
	assert.Equal(t, 4, table.finds)
}

func TestAwaitStartMarkerNeverSeen(t *testing.T) {
	table := &fakeTable{answers: []answer{{pids: []int32{7}}}}
	logs := &fakeLog{failWith: errors.New("permission denied")}
	e := newEngine(t, table, logs)

	err := e.AwaitStart(context.Background(), StartCheck{
		Executable: "mongod",
		Strategy:   registry.ProcessPollWithLogMarker,
		Marker:     "ready",
		Attempts:   3,
		Interval:   time.Millisecond,
	})
	require.ErrorIs(t, err, ErrVerificationTimeout)
	assert.Equal(t, 3, logs.calls)
}

func TestAwaitStartSurvivesEnumerationErrors(t *testing.T) {
	table := &fakeTable{answers: []answer{
		{err: process.ErrProcessEnumeration},
		{err: process.ErrProcessEnumeration},
		{pids: []int32{9}},
	}}
	e := newEngine(t, table, &fakeLog{})

	err := e.AwaitStart(context.Background(), StartCheck{Executable: "svc", Attempts: 5, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, table.finds)
}

func TestAwaitStartCancelled(t *testing.T) {
	table := &fakeTable{answers: []answer{{}}}
	e := newEngine(t, table, &fakeLog{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := e.AwaitStart(ctx, StartCheck{Executable: "svc", Attempts: 1000, Interval: 10 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrVerificationTimeout)
}

func TestAwaitStopAlreadyGone(t *testing.T) {
	table := &fakeTable{answers: []answer{{}}}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "nginx", Attempts: 10, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, res.Killed)
	assert.Empty(t, table.kills)
}

func TestAwaitStopKillsEveryMatch(t *testing.T) {
	table := &fakeTable{answers: []answer{{pids: []int32{10, 11, 12}}}, killRemoves: true}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "nginx", Attempts: 10, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, res.Killed)
	assert.ElementsMatch(t, []int32{10, 11, 12}, table.kills)
}

func TestAwaitStopIncomplete(t *testing.T) {
	// Kills succeed but the process keeps reappearing.
	table := &fakeTable{answers: []answer{{pids: []int32{99}}}}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "stubborn", Attempts: 3, Interval: time.Millisecond})
	require.ErrorIs(t, err, ErrStopIncomplete)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, table.kills, 3)
}

func TestAwaitStopPermissionDenied(t *testing.T) {
	table := &fakeTable{
		answers: []answer{{pids: []int32{1, 2}}},
		killErr: map[int32]error{1: process.ErrPermissionDenied},
	}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "root-owned", Attempts: 10, Interval: time.Millisecond})
	require.ErrorIs(t, err, process.ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrStopIncomplete)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []int32{1}, table.kills)
}

func TestAwaitStopIgnoresVanishedProcess(t *testing.T) {
	table := &fakeTable{
		answers:     []answer{{pids: []int32{5, 6}}, {}},
		killErr:     map[int32]error{5: process.ErrProcessGone},
		killRemoves: true,
	}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "svc", Attempts: 5, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Killed)
}

func TestAwaitStopSurvivesEnumerationErrors(t *testing.T) {
	table := &fakeTable{answers: []answer{{err: process.ErrProcessEnumeration}, {}}}
	e := newEngine(t, table, &fakeLog{})

	res, err := e.AwaitStop(context.Background(), StopCheck{Executable: "svc", Attempts: 5, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}
