package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

var (
	// ErrNotTracked is returned for names the store was not created with.
	ErrNotTracked = errors.New("service not tracked")
	// ErrInvalidTransition is returned when an event is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Entry is a value snapshot of one service's lifecycle.
type Entry struct {
	Name    string
	State   State
	Message string
	Updated time.Time
	// Since is when the service last entered Running; zero otherwise.
	Since time.Time
	// PID of the most recent launch, 0 if none.
	PID int
	// Running is running-set membership, read under the same lock as State.
	Running bool
}

type record struct {
	machine *fsm.FSM
	entry   Entry
}

// Store owns every service's state machine and the running set. One mutex
// guards both so that set membership always equals State == Running.
type Store struct {
	mu      sync.Mutex
	order   []string
	records map[string]*record
	running map[string]struct{}
	now     func() time.Time
}

// NewStore tracks names, all initially Stopped and not running.
func NewStore(names ...string) *Store {
	s := &Store{
		order:   slices.Clone(names),
		records: make(map[string]*record, len(names)),
		running: make(map[string]struct{}),
		now:     time.Now,
	}
	for _, name := range names {
		s.records[name] = &record{
			machine: newMachine(),
			entry:   Entry{Name: name, State: Stopped, Updated: s.now()},
		}
	}
	return s
}

// Transition fires event for name and records message. It returns the entry
// as it was after the update.
func (s *Store) Transition(ctx context.Context, name, event, message string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotTracked, name)
	}

	from := rec.machine.Current()
	if err := rec.machine.Event(ctx, event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return rec.entry, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, from)
		}
		return rec.entry, fmt.Errorf("%s %s: %w", name, event, err)
	}

	now := s.now()
	state := State(rec.machine.Current())
	rec.entry.State = state
	rec.entry.Message = message
	rec.entry.Updated = now

	rec.entry.Running = state == Running
	if rec.entry.Running {
		s.running[name] = struct{}{}
		rec.entry.Since = now
	} else {
		delete(s.running, name)
		rec.entry.Since = time.Time{}
	}
	return rec.entry, nil
}

// Can reports whether event is currently allowed for name.
func (s *Store) Can(name, event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	return ok && rec.machine.Can(event)
}

// SetPID records the PID of the latest launch.
func (s *Store) SetPID(name string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[name]; ok {
		rec.entry.PID = pid
	}
}

// Get returns the entry for name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// Snapshot returns every entry in registration order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.records[name].entry)
	}
	return out
}

// Running returns the running set in registration order.
func (s *Store) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.order {
		if _, ok := s.running[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// IsRunning reports running-set membership.
func (s *Store) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[name]
	return ok
}
