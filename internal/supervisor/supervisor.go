// Package supervisor drives the lifecycle of the configured development
// services. Every operation runs as its own goroutine; callers never block and
// observe outcomes through state queries and status events.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/devsv/internal/config"
	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/logtail"
	"github.com/kolkov/devsv/internal/process"
	"github.com/kolkov/devsv/internal/registry"
	"github.com/kolkov/devsv/internal/verify"
)

// Executor spawns service and stop commands.
type Executor interface {
	Launch(c process.Command) (*process.Handle, error)
	Run(ctx context.Context, c process.Command) (int, error)
}

// LogReader reads service log files.
type LogReader interface {
	verify.LogMatcher
	Tail(path string) (string, error)
	Offset(path string) int64
}

// StatusEvent reports a state change, or a rejected request, for one service.
// State is empty when the request named an unknown service.
type StatusEvent struct {
	Service string
	State   lifecycle.State
	Message string
	Time    time.Time
}

// ServiceStatus is a point-in-time view of one service.
type ServiceStatus struct {
	Name    string
	State   lifecycle.State
	Message string
	Updated time.Time
	Since   time.Time
	PID     int
	Running bool
}

type Supervisor struct {
	registry *registry.Registry
	store    *lifecycle.Store
	verifier *verify.Engine
	timing   config.Timing
	log      *zap.SugaredLogger

	prober   verify.Prober
	killer   verify.Killer
	executor Executor
	logs     LogReader
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu     sync.Mutex // guards closed and task dispatch
	closed bool

	// emitMu is held from a state transition until its event is queued.
	emitMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
	subsWG sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithTiming(t config.Timing) Option {
	return func(s *Supervisor) { s.timing = t }
}

func WithProber(p verify.Prober) Option {
	return func(s *Supervisor) { s.prober = p }
}

func WithKiller(k verify.Killer) Option {
	return func(s *Supervisor) { s.killer = k }
}

func WithExecutor(e Executor) Option {
	return func(s *Supervisor) { s.executor = e }
}

func WithLogReader(r LogReader) Option {
	return func(s *Supervisor) { s.logs = r }
}

// New creates a supervisor for every service in reg. All services start out
// Stopped and outside the running set.
func New(reg *registry.Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry: reg,
		store:    lifecycle.NewStore(reg.Names()...),
		timing:   config.DefaultTiming(),
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
		subs:     make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.prober == nil {
		s.prober = process.NewProbe(s.log.Named("probe"))
	}
	if s.killer == nil {
		s.killer = process.Killer{}
	}
	if s.executor == nil {
		s.executor = process.NewExecutor(s.log.Named("exec"))
	}
	if s.logs == nil {
		s.logs = logtail.NewReader()
	}
	s.verifier = verify.New(s.prober, s.killer, s.logs, s.log.Named("verify"))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Names returns the managed services in configuration order.
func (s *Supervisor) Names() []string {
	return s.registry.Names()
}

// GetState returns the current state of name.
func (s *Supervisor) GetState(name string) (lifecycle.State, error) {
	if _, err := s.registry.Lookup(name); err != nil {
		return "", err
	}
	e, _ := s.store.Get(name)
	return e.State, nil
}

// IsRunning reports whether name is in the running set.
func (s *Supervisor) IsRunning(name string) bool {
	return s.store.IsRunning(name)
}

// Status returns a snapshot of every service in configuration order.
func (s *Supervisor) Status() []ServiceStatus {
	entries := s.store.Snapshot()
	out := make([]ServiceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, ServiceStatus{
			Name:    e.Name,
			State:   e.State,
			Message: e.Message,
			Updated: e.Updated,
			Since:   e.Since,
			PID:     e.PID,
			Running: e.Running,
		})
	}
	return out
}

// ReadLogTail returns the end of the service's log. The error wraps
// logtail.ErrLogNotFound when the file does not exist or none is configured.
func (s *Supervisor) ReadLogTail(name string) (string, error) {
	def, err := s.registry.Lookup(name)
	if err != nil {
		return "", err
	}
	if def.LogPath == "" {
		return "", fmt.Errorf("%s: no log configured: %w", name, logtail.ErrLogNotFound)
	}
	return s.logs.Tail(def.LogPath)
}

// LogPath returns the configured log file of name.
func (s *Supervisor) LogPath(name string) (string, error) {
	def, err := s.registry.Lookup(name)
	if err != nil {
		return "", err
	}
	return def.LogPath, nil
}

// Wait blocks until every dispatched operation has finished.
func (s *Supervisor) Wait() {
	s.tasks.Wait()
}

// Close abandons in-flight polling, waits for the tasks to return and stops
// all subscriptions. Operations requested after Close are ignored.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()

	s.subsMu.Lock()
	subs := s.subs
	s.subs = make(map[*Subscription]struct{})
	s.subsMu.Unlock()
	for sub := range subs {
		sub.close()
	}
	s.subsWG.Wait()
}

// dispatch runs prepare on the caller's goroutine and, if it agrees, fn on
// a goroutine of its own. Nothing runs once the supervisor is closed.
func (s *Supervisor) dispatch(op string, prepare func() bool, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Warnf("Ignoring %s: supervisor is closed", op)
		return
	}
	if !prepare() {
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(s.ctx)
	}()
}

func executable(def registry.ServiceDefinition) string {
	if def.Executable != "" {
		return def.Executable
	}
	return filepath.Base(def.Start.Path)
}
