package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/process"
	"github.com/kolkov/devsv/internal/registry"
	"github.com/kolkov/devsv/internal/verify"
)

// StartService moves name to Starting before it returns, then launches it and
// verifies it with the service's strategy in the background.
func (s *Supervisor) StartService(name string) {
	def, ok := s.lookup(name)
	if !ok {
		return
	}
	s.dispatch("start "+name,
		func() bool { return s.begin(name, lifecycle.EventStart, "Starting...", false) },
		func(ctx context.Context) { s.runStart(ctx, def) })
}

// StopService moves name to Stopping before it returns, then runs the stop
// command, if any, and kills remaining processes until none is left or the
// budget runs out.
func (s *Supervisor) StopService(name string) {
	def, ok := s.lookup(name)
	if !ok {
		return
	}
	s.dispatch("stop "+name,
		func() bool { return s.begin(name, lifecycle.EventStop, "Stopping...", false) },
		func(ctx context.Context) { s.runStop(ctx, def) })
}

// RestartService stops name and, once it is confirmed Stopped, starts it
// again after the restart delay. The stop begins before it returns.
func (s *Supervisor) RestartService(name string) {
	def, ok := s.lookup(name)
	if !ok {
		return
	}
	s.dispatch("restart "+name,
		func() bool { return s.begin(name, lifecycle.EventStop, "Stopping...", false) },
		func(ctx context.Context) { s.restart(ctx, def) })
}

// StartAll starts every service that is not running or busy.
func (s *Supervisor) StartAll() {
	for _, name := range s.registry.Names() {
		def, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		s.dispatch("start "+name,
			func() bool { return s.begin(name, lifecycle.EventStart, "Starting...", true) },
			func(ctx context.Context) { s.runStart(ctx, def) })
	}
}

// StopAll stops every running service and every service left behind by a
// failed or incomplete stop.
func (s *Supervisor) StopAll() {
	for _, name := range s.stopTargets() {
		def, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		s.dispatch("stop "+name,
			func() bool { return s.begin(name, lifecycle.EventStop, "Stopping...", true) },
			func(ctx context.Context) { s.runStop(ctx, def) })
	}
}

// RestartAll stops the same set as StopAll, waits for every stop to finish,
// waits the restart-all delay and then starts all services.
func (s *Supervisor) RestartAll() {
	var defs []registry.ServiceDefinition
	prepare := func() bool {
		for _, name := range s.stopTargets() {
			def, err := s.registry.Lookup(name)
			if err == nil && s.begin(name, lifecycle.EventStop, "Stopping...", true) {
				defs = append(defs, def)
			}
		}
		return true
	}

	s.dispatch("restart all", prepare, func(ctx context.Context) {
		var wg sync.WaitGroup
		for _, def := range defs {
			wg.Add(1)
			go func(def registry.ServiceDefinition) {
				defer wg.Done()
				s.runStop(ctx, def)
			}(def)
		}
		wg.Wait()

		if !sleep(ctx, s.timing.RestartAllDelay) {
			return
		}
		s.StartAll()
	})
}

// Shutdown lets in-flight operations finish, then stops every service StopAll
// would stop and waits for those stops. Services still being verified when it
// is called are therefore stopped too.
func (s *Supervisor) Shutdown() {
	s.Wait()
	s.StopAll()
	s.Wait()
}

func (s *Supervisor) stopTargets() []string {
	var out []string
	for _, e := range s.store.Snapshot() {
		switch {
		case e.Running,
			e.State == lifecycle.FailedToStop,
			e.State == lifecycle.StopIncomplete:
			out = append(out, e.Name)
		}
	}
	return out
}

// lookup resolves name, reporting unknown names to the log and subscribers.
func (s *Supervisor) lookup(name string) (registry.ServiceDefinition, bool) {
	def, err := s.registry.Lookup(name)
	if err != nil {
		s.log.Warnf("Ignoring request: %v", err)
		s.emit(StatusEvent{Service: name, Message: err.Error(), Time: s.now()})
		return registry.ServiceDefinition{}, false
	}
	return def, true
}

// begin moves name into Starting or Stopping. A refused transition leaves
// the state alone; unless quiet, it is reported as an informational event.
// Transitions and their events are published under emitMu, so subscribers
// see them in the order the store applied them.
func (s *Supervisor) begin(name, event, message string, quiet bool) bool {
	s.emitMu.Lock()
	e, err := s.store.Transition(context.Background(), name, event, message)
	switch {
	case err == nil:
		s.emitEntry(e)
	case !quiet:
		s.emit(StatusEvent{
			Service: name,
			State:   e.State,
			Message: fmt.Sprintf("Ignored %s: service is %s", event, e.State),
			Time:    s.now(),
		})
	}
	s.emitMu.Unlock()

	switch {
	case err == nil:
		s.log.Infof("%s: %s", name, message)
	case quiet:
		s.log.Debugf("Skipping %s of %s: service is %s", event, name, e.State)
	default:
		s.log.Warnf("Ignoring %s of %s: %v", event, name, err)
	}
	return err == nil
}

// finish records the outcome of an operation. It does not depend on the task
// context, so a state never stays in flight once its outcome is known.
func (s *Supervisor) finish(name, event, message string) lifecycle.State {
	s.emitMu.Lock()
	e, err := s.store.Transition(context.Background(), name, event, message)
	if err == nil {
		s.emitEntry(e)
	}
	s.emitMu.Unlock()

	if err != nil {
		s.log.Errorf("Recording %s of %s: %v", event, name, err)
		return e.State
	}
	switch e.State {
	case lifecycle.Running, lifecycle.Stopped:
		s.log.Infof("%s: %s", name, message)
	default:
		s.log.Warnf("%s: %s", name, message)
	}
	return e.State
}

func (s *Supervisor) abandoned(name, op string) lifecycle.State {
	s.log.Infof("Abandoning %s of %s: supervisor is shutting down", op, name)
	e, _ := s.store.Get(name)
	return e.State
}

// start begins and runs a start from inside a task.
func (s *Supervisor) start(ctx context.Context, def registry.ServiceDefinition) lifecycle.State {
	if ctx.Err() != nil || !s.begin(def.Name, lifecycle.EventStart, "Starting...", false) {
		e, _ := s.store.Get(def.Name)
		return e.State
	}
	return s.runStart(ctx, def)
}

// runStart launches and verifies a service that is already Starting.
func (s *Supervisor) runStart(ctx context.Context, def registry.ServiceDefinition) lifecycle.State {
	if ctx.Err() != nil {
		return s.abandoned(def.Name, "start")
	}

	var offset int64
	if def.LogPath != "" {
		offset = s.logs.Offset(def.LogPath)
	}

	cmd := process.Command{
		Path: def.Start.Path,
		Args: def.Start.Args,
		Dir:  def.Dir,
		Env:  def.Env,
	}
	if def.CaptureOutput {
		cmd.Output = def.LogPath
	}
	h, err := s.executor.Launch(cmd)
	if err != nil {
		return s.finish(def.Name, lifecycle.EventStartFailed, fmt.Sprintf("Failed to start: %v", err))
	}
	s.store.SetPID(def.Name, h.PID)

	err = s.verifier.AwaitStart(ctx, verify.StartCheck{
		Executable: executable(def),
		Strategy:   def.Strategy,
		LogPath:    def.LogPath,
		Marker:     def.ReadyMarker,
		LogOffset:  offset,
		Attempts:   s.startAttempts(def),
		Interval:   s.startInterval(def),
	})
	switch {
	case err == nil:
		return s.finish(def.Name, lifecycle.EventStartDone, "Running")
	case ctx.Err() != nil:
		return s.abandoned(def.Name, "start")
	default:
		return s.finish(def.Name, lifecycle.EventStartFailed, fmt.Sprintf("Failed to start: %v", err))
	}
}

// runStop stops a service that is already Stopping.
func (s *Supervisor) runStop(ctx context.Context, def registry.ServiceDefinition) lifecycle.State {
	if ctx.Err() != nil {
		return s.abandoned(def.Name, "stop")
	}

	if !def.Stop.Empty() {
		if err := s.runStopCommand(ctx, def); err != nil {
			return s.finish(def.Name, lifecycle.EventStopFailed, fmt.Sprintf("Failed to stop: %v", err))
		}
		if !sleep(ctx, s.timing.StopSettle) {
			return s.abandoned(def.Name, "stop")
		}
	}

	res, err := s.verifier.AwaitStop(ctx, verify.StopCheck{
		Executable: executable(def),
		Attempts:   s.timing.StopAttempts,
		Interval:   s.timing.StopPollInterval,
	})
	if res.Killed > 0 {
		s.log.Infof("%s: killed %d process(es) in %d attempt(s)", def.Name, res.Killed, res.Attempts)
	}
	switch {
	case err == nil:
		return s.finish(def.Name, lifecycle.EventStopDone, "Stopped")
	case ctx.Err() != nil:
		return s.abandoned(def.Name, "stop")
	case errors.Is(err, verify.ErrStopIncomplete):
		return s.finish(def.Name, lifecycle.EventStopIncomplete,
			fmt.Sprintf("Stop incomplete: %s still running after %d attempts", executable(def), res.Attempts))
	default:
		return s.finish(def.Name, lifecycle.EventStopFailed, fmt.Sprintf("Failed to stop: %v", err))
	}
}

func (s *Supervisor) runStopCommand(ctx context.Context, def registry.ServiceDefinition) error {
	cmd := process.Command{
		Path: def.Stop.Path,
		Args: def.Stop.Args,
		Dir:  def.Dir,
		Env:  def.Env,
	}

	if !def.StopWait {
		_, err := s.executor.Launch(cmd)
		return err
	}

	code, err := s.executor.Run(ctx, cmd)
	var launchErr *process.LaunchError
	switch {
	case errors.As(err, &launchErr):
		return err
	case err != nil:
		s.log.Warnf("%s: stop command: %v", def.Name, err)
	case code != 0:
		s.log.Infof("%s: stop command exited with code %d", def.Name, code)
	}
	return nil
}

// restart finishes a stop that is already Stopping and starts the service
// again if the stop succeeded.
func (s *Supervisor) restart(ctx context.Context, def registry.ServiceDefinition) {
	if st := s.runStop(ctx, def); st != lifecycle.Stopped {
		s.log.Warnf("Not restarting %s: stop ended in %s", def.Name, st)
		return
	}
	if !sleep(ctx, s.timing.RestartDelay) {
		return
	}
	s.start(ctx, def)
}

func (s *Supervisor) startAttempts(def registry.ServiceDefinition) int {
	switch {
	case def.StartAttempts > 0:
		return def.StartAttempts
	case def.Strategy == registry.ProcessPollWithLogMarker:
		return s.timing.LogMarkerAttempts
	default:
		return s.timing.ProcessPollAttempts
	}
}

func (s *Supervisor) startInterval(def registry.ServiceDefinition) time.Duration {
	if def.StartInterval > 0 {
		return def.StartInterval
	}
	return s.timing.StartPollInterval
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
