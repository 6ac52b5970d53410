// Package verify confirms that a start or stop has taken effect by polling
// the process table and, for some services, their log.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/kolkov/devsv/internal/process"
	"github.com/kolkov/devsv/internal/registry"
)

var (
	// ErrVerificationTimeout means the start budget ran out before the service was confirmed up.
	ErrVerificationTimeout = errors.New("verification timed out")
	// ErrStopIncomplete means the stop budget ran out with matching processes still present.
	ErrStopIncomplete = errors.New("stop incomplete")

	errNotRunning   = errors.New("no matching process")
	errNotReady     = errors.New("readiness marker not in log yet")
	errStillRunning = errors.New("processes still present")
)

type Prober interface {
	Find(ctx context.Context, executable string) ([]int32, error)
}

type Killer interface {
	Kill(ctx context.Context, pid int32) error
}

type LogMatcher interface {
	ContainsSince(path string, offset int64, marker string) (bool, error)
}

// StartCheck parameterizes AwaitStart.
type StartCheck struct {
	Executable string
	Strategy   registry.Strategy
	LogPath    string
	Marker     string
	// LogOffset is the log size recorded before launch; only later content counts.
	LogOffset int64
	Attempts  int
	Interval  time.Duration
}

// StopCheck parameterizes AwaitStop.
type StopCheck struct {
	Executable string
	Attempts   int
	Interval   time.Duration
}

// StopResult describes a finished stop verification.
type StopResult struct {
	Attempts int
	Killed   int
}

type Engine struct {
	probe  Prober
	killer Killer
	logs   LogMatcher
	log    *zap.SugaredLogger
}

func New(probe Prober, killer Killer, logs LogMatcher, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{probe: probe, killer: killer, logs: logs, log: log}
}

// poll runs op up to attempts times with a fixed interval between attempts.
// A *backoff.PermanentError from op ends the loop immediately.
func poll(ctx context.Context, attempts int, interval time.Duration, op backoff.Operation) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)
	err := backoff.Retry(op, b)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// AwaitStart polls until the service is confirmed up. It returns nil on
// success, an error wrapping ErrVerificationTimeout when the budget runs out,
// or the context's error when cancelled.
func (e *Engine) AwaitStart(ctx context.Context, c StartCheck) error {
	attempt := 0
	err := poll(ctx, c.Attempts, c.Interval, func() error {
		attempt++
		pids, err := e.probe.Find(ctx, c.Executable)
		if err != nil {
			e.log.Warnf("Start check %s attempt %d/%d: %v", c.Executable, attempt, c.Attempts, err)
			return err
		}
		if len(pids) == 0 {
			e.log.Debugf("Start check %s attempt %d/%d: not running yet", c.Executable, attempt, c.Attempts)
			return errNotRunning
		}
		if c.Strategy != registry.ProcessPollWithLogMarker {
			return nil
		}

		ok, err := e.logs.ContainsSince(c.LogPath, c.LogOffset, c.Marker)
		if err != nil {
			e.log.Warnf("Start check %s attempt %d/%d: reading %s: %v", c.Executable, attempt, c.Attempts, c.LogPath, err)
			return err
		}
		if !ok {
			e.log.Debugf("Start check %s attempt %d/%d: process up, waiting for %q", c.Executable, attempt, c.Attempts, c.Marker)
			return errNotReady
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrVerificationTimeout, attempt, err)
	}
}

// AwaitStop kills every process matching the executable until none is left.
// It returns nil once the table is clear, an error wrapping
// process.ErrPermissionDenied or process.ErrTerminationFailed as soon as a
// kill is refused, or an error wrapping ErrStopIncomplete when the budget runs
// out with processes remaining.
func (e *Engine) AwaitStop(ctx context.Context, c StopCheck) (StopResult, error) {
	var res StopResult
	err := poll(ctx, c.Attempts, c.Interval, func() error {
		res.Attempts++
		pids, err := e.probe.Find(ctx, c.Executable)
		if err != nil {
			e.log.Warnf("Stop check %s attempt %d/%d: %v", c.Executable, res.Attempts, c.Attempts, err)
			return err
		}
		if len(pids) == 0 {
			return nil
		}

		for _, pid := range pids {
			err := e.killer.Kill(ctx, pid)
			switch {
			case err == nil:
				res.Killed++
				e.log.Infof("Killed %s (PID: %d)", c.Executable, pid)
			case errors.Is(err, process.ErrProcessGone):
				e.log.Debugf("%s (PID: %d) exited before kill", c.Executable, pid)
			default:
				return backoff.Permanent(err)
			}
		}
		return fmt.Errorf("%w: %d", errStillRunning, len(pids))
	})

	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, err
	case errors.Is(err, process.ErrPermissionDenied), errors.Is(err, process.ErrTerminationFailed):
		return res, err
	default:
		return res, fmt.Errorf("%w after %d attempts: %w", ErrStopIncomplete, res.Attempts, err)
	}
}
