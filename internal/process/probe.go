package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"

	gops "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Probe finds processes by executable name in the OS process table.
type Probe struct {
	log *zap.SugaredLogger
}

func NewProbe(log *zap.SugaredLogger) *Probe {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Probe{log: log}
}

// Find returns the PIDs of live processes named executable. Processes that
// vanish, deny access or are zombies while the table is walked are skipped;
// only a failure to list the table at all is reported, as ErrProcessEnumeration.
func (p *Probe) Find(ctx context.Context, executable string) ([]int32, error) {
	procs, err := gops.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessEnumeration, err)
	}

	var pids []int32
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil || !SameExecutable(name, executable) {
			continue
		}
		if status, err := proc.StatusWithContext(ctx); err == nil && slices.Contains(status, gops.Zombie) {
			p.log.Debugf("Skipping zombie %s (PID: %d)", name, proc.Pid)
			continue
		}
		pids = append(pids, proc.Pid)
	}
	return pids, nil
}

// SameExecutable compares process names, ignoring a trailing ".exe" and, on
// Windows, letter case.
func SameExecutable(a, b string) bool {
	a, b = trimExe(a), trimExe(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func trimExe(s string) string {
	if len(s) > 4 && strings.EqualFold(s[len(s)-4:], ".exe") {
		return s[:len(s)-4]
	}
	return s
}

// Killer terminates processes by PID.
type Killer struct{}

// Kill sends a hard kill. The error wraps ErrProcessGone, ErrPermissionDenied
// or ErrTerminationFailed.
func (Killer) Kill(ctx context.Context, pid int32) error {
	proc, err := gops.NewProcessWithContext(ctx, pid)
	if err != nil {
		return classifyKillError(pid, err)
	}
	return classifyKillError(pid, proc.KillWithContext(ctx))
}

func classifyKillError(pid int32, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gops.ErrorProcessNotRunning), errors.Is(err, os.ErrProcessDone):
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("pid %d: %w: %w", pid, ErrPermissionDenied, err)
	default:
		return fmt.Errorf("pid %d: %w: %w", pid, ErrTerminationFailed, err)
	}
}
