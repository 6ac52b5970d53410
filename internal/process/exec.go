package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command is a fully resolved spawn request.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env entries are appended to the supervisor's own environment.
	Env []string
	// Output, when set, receives the child's stdout and stderr (append mode).
	Output string
}

// Handle tracks a launched child. The child is reaped in the background.
type Handle struct {
	PID     int
	Started time.Time

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Done is closed once the child has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the child's exit error after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Executor spawns OS processes.
type Executor struct {
	log *zap.SugaredLogger
	// RunTimeout bounds Run; zero means no limit beyond the caller's context.
	RunTimeout time.Duration
}

func NewExecutor(log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{log: log, RunTimeout: 30 * time.Second}
}

func prepare(cmd *exec.Cmd, c Command) (io.Closer, error) {
	cmd.Dir = c.Dir
	cmd.SysProcAttr = sysProcAttr()
	cmd.Env = append(os.Environ(), c.Env...)

	if c.Output == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Output), 0o755); err != nil {
		return nil, err
	}
	out, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = out
	cmd.Stderr = out
	return out, nil
}

// Launch starts c and returns as soon as the OS has accepted the spawn. The
// child is detached from the supervisor's process group so it outlives it.
func (e *Executor) Launch(c Command) (*Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	out, err := prepare(cmd, c)
	if err != nil {
		return nil, &LaunchError{Path: c.Path, Err: err}
	}
	if out != nil {
		defer out.Close()
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: c.Path, Err: err}
	}

	h := &Handle{PID: cmd.Process.Pid, Started: time.Now(), done: make(chan struct{})}
	e.log.Infof("Process %s started with PID: %d", filepath.Base(c.Path), h.PID)

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		if err != nil {
			e.log.Infof("Process %s (PID: %d) exited: %v", filepath.Base(c.Path), h.PID, err)
		} else {
			e.log.Infof("Process %s (PID: %d) exited normally", filepath.Base(c.Path), h.PID)
		}
		close(h.done)
	}()

	return h, nil
}

// Run starts c and waits for it to exit. A non-zero exit status is reported
// as the exit code, not as an error; only spawn and wait failures are errors.
func (e *Executor) Run(ctx context.Context, c Command) (int, error) {
	if e.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.RunTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	out, err := prepare(cmd, c)
	if err != nil {
		return -1, &LaunchError{Path: c.Path, Err: err}
	}
	if out != nil {
		defer out.Close()
	}

	if err := cmd.Start(); err != nil {
		return -1, &LaunchError{Path: c.Path, Err: err}
	}

	err = cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case ctx.Err() != nil:
		return -1, fmt.Errorf("%s: %w", filepath.Base(c.Path), ctx.Err())
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}
