package process

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessEnumeration means the process table itself could not be read.
	ErrProcessEnumeration = errors.New("process enumeration failed")

	// ErrProcessGone means the target exited before it could be terminated.
	ErrProcessGone = errors.New("process already gone")

	// ErrPermissionDenied means the OS refused to terminate the target.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTerminationFailed covers every other termination failure.
	ErrTerminationFailed = errors.New("termination failed")
)

// LaunchError is returned when the OS rejects a spawn request.
type LaunchError struct {
	// Path is the executable that failed to start
	Path string
	// Err is the underlying OS error
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
