//go:build !windows

package process

import "syscall"

// Children get their own process group so terminal signals aimed at the
// supervisor do not reach them.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
