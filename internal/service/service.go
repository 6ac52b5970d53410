// Package service defines the supervisor surface exposed to remote callers.
package service

import (
	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/supervisor"
)

// SupervisorService is implemented by *supervisor.Supervisor.
type SupervisorService interface {
	StartService(name string)
	StopService(name string)
	RestartService(name string)
	StartAll()
	StopAll()
	RestartAll()
	GetState(name string) (lifecycle.State, error)
	Status() []supervisor.ServiceStatus
	ReadLogTail(name string) (string, error)
	Subscribe(fn func(supervisor.StatusEvent)) *supervisor.Subscription
}

var _ SupervisorService = (*supervisor.Supervisor)(nil)
