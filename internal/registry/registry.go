// Package registry holds the immutable set of service definitions the
// supervisor manages.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kolkov/devsv/internal/config"
)

// ErrUnknownService is returned by Lookup for names that are not registered.
var ErrUnknownService = errors.New("unknown service")

// Strategy decides when a start has taken effect.
type Strategy int

const (
	// ProcessPoll succeeds once a matching process is present.
	ProcessPoll Strategy = iota
	// ProcessPollWithLogMarker additionally requires the readiness marker in the log.
	ProcessPollWithLogMarker
)

func (s Strategy) String() string {
	switch s {
	case ProcessPoll:
		return config.StrategyProcessPoll
	case ProcessPollWithLogMarker:
		return config.StrategyProcessPollLogMarker
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Command is an executable plus its arguments.
type Command struct {
	Path string
	Args []string
}

// Empty reports whether no executable is set.
func (c Command) Empty() bool { return c.Path == "" }

// ServiceDefinition describes one managed service.
type ServiceDefinition struct {
	Name          string
	Start         Command
	Stop          Command
	StopWait      bool
	Dir           string
	Env           []string
	LogPath       string
	Strategy      Strategy
	ReadyMarker   string
	Executable    string
	CaptureOutput bool
	Autostart     bool

	// StartAttempts and StartInterval are the start verification budget.
	StartAttempts int
	StartInterval time.Duration
}

// Registry is safe for concurrent reads; it is never mutated after New.
type Registry struct {
	order []string
	defs  map[string]ServiceDefinition
}

// New builds a registry from definitions, rejecting duplicate or empty names.
func New(defs ...ServiceDefinition) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(defs)),
		defs:  make(map[string]ServiceDefinition, len(defs)),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("service definition without a name")
		}
		if _, ok := r.defs[d.Name]; ok {
			return nil, fmt.Errorf("duplicate service %q", d.Name)
		}
		r.order = append(r.order, d.Name)
		r.defs[d.Name] = clone(d)
	}
	return r, nil
}

// FromConfig converts loaded configuration into a registry.
func FromConfig(cfg *config.Config) (*Registry, error) {
	defs := make([]ServiceDefinition, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		d := ServiceDefinition{
			Name:          s.Name,
			Start:         Command{Path: s.Command, Args: s.Args},
			Stop:          Command{Path: s.StopCommand, Args: s.StopArgs},
			StopWait:      s.StopWait,
			Dir:           s.Directory,
			LogPath:       s.LogPath,
			ReadyMarker:   s.ReadyMarker,
			Executable:    s.ProcessName,
			CaptureOutput: s.CaptureOutput,
			Autostart:     s.Autostart,
			StartAttempts: s.StartAttempts,
			StartInterval: cfg.Timing.StartPollInterval,
		}
		for k, v := range s.Environment {
			d.Env = append(d.Env, k+"="+v)
		}
		slices.Sort(d.Env)

		switch s.Strategy {
		case config.StrategyProcessPollLogMarker:
			d.Strategy = ProcessPollWithLogMarker
			if d.StartAttempts == 0 {
				d.StartAttempts = cfg.Timing.LogMarkerAttempts
			}
		default:
			d.Strategy = ProcessPoll
			if d.StartAttempts == 0 {
				d.StartAttempts = cfg.Timing.ProcessPollAttempts
			}
		}
		defs = append(defs, d)
	}
	return New(defs...)
}

// Lookup returns a copy of the definition for name. Callers may modify the
// returned slices freely.
func (r *Registry) Lookup(name string) (ServiceDefinition, error) {
	d, ok := r.defs[name]
	if !ok {
		return ServiceDefinition{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return clone(d), nil
}

func clone(d ServiceDefinition) ServiceDefinition {
	d.Start.Args = slices.Clone(d.Start.Args)
	d.Stop.Args = slices.Clone(d.Stop.Args)
	d.Env = slices.Clone(d.Env)
	return d
}

// Names returns the registered names in configuration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.order) }
