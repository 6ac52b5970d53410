package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Verification strategy names accepted in the config file.
const (
	StrategyProcessPoll          = "process_poll"
	StrategyProcessPollLogMarker = "process_poll_with_log_marker"
)

type Config struct {
	LogLevel      string          `yaml:"log_level" toml:"log_level"`
	LogFormat     string          `yaml:"log_format" toml:"log_format"`
	Listen        string          `yaml:"listen" toml:"listen"`
	MetricsListen string          `yaml:"metrics_listen" toml:"metrics_listen"`
	Timing        Timing          `yaml:"timing" toml:"timing"`
	Services      []ServiceConfig `yaml:"services" toml:"services"`
}

// Timing holds the polling budgets and delays of the lifecycle operations.
type Timing struct {
	StartPollInterval   time.Duration `yaml:"start_poll_interval" toml:"start_poll_interval"`
	ProcessPollAttempts int           `yaml:"process_poll_attempts" toml:"process_poll_attempts"`
	LogMarkerAttempts   int           `yaml:"log_marker_attempts" toml:"log_marker_attempts"`
	StopPollInterval    time.Duration `yaml:"stop_poll_interval" toml:"stop_poll_interval"`
	StopAttempts        int           `yaml:"stop_attempts" toml:"stop_attempts"`
	StopSettle          time.Duration `yaml:"stop_settle" toml:"stop_settle"`
	RestartDelay        time.Duration `yaml:"restart_delay" toml:"restart_delay"`
	RestartAllDelay     time.Duration `yaml:"restart_all_delay" toml:"restart_all_delay"`
}

type ServiceConfig struct {
	Name          string            `yaml:"name" toml:"name"`
	Command       string            `yaml:"command" toml:"command"`
	Args          []string          `yaml:"args,omitempty" toml:"args"`
	StopCommand   string            `yaml:"stop_command,omitempty" toml:"stop_command"`
	StopArgs      []string          `yaml:"stop_args,omitempty" toml:"stop_args"`
	StopWait      bool              `yaml:"stop_wait,omitempty" toml:"stop_wait"`
	Directory     string            `yaml:"directory,omitempty" toml:"directory"`
	Environment   map[string]string `yaml:"env,omitempty" toml:"env"`
	LogPath       string            `yaml:"log_path,omitempty" toml:"log_path"`
	ProcessName   string            `yaml:"process_name,omitempty" toml:"process_name"`
	Strategy      string            `yaml:"strategy,omitempty" toml:"strategy"`
	ReadyMarker   string            `yaml:"ready_marker,omitempty" toml:"ready_marker"`
	StartAttempts int               `yaml:"start_attempts,omitempty" toml:"start_attempts"`
	CaptureOutput bool              `yaml:"capture_output,omitempty" toml:"capture_output"`
	Autostart     bool              `yaml:"autostart" toml:"autostart"`
}

// DefaultTiming mirrors the budgets the supervisor was tuned with: a pure
// presence check gets 10 one-second polls, a log marker 30.
func DefaultTiming() Timing {
	return Timing{
		StartPollInterval:   time.Second,
		ProcessPollAttempts: 10,
		LogMarkerAttempts:   30,
		StopPollInterval:    500 * time.Millisecond,
		StopAttempts:        10,
		StopSettle:          500 * time.Millisecond,
		RestartDelay:        time.Second,
		RestartAllDelay:     2 * time.Second,
	}
}

// Load reads a YAML or TOML (by extension) config file, fills defaults and
// validates it. Relative paths are resolved against the file's directory.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filename, err)
		}
	}

	base := filepath.Dir(filename)
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	cfg.applyDefaults(base)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(base string) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}

	def := DefaultTiming()
	t := &c.Timing
	if t.StartPollInterval == 0 {
		t.StartPollInterval = def.StartPollInterval
	}
	if t.ProcessPollAttempts == 0 {
		t.ProcessPollAttempts = def.ProcessPollAttempts
	}
	if t.LogMarkerAttempts == 0 {
		t.LogMarkerAttempts = def.LogMarkerAttempts
	}
	if t.StopPollInterval == 0 {
		t.StopPollInterval = def.StopPollInterval
	}
	if t.StopAttempts == 0 {
		t.StopAttempts = def.StopAttempts
	}
	if t.StopSettle == 0 {
		t.StopSettle = def.StopSettle
	}
	if t.RestartDelay == 0 {
		t.RestartDelay = def.RestartDelay
	}
	if t.RestartAllDelay == 0 {
		t.RestartAllDelay = def.RestartAllDelay
	}

	for i := range c.Services {
		s := &c.Services[i]
		if s.Strategy == "" {
			s.Strategy = StrategyProcessPoll
		}
		if s.ProcessName == "" && s.Command != "" {
			s.ProcessName = filepath.Base(s.Command)
		}
		s.Directory = resolve(base, s.Directory)
		s.LogPath = resolve(base, s.LogPath)
		if strings.ContainsAny(s.Command, `/\`) {
			s.Command = resolve(base, s.Command)
		}
		if strings.ContainsAny(s.StopCommand, `/\`) {
			s.StopCommand = resolve(base, s.StopCommand)
		}
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, filepath.FromSlash(p))
}

// Validate reports every problem found in the config at once.
func (c *Config) Validate() error {
	var errs []error

	t := c.Timing
	if t.StartPollInterval < 0 || t.StopPollInterval < 0 || t.StopSettle < 0 ||
		t.RestartDelay < 0 || t.RestartAllDelay < 0 {
		errs = append(errs, errors.New("timing: durations must not be negative"))
	}
	if t.ProcessPollAttempts < 1 || t.LogMarkerAttempts < 1 || t.StopAttempts < 1 {
		errs = append(errs, errors.New("timing: attempt budgets must be positive"))
	}

	seen := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("services[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("service %q: duplicate name", s.Name))
		}
		seen[s.Name] = true

		if s.Command == "" {
			errs = append(errs, fmt.Errorf("service %q: command is required", s.Name))
		}
		if s.StartAttempts < 0 {
			errs = append(errs, fmt.Errorf("service %q: start_attempts must not be negative", s.Name))
		}
		switch s.Strategy {
		case StrategyProcessPoll:
		case StrategyProcessPollLogMarker:
			if s.ReadyMarker == "" {
				errs = append(errs, fmt.Errorf("service %q: ready_marker is required for %s", s.Name, s.Strategy))
			}
			if s.LogPath == "" {
				errs = append(errs, fmt.Errorf("service %q: log_path is required for %s", s.Name, s.Strategy))
			}
		default:
			errs = append(errs, fmt.Errorf("service %q: unknown strategy %q", s.Name, s.Strategy))
		}
		if s.CaptureOutput && s.LogPath == "" {
			errs = append(errs, fmt.Errorf("service %q: capture_output needs log_path", s.Name))
		}
	}

	return errors.Join(errs...)
}
