package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "devsv.yaml", `
timing:
  stop_attempts: 4
  stop_poll_interval: 250ms
services:
  - name: db
    command: bin/mongod
    log_path: logs/db.log
    strategy: process_poll_with_log_marker
    ready_marker: Waiting for connections
    autostart: true
  - name: web
    command: nginx
    stop_command: nginx
    stop_args: ["-s", "stop"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 2)

	base := filepath.Dir(path)
	db := cfg.Services[0]
	assert.Equal(t, filepath.Join(base, "bin", "mongod"), db.Command)
	assert.Equal(t, filepath.Join(base, "logs", "db.log"), db.LogPath)
	assert.Equal(t, "mongod", db.ProcessName)
	assert.True(t, db.Autostart)

	web := cfg.Services[1]
	assert.Equal(t, "nginx", web.Command, "bare command names are looked up in PATH")
	assert.Equal(t, StrategyProcessPoll, web.Strategy)
	assert.Equal(t, []string{"-s", "stop"}, web.StopArgs)

	assert.Equal(t, 4, cfg.Timing.StopAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.StopPollInterval)
	assert.Equal(t, 30, cfg.Timing.LogMarkerAttempts)
	assert.Equal(t, 2*time.Second, cfg.Timing.RestartAllDelay)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "devsv.toml", `
log_level = "debug"

[timing]
start_poll_interval = "200ms"

[[services]]
name = "web"
command = "/usr/sbin/nginx"
process_name = "nginx"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.Timing.StartPollInterval)
	assert.Equal(t, "/usr/sbin/nginx", cfg.Services[0].Command)
	assert.Equal(t, "nginx", cfg.Services[0].ProcessName)
}

func TestValidateReportsAllProblems(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
services:
  - name: a
    command: a
    strategy: process_poll_with_log_marker
  - name: a
    command: ""
  - name: c
    command: c
    strategy: magic
`)

	_, err := Load(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `service "a": ready_marker is required`)
	assert.Contains(t, msg, `service "a": log_path is required`)
	assert.Contains(t, msg, `service "a": duplicate name`)
	assert.Contains(t, msg, `service "a": command is required`)
	assert.Contains(t, msg, `service "c": unknown strategy "magic"`)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsv.yaml")

	written, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "mongodb", cfg.Services[0].Name)
	assert.Equal(t, StrategyProcessPollLogMarker, cfg.Services[0].Strategy)

	require.NoError(t, os.WriteFile(path, []byte("services: []\n"), 0o644))
	written, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, written, "existing config must not be overwritten")
}
