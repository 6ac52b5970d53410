package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

const defaultConfig = `log_level: info
log_format: console
listen: 127.0.0.1:50051
metrics_listen: ""

timing:
  start_poll_interval: 1s
  process_poll_attempts: 10
  log_marker_attempts: 30
  stop_poll_interval: 500ms
  stop_attempts: 10
  stop_settle: 500ms
  restart_delay: 1s
  restart_all_delay: 2s

services:
  - name: mongodb
    command: mongodb/bin/mongod
    args: ["--quiet", "--dbpath=mongodb/local", "--logpath=mongodb/mongo.log", "--logappend"]
    log_path: mongodb/mongo.log
    process_name: mongod
    strategy: process_poll_with_log_marker
    ready_marker: "Waiting for connections"
    autostart: false

  - name: nginx
    command: nginx/sbin/nginx
    args: ["-p", "nginx", "-c", "conf/nginx.conf", "-e", "logs/error.log"]
    stop_command: nginx/sbin/nginx
    stop_args: ["-p", "nginx", "-s", "stop"]
    stop_wait: true
    log_path: nginx/logs/error.log
    process_name: nginx
    strategy: process_poll
    autostart: false
`

// WriteDefault writes an example config to path unless a file already exists
// there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	if err := renameio.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return false, fmt.Errorf("failed to create default config: %w", err)
	}
	return true, nil
}
