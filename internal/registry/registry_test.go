package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/devsv/internal/config"
)

func TestLookup(t *testing.T) {
	r, err := New(
		ServiceDefinition{Name: "db", Executable: "mongod"},
		ServiceDefinition{Name: "web", Executable: "nginx"},
	)
	require.NoError(t, err)

	d, err := r.Lookup("web")
	require.NoError(t, err)
	assert.Equal(t, "nginx", d.Executable)

	_, err = r.Lookup("cache")
	require.ErrorIs(t, err, ErrUnknownService)

	assert.Equal(t, []string{"db", "web"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(ServiceDefinition{Name: "db"}, ServiceDefinition{Name: "db"})
	require.Error(t, err)

	_, err = New(ServiceDefinition{})
	require.Error(t, err)
}

func TestDefinitionsAreCopied(t *testing.T) {
	args := []string{"-a"}
	r, err := New(ServiceDefinition{Name: "db", Start: Command{Path: "mongod", Args: args}})
	require.NoError(t, err)

	args[0] = "-b"
	d, _ := r.Lookup("db")
	assert.Equal(t, []string{"-a"}, d.Start.Args)

	names := r.Names()
	names[0] = "other"
	assert.Equal(t, []string{"db"}, r.Names())
}

func TestLookupReturnsIndependentCopies(t *testing.T) {
	r, err := New(ServiceDefinition{
		Name:  "web",
		Start: Command{Path: "nginx", Args: []string{"-g", "daemon off;"}},
		Stop:  Command{Path: "nginx", Args: []string{"-s", "stop"}},
		Env:   []string{"A=1"},
	})
	require.NoError(t, err)

	d, _ := r.Lookup("web")
	d.Start.Args[0] = "-c"
	d.Stop.Args[1] = "quit"
	d.Env[0] = "A=2"

	again, _ := r.Lookup("web")
	assert.Equal(t, []string{"-g", "daemon off;"}, again.Start.Args)
	assert.Equal(t, []string{"-s", "stop"}, again.Stop.Args)
	assert.Equal(t, []string{"A=1"}, again.Env)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Timing: config.DefaultTiming(),
		Services: []config.ServiceConfig{
			{
				Name:        "db",
				Command:     "/opt/mongo/bin/mongod",
				ProcessName: "mongod",
				Strategy:    config.StrategyProcessPollLogMarker,
				ReadyMarker: "Waiting for connections",
				LogPath:     "/opt/mongo/mongo.log",
				Environment: map[string]string{"B": "2", "A": "1"},
			},
			{
				Name:          "web",
				Command:       "nginx",
				StopCommand:   "nginx",
				StopArgs:      []string{"-s", "stop"},
				ProcessName:   "nginx",
				Strategy:      config.StrategyProcessPoll,
				StartAttempts: 3,
			},
		},
	}

	r, err := FromConfig(cfg)
	require.NoError(t, err)

	db, err := r.Lookup("db")
	require.NoError(t, err)
	assert.Equal(t, ProcessPollWithLogMarker, db.Strategy)
	assert.Equal(t, 30, db.StartAttempts)
	assert.Equal(t, time.Second, db.StartInterval)
	assert.Equal(t, []string{"A=1", "B=2"}, db.Env)
	assert.True(t, db.Stop.Empty())

	web, err := r.Lookup("web")
	require.NoError(t, err)
	assert.Equal(t, ProcessPoll, web.Strategy)
	assert.Equal(t, 3, web.StartAttempts)
	assert.Equal(t, Command{Path: "nginx", Args: []string{"-s", "stop"}}, web.Stop)
	assert.Equal(t, "process_poll", web.Strategy.String())
}
