package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/supervisor"
)

func event(service string, st lifecycle.State) supervisor.StatusEvent {
	return supervisor.StatusEvent{Service: service, State: st, Time: time.Now()}
}

func TestInitialState(t *testing.T) {
	r := NewRecorder("mongodb", "nginx")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("mongodb", "stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("mongodb", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.running))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.transitions.WithLabelValues("nginx", "running")))
}

func TestObserveTransitions(t *testing.T) {
	r := NewRecorder("mongodb", "nginx")

	r.Observe(event("mongodb", lifecycle.Starting))
	r.Observe(event("mongodb", lifecycle.Running))
	r.Observe(event("nginx", lifecycle.Starting))
	r.Observe(event("nginx", lifecycle.Running))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("nginx", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("nginx", "starting")))

	r.Observe(event("nginx", lifecycle.Stopping))
	r.Observe(event("nginx", lifecycle.StopIncomplete))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("nginx", "stop_incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("nginx", "stop_incomplete")))
}

func TestObserveIgnoresRejectedAndUnknown(t *testing.T) {
	r := NewRecorder("mongodb")

	r.Observe(event("mongodb", lifecycle.Starting))
	r.Observe(event("mongodb", lifecycle.Starting))
	r.Observe(supervisor.StatusEvent{Service: "apache", Message: "unknown service"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("mongodb", "starting")))
	assert.Equal(t, len(allStates), testutil.CollectAndCount(r.transitions), "no series for unknown services")
}

func TestHandler(t *testing.T) {
	r := NewRecorder("mongodb")
	r.Observe(event("mongodb", lifecycle.Starting))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devsv_transitions_total{service="mongodb",state="starting"} 1`)
	assert.Contains(t, rec.Body.String(), `devsv_running_services 0`)
}

func TestServe(t *testing.T) {
	r := NewRecorder("mongodb")
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, lis, zaptest.NewLogger(t).Sugar()) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(body), "devsv_service_state")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
