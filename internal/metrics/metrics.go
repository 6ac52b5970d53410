// Package metrics exports service lifecycle metrics for Prometheus. It is fed
// from a supervisor subscription and keeps no lifecycle logic of its own.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/supervisor"
)

const namespace = "devsv"

var allStates = []lifecycle.State{
	lifecycle.Stopped,
	lifecycle.Starting,
	lifecycle.Running,
	lifecycle.Stopping,
	lifecycle.FailedToStart,
	lifecycle.FailedToStop,
	lifecycle.StopIncomplete,
}

// Recorder turns status events into metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	state       *prometheus.GaugeVec
	running     prometheus.Gauge

	mu      sync.Mutex
	current map[string]lifecycle.State
}

// NewRecorder creates a recorder with every service initialised as stopped.
func NewRecorder(services ...string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Number of lifecycle transitions by target state",
			},
			[]string{"service", "state"},
		),
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_state",
				Help:      "1 for the current lifecycle state of a service, 0 otherwise",
			},
			[]string{"service", "state"},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_services",
				Help:      "Number of services confirmed running",
			},
		),
		current: make(map[string]lifecycle.State, len(services)),
	}

	for _, name := range services {
		r.current[name] = lifecycle.Stopped
		r.setState(name, lifecycle.Stopped)
		for _, st := range allStates {
			r.transitions.WithLabelValues(name, string(st)).Add(0)
		}
	}
	return r
}

// Observe records ev. Events for unknown services and rejected requests,
// which leave the state unchanged, are not counted as transitions.
func (r *Recorder) Observe(ev supervisor.StatusEvent) {
	if ev.State == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.current[ev.Service]; ok && prev == ev.State {
		return
	}
	r.current[ev.Service] = ev.State
	r.transitions.WithLabelValues(ev.Service, string(ev.State)).Inc()
	r.setState(ev.Service, ev.State)

	n := 0
	for _, st := range r.current {
		if st == lifecycle.Running {
			n++
		}
	}
	r.running.Set(float64(n))
}

func (r *Recorder) setState(service string, current lifecycle.State) {
	for _, st := range allStates {
		v := 0.0
		if st == current {
			v = 1
		}
		r.state.WithLabelValues(service, string(st)).Set(v)
	}
}

// Registry exposes the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on lis until ctx is done.
func (r *Recorder) Serve(ctx context.Context, lis net.Listener, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Metrics listening on %s", lis.Addr())
	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
