// Package metrics exposes Prometheus counters and histograms for the license
// service on a dedicated registry.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilotauth/pilot/internal/store"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	signins    *prometheus.CounterVec
	storeCalls *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilot",
			Name:      "operations_total",
			Help:      "License service operations by outcome.",
		}, []string{"operation", "outcome"}),
		signins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilot",
			Name:      "signins_total",
			Help:      "Sign-in attempts by outcome.",
		}, []string{"outcome"}),
		storeCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pilot",
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Latency of store calls.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.signins,
		m.storeCalls,
	)
	return m
}

// Operation counts one service operation. outcome is "ok" or an error kind.
func (m *Metrics) Operation(op, outcome string) {
	m.operations.WithLabelValues(op, outcome).Inc()
}

// SignIn counts one sign-in attempt.
func (m *Metrics) SignIn(outcome string) {
	m.signins.WithLabelValues(outcome).Inc()
}

// ObserveStore records a store call. It matches store.Observer.
func (m *Metrics) ObserveStore(op string, d time.Duration, err error) {
	m.storeCalls.WithLabelValues(op, storeResult(err)).Observe(d.Seconds())
}

func storeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrTimeout):
		return "timeout"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrRejected), errors.Is(err, store.ErrReservedKey):
		return "rejected"
	default:
		return "error"
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
