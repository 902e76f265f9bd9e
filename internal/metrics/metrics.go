// Package metrics provides Prometheus instrumentation for the learning engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and every collector the engine reports.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Turn metrics
	turns         *prometheus.CounterVec
	turnLatency   prometheus.Histogram
	learnerWrites *prometheus.CounterVec
	budgetSkips   *prometheus.CounterVec
	stepErrors    *prometheus.CounterVec

	// Quarantine and cache metrics
	quarantineEvents *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	associations     *prometheus.GaugeVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

type Config struct {
	Enabled bool

	TurnLatencyBuckets  []float64
	HTTPDurationBuckets []float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		TurnLatencyBuckets:  []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		HTTPDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initLearningMetrics(cfg)
	m.initHTTPMetrics(cfg)

	return m
}

// NoOpManager returns a manager whose record calls do nothing.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
