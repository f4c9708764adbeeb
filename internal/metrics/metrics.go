// Package metrics collects Prometheus metrics from dispatch events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/cortexhub/internal/subserver"
)

// Sink observes dispatch events and exposes them as Prometheus
// metrics on a private registry.
type Sink struct {
	registry *prometheus.Registry

	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	blocks     *prometheus.CounterVec
}

var _ subserver.Sink = (*Sink)(nil)

// NewSink builds the sink and registers its collectors.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortexhub",
			Name:      "dispatches_total",
			Help:      "Tool dispatches by sub-server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortexhub",
			Name:      "dispatch_duration_seconds",
			Help:      "Tool dispatch latency by sub-server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortexhub",
			Name:      "governance_blocks_total",
			Help:      "Dispatches refused by the governance pre-check.",
		}, []string{"server", "tool"}),
	}
	s.registry.MustRegister(s.dispatches, s.latency, s.blocks)
	return s
}

// Observe implements subserver.Sink.
func (s *Sink) Observe(ev subserver.DispatchEvent) {
	s.dispatches.WithLabelValues(ev.Server, ev.Tool, ev.Outcome).Inc()
	s.latency.WithLabelValues(ev.Server).Observe(ev.Duration.Seconds())
	if ev.Outcome == "blocked" {
		s.blocks.WithLabelValues(ev.Server, ev.Tool).Inc()
	}
}

// Handler serves the exposition endpoint for this sink's registry.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}
