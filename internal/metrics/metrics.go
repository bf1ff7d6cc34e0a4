// Package metrics exposes Prometheus collectors for governed runs.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatekeeper"

// Collector groups the gateway's metrics.
type Collector struct {
	runs        *prometheus.CounterVec
	stops       *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	dispatchLat *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		// Labels: flow (run, orchestrate, reflect), status (ok, stopped)
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by flow and status",
		}, []string{"flow", "status"}),

		// Labels: category (contract, budget, ...), code (max_steps, tool_denied, ...)
		stops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Run stop signals by category and code",
		}, []string{"category", "code"}),

		// Labels: kind (tool, worker, route), outcome (ok, timeout, error, ...)
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Dispatched operation attempts by outcome",
		}, []string{"kind", "outcome"}),

		dispatchLat: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "latency_seconds",
			Help:      "Dispatched operation latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		// Labels: kind (approve, revise, block, escalate)
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "decisions_total",
			Help:      "Supervisor decisions by kind",
		}, []string{"kind"}),
	}
}

// RunFinished counts a completed run.
func (c *Collector) RunFinished(flow, status string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(flow, status).Inc()
}

// Stopped counts a stop signal.
func (c *Collector) Stopped(category, code string) {
	if c == nil {
		return
	}
	c.stops.WithLabelValues(category, code).Inc()
}

// Dispatched records one dispatch attempt.
func (c *Collector) Dispatched(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(kind, outcome).Inc()
	c.dispatchLat.WithLabelValues(kind).Observe(d.Seconds())
}

// Decided counts a supervisor decision.
func (c *Collector) Decided(kind string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(kind).Inc()
}
