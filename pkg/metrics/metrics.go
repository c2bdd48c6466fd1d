// Package metrics exposes Prometheus instrumentation for run execution:
// in-flight node count, per-node step latency, and retry counts, namespaced
// under "workflow_".
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects run-execution instrumentation. The zero value is not
// usable; construct with New.
type Metrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
}

// New registers the workflow_* metrics with registry and returns a Metrics
// instrumenting the run orchestrator's level-parallel execution.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "inflight_nodes",
			Help:      "Number of node executions currently dispatched within the active level",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "queue_depth",
			Help:      "Number of nodes queued for the next execution level",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds, from dispatch to a terminal result",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 120000},
		}, []string{"node_kind", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "retries_total",
			Help:      "Cumulative count of assembly-resolution retry attempts",
		}, []string{"reason"}),
	}
}

// RecordStepLatency observes a node execution's duration. status is
// "success" or "error". A nil receiver is a no-op, so instrumentation stays
// optional for callers that never configured a Metrics.
func (m *Metrics) RecordStepLatency(nodeKind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(nodeKind, status).Observe(float64(d.Milliseconds()))
}

// IncrementRetries increments the retries_total counter for reason.
func (m *Metrics) IncrementRetries(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

// SetInflightNodes sets the current in-flight node count for the active
// level.
func (m *Metrics) SetInflightNodes(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}

// SetQueueDepth sets the size of the next pending execution level.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until ctx
// is canceled, then shuts the server down. Returns nil on a clean shutdown.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
