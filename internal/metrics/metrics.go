// Package metrics exposes the ambient Prometheus instrumentation shared
// between the HTTP surface and the MCTS phase engine, modeled on the
// teacher's internal/background/metrics.go NewWorkerPoolMetrics shape:
// promauto-registered counters/gauges/histograms under one namespace.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, gauge, and histogram the search core
// registers at process start.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SessionsActive prometheus.Gauge
	TasksActive    prometheus.Gauge

	PhaseIterationsTotal *prometheus.CounterVec
	PhaseConvergedTotal  *prometheus.CounterVec
	TreeSize             *prometheus.GaugeVec

	EvaluatorCallDuration *prometheus.HistogramVec
	EvaluatorCallsTotal   *prometheus.CounterVec
}

// New registers and returns the search core's metrics on promauto's
// default registry. Each process must call this exactly once, since a
// second call panics on duplicate registration; tests therefore share one
// instance (see getTestMetrics in internal/httpapi/router_test.go),
// matching the teacher's pattern of one NewWorkerPoolMetrics() call per
// pool.
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled, by route and status.",
		}, []string{"route", "status"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
		}, []string{"route"}),

		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "sessions_active",
			Help:      "Number of sessions currently held by the manager.",
		}),

		TasksActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "tasks_active",
			Help:      "Number of non-terminal tasks currently tracked.",
		}),

		PhaseIterationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "phase_iterations_total",
			Help:      "Total number of MCTS phase iterations run, by phase name.",
		}, []string{"phase"}),

		PhaseConvergedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "phase_converged_total",
			Help:      "Total number of phase runs that ended in each terminal state.",
		}, []string{"phase", "outcome"}),

		TreeSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "tree_node_count",
			Help:      "Current node count of a session's tree.",
		}, []string{"session_id"}),

		EvaluatorCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "evaluator_call_duration_seconds",
			Help:      "Evaluator RunChallenge latency, by environment name.",
		}, []string{"environment"}),

		EvaluatorCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prismbench",
			Subsystem: "searchcore",
			Name:      "evaluator_calls_total",
			Help:      "Total evaluator calls, by environment name and outcome.",
		}, []string{"environment", "outcome"}),
	}
}

// ObserveEvaluatorCall records one RunChallenge call's latency and outcome.
func (m *Metrics) ObserveEvaluatorCall(environment string, start time.Time, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.EvaluatorCallDuration.WithLabelValues(environment).Observe(time.Since(start).Seconds())
	m.EvaluatorCallsTotal.WithLabelValues(environment, outcome).Inc()
}

// ObservePhaseIteration increments the per-phase iteration counter.
func (m *Metrics) ObservePhaseIteration(phase string) {
	if m == nil {
		return
	}
	m.PhaseIterationsTotal.WithLabelValues(phase).Inc()
}

// ObservePhaseOutcome records how a phase run ended: converged, exhausted,
// cancelled, or timeout.
func (m *Metrics) ObservePhaseOutcome(phase, outcome string) {
	if m == nil {
		return
	}
	m.PhaseConvergedTotal.WithLabelValues(phase, outcome).Inc()
}

// SetTreeSize records a session's current node count.
func (m *Metrics) SetTreeSize(sessionID string, size int) {
	if m == nil {
		return
	}
	m.TreeSize.WithLabelValues(sessionID).Set(float64(size))
}
