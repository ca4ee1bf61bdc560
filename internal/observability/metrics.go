package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects policy engine metrics.
type Metrics interface {
	RecordEvaluation(result string, duration time.Duration)
	RecordViolation(violationType string)
	RecordMutation(changeType string)
	RecordConflict(conflictType string)
	RecordSimulation(deals int)
}

// PrometheusMetrics implements Metrics on a private registry
type PrometheusMetrics struct {
	registry           *prometheus.Registry
	evaluations        *prometheus.CounterVec
	violations         *prometheus.CounterVec
	mutations          *prometheus.CounterVec
	conflicts          *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	simulationDeals    prometheus.Histogram
}

// NewPrometheusMetrics registers the engine's collectors on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		registry: registry,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_evaluations_total",
			Help: "Total number of deal guardrail evaluations by result",
		}, []string{"result"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_violations_total",
			Help: "Total number of guardrail violations by type",
		}, []string{"type"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_mutations_total",
			Help: "Total number of committed policy mutations by change type",
		}, []string{"change_type"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_conflicts_detected_total",
			Help: "Total number of recorded policy conflicts by type",
		}, []string{"conflict_type"}),
		evaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardrail_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a deal against the active policy set",
			Buckets: prometheus.DefBuckets,
		}),
		simulationDeals: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policy_simulation_deals",
			Help:    "Number of test deals per simulation run",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
	}
}

func (m *PrometheusMetrics) RecordEvaluation(result string, duration time.Duration) {
	m.evaluations.WithLabelValues(result).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordViolation(violationType string) {
	m.violations.WithLabelValues(violationType).Inc()
}

func (m *PrometheusMetrics) RecordMutation(changeType string) {
	m.mutations.WithLabelValues(changeType).Inc()
}

func (m *PrometheusMetrics) RecordConflict(conflictType string) {
	m.conflicts.WithLabelValues(conflictType).Inc()
}

func (m *PrometheusMetrics) RecordSimulation(deals int) {
	m.simulationDeals.Observe(float64(deals))
}

// Registry exposes the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordEvaluation(string, time.Duration) {}
func (NopMetrics) RecordViolation(string)                 {}
func (NopMetrics) RecordMutation(string)                  {}
func (NopMetrics) RecordConflict(string)                  {}
func (NopMetrics) RecordSimulation(int)                   {}
