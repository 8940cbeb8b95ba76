package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements subscription.Metrics using Prometheus.
type Metrics struct {
	reconciliationsTotal       *prometheus.CounterVec
	reconcileDuration          *prometheus.HistogramVec
	statusTransitionsTotal     *prometheus.CounterVec
	storeOpsDuration           *prometheus.HistogramVec
	storeOpsErrors             *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconciliations_total",
			Help:      "Total number of reconciled subscription events by outcome.",
		}, []string{"event_type", "outcome"}),

		reconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconcile_duration_seconds",
			Help:      "Latency of subscription reconciliations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		statusTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "status_writes_total",
			Help:      "Total number of subscription status writes by written status.",
		}, []string{"status"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of profile store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "store_operation_errors_total",
			Help:      "Total number of profile store operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of profile store circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordReconciliation(eventType, outcome string) {
	m.reconciliationsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordReconcileDuration(eventType string, duration time.Duration) {
	m.reconcileDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordStatusTransition(status string) {
	m.statusTransitionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
