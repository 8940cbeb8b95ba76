// Package prommetrics exports billing provider metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const subsystem = "billing"

// latencyBuckets cover a local verify+write (ms) up to a slow provider
// lookup bounded by the lookup timeout.
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	customerSyncTotal         *prometheus.CounterVec
	customerSyncDuration      *prometheus.HistogramVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
}

var _ billing.Metrics = (*Metrics)(nil)

// NewMetrics registers the billing collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
			Buckets: latencyBuckets,
		}, labels)
	}

	return &Metrics{
		webhookEventsTotal: counter("webhook_events_total",
			"Webhook deliveries by provider event type and result (success, ignored, stale, error).",
			"provider", "event_type", "status"),
		webhookProcessingDuration: histogram("webhook_processing_duration_seconds",
			"Time from request receipt to response for webhook deliveries.",
			"provider", "event_type"),
		webhookErrorsTotal: counter("webhook_errors_total",
			"Rejected webhook deliveries by reason.",
			"provider", "error_type"),
		customerSyncTotal: counter("customer_sync_total",
			"On-demand customer subscription syncs by result.",
			"provider", "status"),
		customerSyncDuration: histogram("customer_sync_duration_seconds",
			"Duration of on-demand customer syncs, provider listing included.",
			"provider"),
		apiCallsTotal: counter("api_calls_total",
			"Outbound provider API calls by endpoint and result.",
			"provider", "endpoint", "status"),
		apiCallDuration: histogram("api_call_duration_seconds",
			"Latency of outbound provider API calls.",
			"provider", "endpoint"),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(provider, eventType string, d time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(provider, eventType).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookError(provider, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordCustomerSync(provider, status string) {
	m.customerSyncTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordCustomerSyncDuration(provider string, d time.Duration) {
	m.customerSyncDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordAPICall(provider, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(provider, endpoint string, d time.Duration) {
	m.apiCallDuration.WithLabelValues(provider, endpoint).Observe(d.Seconds())
}

// DefaultMetrics registers on the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
