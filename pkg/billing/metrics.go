package billing

import "time"

// Metrics receives provider-level measurements: webhook deliveries, customer
// syncs and outbound API calls. Reconciliation itself is measured by
// subscription.Metrics.
type Metrics interface {
	// RecordWebhookEvent counts one delivery. status is "success", "ignored"
	// (no subscription meaning), "stale" or "error".
	RecordWebhookEvent(provider, eventType, status string)
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError counts a rejected delivery by reason, e.g.
	// "verification_failed", "payload_too_large", "lookup_failed", "reconcile_failed".
	RecordWebhookError(provider, errorType string)

	RecordCustomerSync(provider, status string)
	RecordCustomerSyncDuration(provider string, duration time.Duration)

	// RecordAPICall counts an outbound call. endpoint is the provider path
	// template ("/v1/checkout/sessions"); status is "success", "error" or
	// "invalid_request" when input validation stopped the call.
	RecordAPICall(provider, endpoint, status string)
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (*NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (*NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (*NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (*NoopMetrics) RecordCustomerSync(_, _ string)                               {}
func (*NoopMetrics) RecordCustomerSyncDuration(_ string, _ time.Duration)         {}
func (*NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (*NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
