package subscription

import "time"

// Metrics defines the interface for tracking reconciliation and store operations.
type Metrics interface {
	// RecordReconciliation records one reconciled event.
	// outcome is one of the OutcomeKind values.
	RecordReconciliation(eventType, outcome string)

	// RecordReconcileDuration records how long a reconciliation took.
	RecordReconcileDuration(eventType string, duration time.Duration)

	// RecordStatusTransition records the status written for a customer.
	RecordStatusTransition(status string)

	// RecordStoreOperation records the duration and status of a store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconciliation(eventType, outcome string)                           {}
func (n *NoopMetrics) RecordReconcileDuration(eventType string, duration time.Duration)         {}
func (n *NoopMetrics) RecordStatusTransition(status string)                                     {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                             {}
