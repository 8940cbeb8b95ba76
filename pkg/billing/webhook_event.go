package billing

import (
	"time"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// WebhookEvent describes one handled webhook delivery. It is passed to
// Config.WebhookCallback after the response status has been decided.
type WebhookEvent struct {
	// Provider is the billing provider name ("stripe")
	Provider string

	// EventID is the provider event identifier (empty when verification failed)
	EventID string

	// EventType is the provider-specific event type
	EventType string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// StatusCode is the HTTP status returned to the provider
	StatusCode int

	// Outcome is the reconciliation outcome. Nil for unhandled event types and
	// for deliveries rejected before reconciliation.
	Outcome *subscription.Outcome

	// Err is the error that caused a non-2xx response, if any
	Err error
}
