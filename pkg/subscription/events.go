package subscription

import "time"

// EventMeta carries the provider metadata shared by every domain event.
type EventMeta struct {
	// EventID is the provider event identifier (evt_...)
	EventID string
	// EventType is the provider event type (e.g. "customer.subscription.updated")
	EventType string
	// OccurredAt is the provider creation time of the event
	OccurredAt time.Time
	// CustomerID is the provider customer the event belongs to
	CustomerID string
}

// Meta returns the event metadata.
func (m EventMeta) Meta() EventMeta { return m }

// Event is a closed set of domain events. Only the types declared in this
// package implement it.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// Activated is produced when a checkout completes and the subscription is paid.
type Activated struct {
	EventMeta
	SubscriptionID string
	PeriodEnd      time.Time
	// PriceID is empty when the subscription has no items
	PriceID string
}

// StatusChanged is produced when the provider updates a subscription.
type StatusChanged struct {
	EventMeta
	SubscriptionID string
	PeriodEnd      time.Time
	PriceID        string
	ProviderStatus string
}

// Cancelled is produced when the provider deletes a subscription.
type Cancelled struct {
	EventMeta
	SubscriptionID string
	// CutoffAt is the end of the last paid period
	CutoffAt time.Time
}

// PaymentFailed is produced when an invoice payment fails. It never changes state.
type PaymentFailed struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
	AttemptCount   int64
}

func (*Activated) isEvent()     {}
func (*StatusChanged) isEvent() {}
func (*Cancelled) isEvent()     {}
func (*PaymentFailed) isEvent() {}
