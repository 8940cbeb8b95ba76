// Package subscription reconciles billing-provider subscription events into
// persisted profile state. It owns the local subscription state machine and
// the narrow contract profile stores must satisfy.
package subscription

import "time"

// Status is the locally persisted subscription state of a profile.
type Status string

const (
	// StatusNone means no subscription event was ever applied to the profile.
	StatusNone Status = "none"
	// StatusActive means the provider reports the subscription as paid and current.
	StatusActive Status = "active"
	// StatusInactive means the subscription exists but is not in good standing
	// (past_due, unpaid, incomplete, trialing without payment, ...).
	StatusInactive Status = "inactive"
	// StatusCancelled means the subscription was deleted on the provider side.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusInactive, StatusCancelled:
		return true
	}
	return false
}

// StatusFromProvider maps a provider subscription status onto the local state
// machine. Only the exact value "active" counts as active.
func StatusFromProvider(providerStatus string) Status {
	if providerStatus == string(StatusActive) {
		return StatusActive
	}
	return StatusInactive
}

// Profile is the subscription snapshot merged into a user profile.
type Profile struct {
	// CustomerID is the provider customer identifier (join key, immutable)
	CustomerID string

	Status    Status
	ExpiresAt *time.Time
	PriceID   *string

	// UpdatedAt is the processing time of the last reconciliation write
	UpdatedAt time.Time

	// EventAt is the provider creation time of the last applied event.
	// Only maintained by stores that support ordered updates.
	EventAt *time.Time
}

// Update is the set of fields a reconciliation writes for one customer.
// A nil pointer field means "leave unchanged".
type Update struct {
	Status    Status
	ExpiresAt *time.Time
	PriceID   *string
	UpdatedAt time.Time

	// EventAt is the provider creation time of the originating event.
	EventAt time.Time

	// Ordered asks the store to apply the update only when EventAt is not
	// older than the stored event time. Stores without support ignore it.
	Ordered bool
}

// Clone returns a deep copy of the update.
func (u *Update) Clone() *Update {
	if u == nil {
		return nil
	}
	c := *u
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	if u.PriceID != nil {
		p := *u.PriceID
		c.PriceID = &p
	}
	return &c
}

// ApplyTo merges the update into p following the store contract.
// It returns false when the update is rejected as stale.
func (u *Update) ApplyTo(p *Profile) bool {
	if u.Ordered && p.EventAt != nil && u.EventAt.Before(*p.EventAt) {
		return false
	}
	p.Status = u.Status
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		p.ExpiresAt = &t
	}
	if u.PriceID != nil {
		price := *u.PriceID
		p.PriceID = &price
	}
	p.UpdatedAt = u.UpdatedAt
	if !u.EventAt.IsZero() {
		at := u.EventAt
		p.EventAt = &at
	}
	return true
}

// OutcomeKind classifies the result of one reconciliation.
type OutcomeKind string

const (
	OutcomeApplied  OutcomeKind = "applied"
	OutcomeLogged   OutcomeKind = "logged"
	OutcomeStale    OutcomeKind = "stale"
	OutcomeNotFound OutcomeKind = "not_found"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the structured record produced for every reconciled event.
type Outcome struct {
	Kind       OutcomeKind
	EventID    string
	EventType  string
	CustomerID string
	// Status is the state written (empty when nothing was written)
	Status     Status
	ExpiresAt  *time.Time
	PriceID    *string
	OccurredAt time.Time
	Duration   time.Duration
	Err        error
}
