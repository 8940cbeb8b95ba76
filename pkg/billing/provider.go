package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// Provider is the interface a billing backend exposes to the HTTP surface and CLI.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, interpretation and reconciliation.
	WebhookHandler() http.Handler

	// SyncCustomer pulls the customer's current subscription state from the
	// provider and reconciles it into the profile store. Used for repair jobs
	// and "restore purchases" flows.
	SyncCustomer(ctx context.Context, customerID string) (*subscription.Outcome, error)
}

// Issuer creates provider-side customers and hosted sessions.
type Issuer interface {
	CreateCustomer(ctx context.Context, email string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, priceID, customerID string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)
}

// Customer is the result of CreateCustomer.
type Customer struct {
	ID    string
	Email string
}

// CheckoutSession is the result of CreateCheckoutSession.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is the result of CreatePortalSession.
type PortalSession struct {
	URL string
}
