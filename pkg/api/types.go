package api

import "time"

// CreateCustomerRequest is the body of POST /create-customer
type CreateCustomerRequest struct {
	Email string `json:"email" validate:"max=320"`
}

// CreateCustomerResponse is returned by POST /create-customer
type CreateCustomerResponse struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}

// CreateCheckoutSessionRequest is the body of POST /create-checkout-session
type CreateCheckoutSessionRequest struct {
	PriceID    string `json:"priceId" validate:"max=255"`
	CustomerID string `json:"customerId" validate:"max=255"`
}

// CreateCheckoutSessionResponse is returned by POST /create-checkout-session
type CreateCheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CustomerRequest is the body of POST /create-portal-session and POST /sync-customer
type CustomerRequest struct {
	CustomerID string `json:"customerId" validate:"max=255"`
}

// CreatePortalSessionResponse is returned by POST /create-portal-session
type CreatePortalSessionResponse struct {
	URL string `json:"url"`
}

// SyncCustomerResponse is returned by POST /sync-customer
type SyncCustomerResponse struct {
	CustomerID string     `json:"customer_id"`
	Outcome    string     `json:"outcome"`
	Status     string     `json:"status,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	PriceID    *string    `json:"price_id,omitempty"`
}

// ErrorResponse is the body of every unsuccessful API response
type ErrorResponse struct {
	Error string `json:"error"`
}
