package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	endpointCustomers        = "/v1/customers"
	endpointCheckoutSessions = "/v1/checkout/sessions"
	endpointPortalSessions   = "/v1/billing_portal/sessions"

	msgEmailRequired         = "Email is required"
	msgPriceCustomerRequired = "Price ID and Customer ID are required"
	msgCustomerRequired      = "Customer ID is required"
)

// CreateCustomer creates a Stripe customer tagged with the configured source.
func (p *Provider) CreateCustomer(ctx context.Context, email string) (*billing.Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		p.metrics.RecordAPICall(providerName, endpointCustomers, "invalid_request")
		return nil, billing.NewError(billing.ErrInvalidRequest, msgEmailRequired, nil)
	}

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("source", p.config.CustomerSource)

	start := time.Now()
	cust, err := p.api.CreateCustomer(ctx, params)
	if err := p.recordCall(endpointCustomers, start, err); err != nil {
		return nil, err
	}
	return &billing.Customer{ID: cust.ID, Email: cust.Email}, nil
}

// CreateCheckoutSession starts a hosted subscription checkout for one unit of
// priceID. The customer id is recorded in both the session and the resulting
// subscription metadata.
func (p *Provider) CreateCheckoutSession(
	ctx context.Context, priceID, customerID string,
) (*billing.CheckoutSession, error) {
	priceID = strings.TrimSpace(priceID)
	customerID = strings.TrimSpace(customerID)
	if priceID == "" || customerID == "" {
		p.metrics.RecordAPICall(providerName, endpointCheckoutSessions, "invalid_request")
		return nil, billing.NewError(billing.ErrInvalidRequest, msgPriceCustomerRequired, nil)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.config.SuccessURL),
		CancelURL:  stripe.String(p.config.CancelURL),
	}
	params.AddMetadata("customer_id", customerID)
	params.AddMetadata("price_id", priceID)
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("customer_id", customerID)

	start := time.Now()
	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err := p.recordCall(endpointCheckoutSessions, start, err); err != nil {
		return nil, err
	}
	return &billing.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession opens a billing portal session for an existing customer.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID string) (*billing.PortalSession, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		p.metrics.RecordAPICall(providerName, endpointPortalSessions, "invalid_request")
		return nil, billing.NewError(billing.ErrInvalidRequest, msgCustomerRequired, nil)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.config.PortalReturnURL),
	}

	start := time.Now()
	session, err := p.api.CreatePortalSession(ctx, params)
	if err := p.recordCall(endpointPortalSessions, start, err); err != nil {
		return nil, err
	}
	return &billing.PortalSession{URL: session.URL}, nil
}

// recordCall records the call metrics and converts a provider error into a
// *billing.Error carrying the provider's own message.
func (p *Provider) recordCall(endpoint string, start time.Time, err error) error {
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return billing.NewError(billing.ErrProviderAPIError, providerMessage(err), err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")
	return nil
}
