package stripe

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

// API is the subset of the Stripe API used by the provider.
// *stripe.Client is adapted by NewAPI; tests supply their own implementation.
type API interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(
		ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
	) (*stripe.BillingPortalSession, error)
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

type clientAPI struct {
	client *stripe.Client
}

// NewAPI builds an API backed by the official Stripe client.
// httpClient may be nil, in which case the SDK default is used.
func NewAPI(apiKey string, httpClient *http.Client) API {
	var client *stripe.Client
	if httpClient != nil {
		backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: httpClient})
		client = stripe.NewClient(apiKey, stripe.WithBackends(backends))
	} else {
		client = stripe.NewClient(apiKey)
	}
	return &clientAPI{client: client}
}

func (c *clientAPI) CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	return c.client.V1Customers.Create(ctx, params)
}

func (c *clientAPI) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientAPI) CreatePortalSession(
	ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	return c.client.V1BillingPortalSessions.Create(ctx, params)
}

func (c *clientAPI) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

// ListSubscriptions returns every subscription of the customer, including canceled ones.
func (c *clientAPI) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	var subs []*stripe.Subscription
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
