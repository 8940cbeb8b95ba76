package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventSubscriptionUpdated   = "customer.subscription.updated"
	eventSubscriptionDeleted   = "customer.subscription.deleted"
	eventInvoicePaymentFailed  = "invoice.payment_failed"
	checkoutModeSubscription   = "subscription"
	defaultLookupTimeout       = 10 * time.Second
	endpointRetrieveSubscribed = "/v1/subscriptions/{id}"
)

// Interpreter maps verified Stripe events to subscription events.
type Interpreter struct {
	api           API
	lookupTimeout time.Duration
	metrics       billing.Metrics
	lookups       singleflight.Group
}

// NewInterpreter creates an interpreter. api is used for the subscription
// lookup performed on checkout completion.
func NewInterpreter(api API, lookupTimeout time.Duration, metrics billing.Metrics) *Interpreter {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Interpreter{api: api, lookupTimeout: lookupTimeout, metrics: metrics}
}

// Interpret decodes ev into a subscription event.
//
// A nil event with a nil error means the event type (or this particular
// object, e.g. a one-off payment checkout) carries no subscription meaning.
// Decoding problems return billing.ErrInvalidPayload; a failed provider
// lookup returns billing.ErrLookup.
func (i *Interpreter) Interpret(ctx context.Context, ev *VerifiedEvent) (subscription.Event, error) {
	if ev == nil {
		return nil, billing.NewError(billing.ErrInvalidPayload, "missing event", nil)
	}

	switch ev.Type {
	case eventCheckoutCompleted:
		return i.checkoutCompleted(ctx, ev)
	case eventSubscriptionUpdated:
		return subscriptionUpdated(ev)
	case eventSubscriptionDeleted:
		return subscriptionDeleted(ev)
	case eventInvoicePaymentFailed:
		return paymentFailed(ev)
	default:
		return nil, nil
	}
}

func meta(ev *VerifiedEvent, customerID string) subscription.EventMeta {
	return subscription.EventMeta{
		EventID:    ev.ID,
		EventType:  ev.Type,
		OccurredAt: ev.Created,
		CustomerID: customerID,
	}
}

func (i *Interpreter) checkoutCompleted(ctx context.Context, ev *VerifiedEvent) (subscription.Event, error) {
	var session checkoutSessionObject
	if err := decodeObject(ev, &session); err != nil {
		return nil, err
	}
	if session.Mode != "" && session.Mode != checkoutModeSubscription {
		return nil, nil
	}
	subID := session.Subscription.ID
	if subID == "" {
		return nil, nil
	}

	sub, err := i.retrieveSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	customerID := session.Customer.ID
	if customerID == "" && sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if customerID == "" {
		return nil, invalidPayload(ev, "checkout session has no customer")
	}

	periodEnd, priceID := subscriptionPeriod(sub)
	return &subscription.Activated{
		EventMeta:      meta(ev, customerID),
		SubscriptionID: subID,
		PeriodEnd:      periodEnd,
		PriceID:        priceID,
	}, nil
}

// retrieveSubscription fetches the subscription once per id across concurrent
// deliveries. Each lookup is bounded by the interpreter's lookup timeout.
func (i *Interpreter) retrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	start := time.Now()
	v, err, _ := i.lookups.Do(id, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(ctx, i.lookupTimeout)
		defer cancel()
		return i.api.RetrieveSubscription(lctx, id)
	})
	i.metrics.RecordAPICallDuration(providerName, endpointRetrieveSubscribed, time.Since(start))
	if err != nil {
		i.metrics.RecordAPICall(providerName, endpointRetrieveSubscribed, "error")
		return nil, billing.NewError(billing.ErrLookup, providerMessage(err), err)
	}
	sub, _ := v.(*stripe.Subscription)
	if sub == nil {
		i.metrics.RecordAPICall(providerName, endpointRetrieveSubscribed, "error")
		return nil, billing.NewError(billing.ErrLookup, fmt.Sprintf("subscription %s not returned", id), nil)
	}
	i.metrics.RecordAPICall(providerName, endpointRetrieveSubscribed, "success")
	return sub, nil
}

func subscriptionUpdated(ev *VerifiedEvent) (subscription.Event, error) {
	var sub subscriptionObject
	if err := decodeObject(ev, &sub); err != nil {
		return nil, err
	}
	if sub.Customer.ID == "" {
		return nil, invalidPayload(ev, "subscription has no customer")
	}
	return &subscription.StatusChanged{
		EventMeta:      meta(ev, sub.Customer.ID),
		SubscriptionID: sub.ID,
		PeriodEnd:      unixTime(sub.periodEnd()),
		PriceID:        sub.priceID(),
		ProviderStatus: sub.Status,
	}, nil
}

func subscriptionDeleted(ev *VerifiedEvent) (subscription.Event, error) {
	var sub subscriptionObject
	if err := decodeObject(ev, &sub); err != nil {
		return nil, err
	}
	if sub.Customer.ID == "" {
		return nil, invalidPayload(ev, "subscription has no customer")
	}
	cutoff := sub.periodEnd()
	if cutoff == 0 {
		cutoff = sub.EndedAt
	}
	return &subscription.Cancelled{
		EventMeta:      meta(ev, sub.Customer.ID),
		SubscriptionID: sub.ID,
		CutoffAt:       unixTime(cutoff),
	}, nil
}

func paymentFailed(ev *VerifiedEvent) (subscription.Event, error) {
	var inv invoiceObject
	if err := decodeObject(ev, &inv); err != nil {
		return nil, err
	}
	if inv.Customer.ID == "" {
		return nil, invalidPayload(ev, "invoice has no customer")
	}
	subID := inv.Subscription.ID
	if subID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		subID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return &subscription.PaymentFailed{
		EventMeta:      meta(ev, inv.Customer.ID),
		InvoiceID:      inv.ID,
		SubscriptionID: subID,
		AttemptCount:   inv.AttemptCount,
	}, nil
}

func decodeObject(ev *VerifiedEvent, dst interface{}) error {
	if len(bytes.TrimSpace(ev.Object)) == 0 {
		return invalidPayload(ev, "missing data.object")
	}
	if err := json.Unmarshal(ev.Object, dst); err != nil {
		return billing.NewError(billing.ErrInvalidPayload, fmt.Sprintf("decode %s: %v", ev.Type, err), err)
	}
	return nil
}

func invalidPayload(ev *VerifiedEvent, msg string) error {
	return billing.NewError(billing.ErrInvalidPayload, fmt.Sprintf("%s %s: %s", ev.Type, ev.ID, msg), nil)
}

// subscriptionPeriod returns the current period end and price of the first item.
func subscriptionPeriod(sub *stripe.Subscription) (time.Time, string) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return time.Time{}, ""
	}
	item := sub.Items.Data[0]
	priceID := ""
	if item.Price != nil {
		priceID = item.Price.ID
	}
	return unixTime(item.CurrentPeriodEnd), priceID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// providerMessage extracts the human-readable message of a Stripe API error.
func providerMessage(err error) string {
	var serr *stripe.Error
	if errors.As(err, &serr) && strings.TrimSpace(serr.Msg) != "" {
		return serr.Msg
	}
	return err.Error()
}

// expandableID decodes a reference that Stripe sends either as a bare id or
// as an expanded object.
type expandableID struct {
	ID string
}

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type checkoutSessionObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionItemObject struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            *struct {
		ID string `json:"id"`
	} `json:"price"`
}

type subscriptionObject struct {
	ID       string       `json:"id"`
	Customer expandableID `json:"customer"`
	Status   string       `json:"status"`
	// Older API versions carry the period on the subscription itself
	CurrentPeriodEnd int64 `json:"current_period_end"`
	EndedAt          int64 `json:"ended_at"`
	Items            struct {
		Data []subscriptionItemObject `json:"data"`
	} `json:"items"`
}

func (s *subscriptionObject) periodEnd() int64 {
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return s.CurrentPeriodEnd
}

func (s *subscriptionObject) priceID() string {
	if len(s.Items.Data) == 0 || s.Items.Data[0].Price == nil {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	AttemptCount int64        `json:"attempt_count"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}
