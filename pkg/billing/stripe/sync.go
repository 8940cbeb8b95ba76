package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	endpointListSubscriptions = "/v1/subscriptions"
	syncEventType             = "sync"
)

// SyncCustomer pulls the customer's subscriptions from Stripe and reconciles
// the most relevant one into the profile store.
//
// An active subscription wins; otherwise the most recently created
// non-canceled one; a customer whose subscriptions are all canceled is marked
// cancelled. A customer without subscriptions returns billing.ErrCustomerNotFound.
func (p *Provider) SyncCustomer(ctx context.Context, customerID string) (*subscription.Outcome, error) {
	start := time.Now()
	status := "error"
	defer func() {
		p.metrics.RecordCustomerSync(providerName, status)
		p.metrics.RecordCustomerSyncDuration(providerName, time.Since(start))
	}()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, billing.NewError(billing.ErrInvalidRequest, msgCustomerRequired, nil)
	}

	callStart := time.Now()
	subs, err := p.api.ListSubscriptions(ctx, customerID)
	if err := p.recordCall(endpointListSubscriptions, callStart, err); err != nil {
		return nil, err
	}

	sub := pickSubscription(subs)
	if sub == nil {
		return nil, billing.NewError(billing.ErrCustomerNotFound, "no subscriptions for customer "+customerID, nil)
	}

	periodEnd, priceID := subscriptionPeriod(sub)
	m := subscription.EventMeta{
		EventID:    syncEventType + ":" + sub.ID,
		EventType:  syncEventType,
		OccurredAt: time.Now().UTC(),
		CustomerID: customerID,
	}

	var ev subscription.Event
	if sub.Status == stripe.SubscriptionStatusCanceled {
		cutoff := periodEnd
		if cutoff.IsZero() {
			cutoff = unixTime(sub.EndedAt)
		}
		ev = &subscription.Cancelled{EventMeta: m, SubscriptionID: sub.ID, CutoffAt: cutoff}
	} else {
		ev = &subscription.StatusChanged{
			EventMeta:      m,
			SubscriptionID: sub.ID,
			PeriodEnd:      periodEnd,
			PriceID:        priceID,
			ProviderStatus: string(sub.Status),
		}
	}

	outcome, err := p.reconciler.Reconcile(ctx, ev)
	if err != nil {
		return outcome, err
	}
	status = "success"
	return outcome, nil
}

// pickSubscription chooses the subscription that best describes the customer.
func pickSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var current, canceled *stripe.Subscription
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		switch {
		case sub.Status == stripe.SubscriptionStatusActive:
			if current == nil || current.Status != stripe.SubscriptionStatusActive || sub.Created > current.Created {
				current = sub
			}
		case sub.Status == stripe.SubscriptionStatusCanceled:
			if canceled == nil || sub.Created > canceled.Created {
				canceled = sub
			}
		default:
			if current == nil || (current.Status != stripe.SubscriptionStatusActive && sub.Created > current.Created) {
				current = sub
			}
		}
	}
	if current != nil {
		return current
	}
	return canceled
}
