package stripe

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const defaultWebhookTolerance = webhook.DefaultTolerance

// VerifiedEvent is a webhook event whose signature has been checked.
type VerifiedEvent struct {
	ID      string
	Type    string
	Created time.Time
	// Object is the raw data.object payload
	Object json.RawMessage
}

// Verify checks the Stripe-Signature header against the raw request body.
//
// The body must be the exact bytes received. On failure the returned error is a
// *billing.Error of kind billing.ErrVerification whose message is the reason
// reported by the Stripe library.
func Verify(payload []byte, sigHeader, secret string, tolerance time.Duration) (*VerifiedEvent, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, billing.NewError(billing.ErrVerification, webhook.ErrNotSigned.Error(), webhook.ErrNotSigned)
	}
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, billing.NewError(billing.ErrVerification, err.Error(), err)
	}

	v := &VerifiedEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		v.Object = event.Data.Raw
	}
	return v, nil
}
