package stripe

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// handleWebhook verifies, interprets and reconciles one Stripe delivery.
//
// Verification failures answer 400 with the verification reason as plain
// text. Processing failures answer 400 with "Webhook error: <reason>" so
// that Stripe redelivers. Everything else is acknowledged with
// {"received": true}.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	internal.SetSecurityHeaders(w)

	result := billing.WebhookEvent{Provider: providerName}
	eventType := "unknown"
	status := "error"
	defer func() {
		p.metrics.RecordWebhookEvent(providerName, eventType, status)
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
		if p.config.WebhookCallback != nil {
			p.config.WebhookCallback(result)
		}
	}()

	reject := func(code int, errorType, body string, err error) {
		result.StatusCode = code
		result.Err = err
		p.metrics.RecordWebhookError(providerName, errorType)
		internal.WriteText(w, code, body)
	}

	if r.Method != http.MethodPost {
		reject(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
		return
	}
	if p.webhookSecret == "" {
		reject(http.StatusServiceUnavailable, "not_configured", "webhook not configured", billing.ErrProviderNotConfigured)
		return
	}

	payload, err := internal.ReadBodyStrict(w, r, webhookBodyLimit)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			reject(http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large", err)
		} else {
			reject(http.StatusBadRequest, "invalid_payload", err.Error(), err)
		}
		return
	}

	ev, err := Verify(payload, r.Header.Get("Stripe-Signature"), p.webhookSecret, p.tolerance)
	if err != nil {
		p.logger.Warn("stripe webhook verification failed",
			subscription.Field{Key: "error", Value: err.Error()},
			subscription.Field{Key: "remote_ip", Value: internal.ClientIP(r, p.config.TrustProxyHeaders)},
		)
		reject(http.StatusBadRequest, "verification_failed", err.Error(), err)
		return
	}

	eventType = ev.Type
	result.EventID = ev.ID
	result.EventType = ev.Type
	result.EventTimestamp = ev.Created

	domainEvent, err := p.interpreter.Interpret(r.Context(), ev)
	if err != nil {
		errorType := "invalid_payload"
		if errors.Is(err, billing.ErrLookup) {
			errorType = "lookup_failed"
		}
		p.logger.Error("stripe webhook interpretation failed",
			subscription.Field{Key: "event_id", Value: ev.ID},
			subscription.Field{Key: "event_type", Value: ev.Type},
			subscription.Field{Key: "error", Value: err.Error()},
		)
		reject(http.StatusBadRequest, errorType, "Webhook error: "+err.Error(), err)
		return
	}

	if domainEvent == nil {
		p.logger.Debug("unhandled stripe event type",
			subscription.Field{Key: "event_id", Value: ev.ID},
			subscription.Field{Key: "event_type", Value: ev.Type},
		)
		status = "ignored"
		acknowledge(w, &result)
		return
	}

	outcome, err := p.reconciler.Reconcile(r.Context(), domainEvent)
	result.Outcome = outcome
	if err != nil {
		reject(http.StatusBadRequest, "reconcile_failed", "Webhook error: "+err.Error(), err)
		return
	}

	status = "success"
	if outcome != nil && outcome.Kind == subscription.OutcomeStale {
		status = "stale"
	}
	acknowledge(w, &result)
}

func acknowledge(w http.ResponseWriter, result *billing.WebhookEvent) {
	result.StatusCode = http.StatusOK
	internal.WriteJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}
