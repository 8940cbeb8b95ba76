// Package sentryalert reports reconciliation failures to Sentry.
package sentryalert

import (
	"github.com/getsentry/sentry-go"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// NewObserver returns an observer that captures not_found and failed outcomes
// on hub. A nil hub uses sentry.CurrentHub().
//
// Missing profiles are reported at warning level; a customer paying without a
// matching profile usually means the profile was never created.
func NewObserver(hub *sentry.Hub) subscription.Observer {
	return func(out *subscription.Outcome) {
		if out == nil || out.Err == nil {
			return
		}

		var level sentry.Level
		switch out.Kind {
		case subscription.OutcomeFailed:
			level = sentry.LevelError
		case subscription.OutcomeNotFound:
			level = sentry.LevelWarning
		default:
			return
		}

		h := hub
		if h == nil {
			h = sentry.CurrentHub()
		}
		// Observers run on concurrent deliveries; each capture gets its own scope.
		h = h.Clone()
		scope := h.Scope()
		scope.SetLevel(level)
		scope.SetTag("event_type", out.EventType)
		scope.SetTag("outcome", string(out.Kind))
		scope.SetContext("subscription", sentry.Context{
			"event_id":    out.EventID,
			"customer_id": out.CustomerID,
			"occurred_at": out.OccurredAt.String(),
		})
		h.CaptureException(out.Err)
	}
}
