package billing

import (
	"net/http"
	"time"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Reconciler applies interpreted events to profile state (required)
	Reconciler *subscription.Reconciler

	// WebhookSecret is the signing secret used to verify incoming webhook requests.
	WebhookSecret string

	// WebhookTolerance is the maximum accepted age of a signed webhook timestamp.
	// Defaults to 5 minutes.
	WebhookTolerance time.Duration

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// LookupTimeout bounds synchronous provider lookups made while interpreting
	// an event. Defaults to 10 seconds.
	LookupTimeout time.Duration

	// RateLimitRequests and RateLimitWindow configure the per-IP webhook rate limit.
	// Defaults: 1000 requests per minute. A negative RateLimitRequests disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// TrustProxyHeaders keys the rate limit and logs by X-Forwarded-For or
	// X-Real-IP. Leave it off unless a proxy in front overwrites them.
	TrustProxyHeaders bool

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// Logger is used for request-level logging (default: subscription.NoopLogger)
	Logger subscription.Logger

	// WebhookCallback is called after every webhook delivery has been handled,
	// successful or not. It runs synchronously; keep it fast.
	WebhookCallback func(WebhookEvent)
}
