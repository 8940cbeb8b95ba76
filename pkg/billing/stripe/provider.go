package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 1000
	defaultCustomerSource    = "auto-pdf-converter"
	defaultSuccessURL        = "https://your-app.com/success?session_id={CHECKOUT_SESSION_ID}"
	defaultCancelURL         = "https://your-app.com/cancel"
	defaultPortalReturnURL   = "https://your-app.com/account"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Reconciler, secrets, metrics, ...)

	// CustomerSource is written to metadata.source of created customers
	CustomerSource string

	// Hosted page redirect targets
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string

	// API overrides the Stripe client (optional)
	API API
}

// Provider implements billing.Provider and billing.Issuer for Stripe
type Provider struct {
	config        Config
	api           API
	reconciler    *subscription.Reconciler
	interpreter   *Interpreter
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	tolerance     time.Duration
	metrics       billing.Metrics
	logger        subscription.Logger
}

var (
	_ billing.Provider = (*Provider)(nil)
	_ billing.Issuer   = (*Provider)(nil)
)

// NewProvider creates a new Stripe billing provider.
// A Reconciler and an API key are required. A missing webhook secret is not an
// error: the webhook handler answers 503 until one is configured.
func NewProvider(config Config) (*Provider, error) {
	if config.Reconciler == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	api := config.API
	if api == nil {
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		api = NewAPI(apiKey, httpClient)
	}

	if config.CustomerSource == "" {
		config.CustomerSource = defaultCustomerSource
	}
	if config.SuccessURL == "" {
		config.SuccessURL = defaultSuccessURL
	}
	if config.CancelURL == "" {
		config.CancelURL = defaultCancelURL
	}
	if config.PortalReturnURL == "" {
		config.PortalReturnURL = defaultPortalReturnURL
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &subscription.NoopLogger{}
	}

	var rateLimiter *internal.RateLimiter
	if config.RateLimitRequests >= 0 {
		limit := config.RateLimitRequests
		if limit == 0 {
			limit = defaultRateLimitRequests
		}
		window := config.RateLimitWindow
		if window <= 0 {
			window = defaultRateLimitWindow
		}
		rateLimiter = internal.NewRateLimiter(limit, window)
		rateLimiter.TrustProxyHeaders = config.TrustProxyHeaders
	}

	return &Provider{
		config:        config,
		api:           api,
		reconciler:    config.Reconciler,
		interpreter:   NewInterpreter(api, config.LookupTimeout, metrics),
		rateLimiter:   rateLimiter,
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		tolerance:     config.WebhookTolerance,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	if p.rateLimiter != nil {
		return p.rateLimiter.Middleware(handler)
	}
	return handler
}
