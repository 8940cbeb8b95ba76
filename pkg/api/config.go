package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

// Config holds configuration for the session/customer API handler
type Config struct {
	// Issuer creates customers and hosted sessions (required)
	Issuer billing.Issuer

	// Provider serves the customer sync endpoint. If nil, /sync-customer
	// is not registered.
	Provider billing.Provider

	// Logger records failed requests. If nil, nothing is logged.
	Logger subscription.Logger

	// OnError handles errors (validation, provider, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Issuer == nil {
		return fmt.Errorf("issuer is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &subscription.NoopLogger{}
	}
	return &Handler{
		config:   config,
		validate: newValidator(),
	}, nil
}
