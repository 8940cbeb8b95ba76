// Package http provides net/http middleware for the browser-facing API:
// permissive CORS, preflight answers and request IDs.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultAllowOrigin is the Access-Control-Allow-Origin value used when none is configured
	DefaultAllowOrigin = "*"

	// DefaultRequestIDHeader carries the request ID in both directions
	DefaultRequestIDHeader = "X-Request-ID"

	preflightBody = "ok"
)

// DefaultAllowHeaders is the Access-Control-Allow-Headers list used when none is configured
var DefaultAllowHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

// Config holds middleware configuration
type Config struct {
	// AllowOrigin is sent as Access-Control-Allow-Origin
	// Default: "*"
	AllowOrigin string

	// AllowHeaders is sent as Access-Control-Allow-Headers
	// Default: DefaultAllowHeaders
	AllowHeaders []string

	// RequestIDHeader names the header read from the request and echoed in the response
	// Default: "X-Request-ID"
	RequestIDHeader string

	// NewRequestID generates IDs for requests that do not carry one
	// Default: uuid.NewString
	NewRequestID func() string

	// OnPreflight is called for OPTIONS requests
	// If nil, returns 200 with body "ok"
	OnPreflight func(w http.ResponseWriter, r *http.Request)
}

func (c *Config) applyDefaults() {
	if c.AllowOrigin == "" {
		c.AllowOrigin = DefaultAllowOrigin
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = DefaultAllowHeaders
	}
	if c.RequestIDHeader == "" {
		c.RequestIDHeader = DefaultRequestIDHeader
	}
	if c.NewRequestID == nil {
		c.NewRequestID = uuid.NewString
	}
}

// Middleware creates an HTTP middleware that adds CORS headers to every
// response, answers preflight requests and tags each request with an ID.
func Middleware(config Config) func(http.Handler) http.Handler {
	config.applyDefaults()
	allowHeaders := strings.Join(config.AllowHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", config.AllowOrigin)
			h.Set("Access-Control-Allow-Headers", allowHeaders)

			if r.Method == http.MethodOptions {
				if config.OnPreflight != nil {
					config.OnPreflight(w, r)
				} else {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(preflightBody)) //nolint:errcheck // Response already started
				}
				return
			}

			id := r.Header.Get(config.RequestIDHeader)
			if id == "" {
				id = config.NewRequestID()
			}
			h.Set(config.RequestIDHeader, id)

			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for the request ID
	RequestIDKey ContextKey = "subsync:requestID"
)

// WithRequestID adds the request ID to a context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext returns the request ID stored by the middleware, or ""
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
