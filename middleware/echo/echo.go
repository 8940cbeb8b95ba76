// Package echo mounts the subscription API on an Echo router and provides
// the matching CORS/request ID middleware.
package echo

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	httpmw "github.com/mihaimyh/subsync/middleware/http"
	"github.com/mihaimyh/subsync/pkg/api"
)

// RequestIDKey is the Echo context key holding the request ID
const RequestIDKey = "subsync.requestID"

// Router is satisfied by *echo.Echo and *echo.Group
type Router interface {
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	Match(methods []string, path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) []*echo.Route
}

// Config holds middleware configuration
type Config struct {
	// AllowOrigin is sent as Access-Control-Allow-Origin
	// Default: "*"
	AllowOrigin string

	// AllowHeaders is sent as Access-Control-Allow-Headers
	// Default: authorization, x-client-info, apikey, content-type
	AllowHeaders []string

	// RequestIDHeader names the request ID header
	// Default: "X-Request-ID"
	RequestIDHeader string
}

// Routes are the handlers mounted by Register
type Routes struct {
	// Handler serves the session/customer endpoints (required)
	Handler *api.Handler

	// Webhook serves /stripe-webhook (optional)
	Webhook http.Handler

	// Sync mounts /sync-customer
	Sync bool
}

// Middleware creates an Echo middleware that adds CORS headers, answers
// preflight requests with "ok" and tags each request with an ID.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = httpmw.DefaultAllowOrigin
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = httpmw.DefaultAllowHeaders
	}
	if cfg.RequestIDHeader == "" {
		cfg.RequestIDHeader = httpmw.DefaultRequestIDHeader
	}
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
			h.Set("Access-Control-Allow-Headers", allowHeaders)

			if c.Request().Method == http.MethodOptions {
				return c.String(http.StatusOK, "ok")
			}

			id := c.Request().Header.Get(cfg.RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(RequestIDKey, id)
			h.Set(cfg.RequestIDHeader, id)
			c.SetRequest(c.Request().WithContext(httpmw.WithRequestID(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// webhookMethods are forwarded to the webhook handler, which rejects all but
// POST itself. OPTIONS is answered by the CORS middleware.
var webhookMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodHead, http.MethodDelete,
}

// Register mounts the API endpoints on router. The CORS middleware applies
// to the API endpoints and the webhook preflight; webhook deliveries are
// served as-is.
func Register(router Router, cfg Config, routes Routes) {
	if routes.Handler == nil {
		panic("subsync/echo: Routes.Handler is required")
	}

	mw := Middleware(cfg)
	endpoints := map[string]http.HandlerFunc{
		"/create-customer":         routes.Handler.CreateCustomer,
		"/create-checkout-session": routes.Handler.CreateCheckoutSession,
		"/create-portal-session":   routes.Handler.CreatePortalSession,
	}
	if routes.Sync {
		endpoints["/sync-customer"] = routes.Handler.SyncCustomer
	}
	for path, fn := range endpoints {
		router.POST(path, echo.WrapHandler(fn), mw)
		router.OPTIONS(path, func(echo.Context) error { return nil }, mw)
	}

	if routes.Webhook != nil {
		router.Match(webhookMethods, "/stripe-webhook", echo.WrapHandler(routes.Webhook))
		router.OPTIONS("/stripe-webhook", func(echo.Context) error { return nil }, mw)
	}
}

// RequestID returns the request ID set by Middleware, or ""
func RequestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
