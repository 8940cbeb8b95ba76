// Package fiber mounts the subscription API on a Fiber router and provides
// the matching CORS/request ID middleware.
package fiber

import (
	"net/http"
	"strings"

	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"

	httpmw "github.com/mihaimyh/subsync/middleware/http"
	"github.com/mihaimyh/subsync/pkg/api"
)

// RequestIDKey is the Fiber locals key holding the request ID
const RequestIDKey = "subsync.requestID"

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

	// Sentry attaches a Sentry hub to every mounted route and reports panics
	Sentry bool
}

// Middleware creates a Fiber middleware that adds CORS headers, answers
// preflight requests with "ok" and tags each request with an ID.
func Middleware(cfg Config) fiber.Handler {
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

	return func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
		c.Set("Access-Control-Allow-Headers", allowHeaders)

		if c.Method() == fiber.MethodOptions {
			return c.Status(fiber.StatusOK).SendString("ok")
		}

		id := c.Get(cfg.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(RequestIDKey, id)
		c.Set(cfg.RequestIDHeader, id)
		return c.Next()
	}
}

// Register mounts the API endpoints on router. The CORS middleware applies
// to the API endpoints and the webhook preflight; webhook deliveries are
// served as-is.
func Register(router fiber.Router, cfg Config, routes Routes) {
	if routes.Handler == nil {
		panic("subsync/fiber: Routes.Handler is required")
	}

	var handlers []fiber.Handler
	if routes.Sentry {
		handlers = append(handlers, sentryfiber.New(sentryfiber.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}

	mw := chain(handlers, Middleware(cfg))
	endpoints := map[string]http.HandlerFunc{
		"/create-customer":         routes.Handler.CreateCustomer,
		"/create-checkout-session": routes.Handler.CreateCheckoutSession,
		"/create-portal-session":   routes.Handler.CreatePortalSession,
	}
	if routes.Sync {
		endpoints["/sync-customer"] = routes.Handler.SyncCustomer
	}
	for path, fn := range endpoints {
		router.Post(path, chain(mw, adaptor.HTTPHandlerFunc(fn))...)
		router.Options(path, chain(mw, func(*fiber.Ctx) error { return nil })...)
	}

	if routes.Webhook != nil {
		// Registered first so it wins over All
		router.Options("/stripe-webhook", chain(mw, func(*fiber.Ctx) error { return nil })...)
		router.All("/stripe-webhook", chain(handlers, adaptor.HTTPHandler(routes.Webhook))...)
	}
}

// chain returns a new slice so routes never share a backing array.
func chain(base []fiber.Handler, h ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(base)+len(h))
	out = append(out, base...)
	return append(out, h...)
}

// RequestID returns the request ID set by Middleware, or ""
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
