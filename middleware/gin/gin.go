// Package gin mounts the subscription API on a Gin router and provides the
// matching CORS/request ID middleware.
package gin

import (
	"net/http"
	"strings"

	gongin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	httpmw "github.com/mihaimyh/subsync/middleware/http"
	"github.com/mihaimyh/subsync/pkg/api"
)

// RequestIDKey is the Gin context key holding the request ID
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
}

// Middleware creates a Gin middleware that adds CORS headers, answers
// preflight requests with "ok" and tags each request with an ID.
func Middleware(cfg Config) gongin.HandlerFunc {
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

	return func(c *gongin.Context) {
		c.Header("Access-Control-Allow-Origin", cfg.AllowOrigin)
		c.Header("Access-Control-Allow-Headers", allowHeaders)

		if c.Request.Method == http.MethodOptions {
			c.String(http.StatusOK, "ok")
			c.Abort()
			return
		}

		id := c.GetHeader(cfg.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(cfg.RequestIDHeader, id)
		c.Request = c.Request.WithContext(httpmw.WithRequestID(c.Request.Context(), id))
		c.Next()
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
func Register(router gongin.IRouter, cfg Config, routes Routes) {
	if routes.Handler == nil {
		panic("subsync/gin: Routes.Handler is required")
	}

	group := router.Group("", Middleware(cfg))
	endpoints := map[string]http.HandlerFunc{
		"/create-customer":         routes.Handler.CreateCustomer,
		"/create-checkout-session": routes.Handler.CreateCheckoutSession,
		"/create-portal-session":   routes.Handler.CreatePortalSession,
	}
	if routes.Sync {
		endpoints["/sync-customer"] = routes.Handler.SyncCustomer
	}
	for path, fn := range endpoints {
		group.POST(path, gongin.WrapF(fn))
		group.OPTIONS(path, func(*gongin.Context) {})
	}

	if routes.Webhook != nil {
		router.Match(webhookMethods, "/stripe-webhook", gongin.WrapH(routes.Webhook))
		group.OPTIONS("/stripe-webhook", func(*gongin.Context) {})
	}
}

// RequestID returns the request ID set by Middleware, or ""
func RequestID(c *gongin.Context) string {
	return c.GetString(RequestIDKey)
}
