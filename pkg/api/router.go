package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	httpmw "github.com/mihaimyh/subsync/middleware/http"
)

const healthTimeout = 2 * time.Second

// RouterConfig describes the routes served by NewRouter
type RouterConfig struct {
	// Handler serves the session/customer endpoints (required)
	Handler *Handler

	// Webhook serves POST /stripe-webhook. If nil, the route is not registered.
	Webhook http.Handler

	// Metrics serves GET /metrics. If nil, the route is not registered.
	Metrics http.Handler

	// Health is checked by GET /healthz. If nil, /healthz always reports ok.
	Health func(ctx context.Context) error

	// CORS configures the browser-facing endpoints
	CORS httpmw.Config

	// Middlewares run before every route
	Middlewares []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP surface of the service
func NewRouter(config RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	for _, mw := range config.Middlewares {
		r.Use(mw)
	}

	h := config.Handler
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Middleware(config.CORS))

		routes := map[string]http.HandlerFunc{
			"/create-customer":         h.CreateCustomer,
			"/create-checkout-session": h.CreateCheckoutSession,
			"/create-portal-session":   h.CreatePortalSession,
		}
		if h.config.Provider != nil {
			routes["/sync-customer"] = h.SyncCustomer
		}
		for path, fn := range routes {
			r.Post(path, fn)
			// Answered by the CORS middleware
			r.Options(path, func(http.ResponseWriter, *http.Request) {})
		}
	})

	if config.Webhook != nil {
		// The webhook handler enforces its own method and body rules.
		r.Handle("/stripe-webhook", config.Webhook)
		r.With(httpmw.Middleware(config.CORS)).Options("/stripe-webhook", func(http.ResponseWriter, *http.Request) {})
	}
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}
	r.Get("/healthz", healthHandler(config.Health))

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
