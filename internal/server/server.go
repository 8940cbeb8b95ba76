// Package server wires configuration, storage, the Stripe provider and the
// HTTP surface into a runnable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/subsync/internal/config"
	httpmw "github.com/mihaimyh/subsync/middleware/http"
	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
	billingmetrics "github.com/mihaimyh/subsync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/subsync/pkg/billing/stripe"
	"github.com/mihaimyh/subsync/pkg/subscription"
	sentryalert "github.com/mihaimyh/subsync/pkg/subscription/alert/sentry"
	zerologadapter "github.com/mihaimyh/subsync/pkg/subscription/logger/zerolog"
	subscriptionmetrics "github.com/mihaimyh/subsync/pkg/subscription/metrics/prometheus"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Server is the assembled service.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      *Store
	registry   *prometheus.Registry
	reconciler *subscription.Reconciler
	provider   *stripe.Provider
	handler    http.Handler
}

// Option customizes New.
type Option func(*options)

type options struct {
	store     subscription.ProfileStore
	stripeAPI stripe.API
	registry  *prometheus.Registry
}

// WithStore uses store instead of opening the configured driver.
func WithStore(store subscription.ProfileStore) Option {
	return func(o *options) { o.store = store }
}

// WithStripeAPI replaces the Stripe client.
func WithStripeAPI(api stripe.API) Option {
	return func(o *options) { o.stripeAPI = api }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the service. Close must be called to release the store.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: logger}

	if o.store != nil {
		s.store = &Store{ProfileStore: o.store}
	} else {
		st, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.store = st
	}

	s.registry = o.registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	subLogger := zerologadapter.NewLogger(&s.logger)

	observers := []subscription.Observer{}
	if cfg.SentryDSN != "" {
		observers = append(observers, sentryalert.NewObserver(sentry.CurrentHub()))
	}

	reconciler, err := subscription.NewReconciler(subscription.Config{
		Store:             s.store.ProfileStore,
		StoreTimeout:      cfg.StoreTimeout,
		EnforceEventOrder: cfg.EnforceEventOrder,
		CircuitBreakerConfig: &subscription.CircuitBreakerConfig{
			Enabled: cfg.CircuitBreaker,
		},
		Metrics:   subscriptionmetrics.NewMetrics(s.registry, cfg.MetricsNamespace),
		Logger:    subLogger,
		Observers: observers,
	})
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	s.reconciler = reconciler

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Reconciler:        reconciler,
			WebhookSecret:     cfg.StripeWebhookSecret,
			WebhookTolerance:  cfg.WebhookTolerance,
			APIKey:            cfg.StripeSecretKey,
			LookupTimeout:     cfg.LookupTimeout,
			RateLimitRequests: cfg.RateLimitRequests,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
			Metrics:           billingmetrics.NewMetrics(s.registry, cfg.MetricsNamespace),
			Logger:            subLogger,
		},
		CustomerSource:  cfg.CustomerSource,
		SuccessURL:      cfg.SuccessURL,
		CancelURL:       cfg.CancelURL,
		PortalReturnURL: cfg.PortalReturnURL,
		API:             o.stripeAPI,
	})
	if err != nil {
		_ = s.store.Close()
		return nil, fmt.Errorf("create stripe provider: %w", err)
	}
	s.provider = provider

	handler, err := api.NewHandler(api.Config{
		Issuer:   provider,
		Provider: provider,
		Logger:   subLogger,
	})
	if err != nil {
		_ = s.store.Close()
		return nil, err
	}

	var middlewares []func(http.Handler) http.Handler
	if cfg.SentryDSN != "" {
		middlewares = append(middlewares, sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	middlewares = append(middlewares, accessLog(logger))

	s.handler = api.NewRouter(api.RouterConfig{
		Handler: handler,
		Webhook: provider.WebhookHandler(),
		Metrics: promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
		Health:  s.store.Ping,
		CORS: httpmw.Config{
			AllowOrigin: cfg.AllowOrigin,
		},
		Middlewares: middlewares,
	})

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Provider returns the Stripe provider, used by the sync command.
func (s *Server) Provider() billing.Provider {
	return s.provider
}

// Reconciler returns the reconciler writing to the configured store.
func (s *Server) Reconciler() *subscription.Reconciler {
	return s.reconciler
}

// Run serves HTTP on cfg.ListenAddr until ctx is cancelled, then drains
// in-flight requests for up to cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().
			Str("addr", srv.Addr).
			Str("store", s.cfg.StoreDriver).
			Bool("webhook_configured", s.cfg.StripeWebhookSecret != "").
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases the profile store.
func (s *Server) Close() error {
	return s.store.Close()
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			event := logger.Debug()
			if rec.status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Str("request_id", w.Header().Get(httpmw.DefaultRequestIDHeader)).
				Msg("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
