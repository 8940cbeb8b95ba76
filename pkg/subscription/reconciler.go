package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultStoreTimeout = 5 * time.Second

// Observer receives every reconciliation outcome. Observers run synchronously
// on the request path and must not block.
type Observer func(*Outcome)

// Config configures a Reconciler.
type Config struct {
	// Store is the profile store (required)
	Store ProfileStore

	// StoreTimeout bounds each store call (default: 5s)
	StoreTimeout time.Duration

	// EnforceEventOrder marks every update as ordered so that stores with
	// support skip events older than the last applied one. When false,
	// the last delivered event wins.
	EnforceEventOrder bool

	// CircuitBreakerConfig wraps Store with a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig

	// Now returns the processing time stamped on writes. When nil, the
	// store clock is used if Store implements TimeSource, with time.Now as
	// the fallback.
	Now func() time.Time

	// Metrics is used for tracking reconciliations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Observers are notified of every outcome, after the built-in log observer
	Observers []Observer
}

// Reconciler applies domain events to profile state.
type Reconciler struct {
	store        ProfileStore
	storeTimeout time.Duration
	ordered      bool
	clock        TimeSource
	now          func() time.Time
	metrics      Metrics
	logger       Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewReconciler creates a reconciler for the configured store.
func NewReconciler(config Config) (*Reconciler, error) {
	if config.Store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaultStoreTimeout
	}
	var clock TimeSource
	if config.Now == nil {
		clock, _ = config.Store.(TimeSource)
		config.Now = time.Now
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}

	store := config.Store
	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics := config.Metrics
		logger := config.Logger
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("profile store circuit breaker state changed", Field{Key: "state", Value: string(state)})
		})
		cbStore := NewCircuitBreakerStore(store, cb)
		if clock != nil {
			clock = cbStore
		}
		store = cbStore
	}

	r := &Reconciler{
		store:        store,
		storeTimeout: config.StoreTimeout,
		ordered:      config.EnforceEventOrder,
		clock:        clock,
		now:          config.Now,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}
	r.observers = append(r.observers, LogObserver(config.Logger))
	r.observers = append(r.observers, config.Observers...)
	return r, nil
}

// Store returns the (possibly wrapped) store used for writes.
func (r *Reconciler) Store() ProfileStore {
	return r.store
}

// AddObserver registers an additional outcome observer.
func (r *Reconciler) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Reconcile applies ev to the profile of its customer.
//
// Stale events (ordered stores only) are acknowledged: the returned error is
// nil and the outcome kind is OutcomeStale. Every other failure wraps
// ErrReconcile together with ErrProfileNotFound or ErrStore.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (*Outcome, error) {
	start := time.Now()
	if ev == nil {
		return nil, fmt.Errorf("%w: %w: nil event", ErrReconcile, ErrInvalidEvent)
	}
	meta := ev.Meta()
	out := &Outcome{
		EventID:    meta.EventID,
		EventType:  meta.EventType,
		CustomerID: meta.CustomerID,
		OccurredAt: meta.OccurredAt,
	}

	if strings.TrimSpace(meta.CustomerID) == "" {
		err := fmt.Errorf("%w: %w: missing customer id", ErrReconcile, ErrInvalidEvent)
		return r.finish(out, OutcomeFailed, err, start), err
	}

	var upd *Update
	switch e := ev.(type) {
	case *Activated:
		upd = &Update{
			Status:    StatusActive,
			ExpiresAt: timePtr(e.PeriodEnd),
			PriceID:   stringPtr(e.PriceID),
		}
	case *StatusChanged:
		upd = &Update{
			Status:    StatusFromProvider(e.ProviderStatus),
			ExpiresAt: timePtr(e.PeriodEnd),
			PriceID:   stringPtr(e.PriceID),
		}
	case *Cancelled:
		upd = &Update{
			Status:    StatusCancelled,
			ExpiresAt: timePtr(e.CutoffAt),
		}
	case *PaymentFailed:
		return r.finish(out, OutcomeLogged, nil, start), nil
	default:
		err := fmt.Errorf("%w: %w: unsupported event %T", ErrReconcile, ErrInvalidEvent, ev)
		return r.finish(out, OutcomeFailed, err, start), err
	}

	upd.UpdatedAt = r.stamp(ctx)
	upd.EventAt = meta.OccurredAt.UTC()
	upd.Ordered = r.ordered

	out.Status = upd.Status
	out.ExpiresAt = upd.ExpiresAt
	out.PriceID = upd.PriceID

	err := r.write(ctx, meta.CustomerID, upd)
	switch {
	case err == nil:
		r.metrics.RecordStatusTransition(string(upd.Status))
		return r.finish(out, OutcomeApplied, nil, start), nil
	case errors.Is(err, ErrStaleEvent):
		out.Status, out.ExpiresAt, out.PriceID = "", nil, nil
		return r.finish(out, OutcomeStale, nil, start), nil
	case errors.Is(err, ErrProfileNotFound):
		err = fmt.Errorf("%w: %w", ErrReconcile, err)
		return r.finish(out, OutcomeNotFound, err, start), err
	default:
		if !errors.Is(err, ErrStore) {
			err = fmt.Errorf("%w: %w", ErrStore, err)
		}
		err = fmt.Errorf("%w: %w", ErrReconcile, err)
		return r.finish(out, OutcomeFailed, err, start), err
	}
}

// stamp returns the processing time for a write, read from the store clock
// when one is available.
func (r *Reconciler) stamp(ctx context.Context) time.Time {
	if r.clock != nil {
		ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		defer cancel()
		t, err := r.clock.Now(ctx)
		if err == nil {
			return t.UTC()
		}
		r.logger.Warn("store clock unavailable, using local time", Field{Key: "error", Value: err.Error()})
	}
	return r.now().UTC()
}

func (r *Reconciler) write(ctx context.Context, customerID string, upd *Update) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.UpdateByCustomerID(ctx, customerID, upd)
	r.metrics.RecordStoreOperation("update_by_customer_id", time.Since(start), storeOutage(err))
	return err
}

func (r *Reconciler) finish(out *Outcome, kind OutcomeKind, err error, start time.Time) *Outcome {
	out.Kind = kind
	out.Err = err
	out.Duration = time.Since(start)

	r.metrics.RecordReconciliation(out.EventType, string(kind))
	r.metrics.RecordReconcileDuration(out.EventType, out.Duration)

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o(out)
	}
	return out
}

// storeOutage filters domain results out of store error metrics.
func storeOutage(err error) error {
	if err == nil || isDomainResult(err) {
		return nil
	}
	return err
}

// timePtr and stringPtr map missing event values to nil, which leaves the
// stored field unchanged.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func stringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
