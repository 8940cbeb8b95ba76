package subscription

import (
	"context"
	"fmt"
	"time"
)

// CircuitBreakerStore wraps a ProfileStore with circuit breaker protection.
type CircuitBreakerStore struct {
	store ProfileStore
	cb    CircuitBreaker
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store ProfileStore, cb CircuitBreaker) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    cb,
	}
}

// UpdateByCustomerID implements ProfileStore.
func (s *CircuitBreakerStore) UpdateByCustomerID(ctx context.Context, customerID string, upd *Update) error {
	err := s.cb.Execute(ctx, func() error {
		return s.store.UpdateByCustomerID(ctx, customerID, upd)
	})
	if err == ErrCircuitOpen {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return err
}

// GetByCustomerID implements ProfileReader when the wrapped store does.
func (s *CircuitBreakerStore) GetByCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	reader, ok := s.store.(ProfileReader)
	if !ok {
		return nil, fmt.Errorf("%w: store does not support reads", ErrStore)
	}
	var p *Profile
	err := s.cb.Execute(ctx, func() error {
		var e error
		p, e = reader.GetByCustomerID(ctx, customerID)
		return e
	})
	if err == ErrCircuitOpen {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return p, err
}

// Ping implements Pinger when the wrapped store does. Pings bypass the breaker.
func (s *CircuitBreakerStore) Ping(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Now implements TimeSource when the wrapped store does. Clock reads count
// as store calls, so an open circuit fails them without a round trip.
func (s *CircuitBreakerStore) Now(ctx context.Context) (time.Time, error) {
	ts, ok := s.store.(TimeSource)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: store has no clock", ErrStore)
	}
	var t time.Time
	err := s.cb.Execute(ctx, func() error {
		var e error
		t, e = ts.Now(ctx)
		return e
	})
	if err == ErrCircuitOpen {
		return time.Time{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return t, err
}

// State returns the breaker state.
func (s *CircuitBreakerStore) State() CircuitBreakerState {
	return s.cb.State()
}
