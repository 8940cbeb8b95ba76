package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var states []CircuitBreakerState
	cb := NewDefaultCircuitBreaker(3, time.Minute, func(s CircuitBreakerState) {
		states = append(states, s)
	})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func() error { return boom })
		assert.Equal(t, boom, err)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, []CircuitBreakerState{StateOpen}, states)

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewDefaultCircuitBreaker(1, 10*time.Second, nil)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// failed probe re-opens
	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_DomainResultsDoNotTrip(t *testing.T) {
	cb := NewDefaultCircuitBreaker(1, time.Minute, nil)
	ctx := context.Background()

	err := cb.Execute(ctx, func() error { return ErrProfileNotFound })
	assert.ErrorIs(t, err, ErrProfileNotFound)
	err = cb.Execute(ctx, func() error { return ErrStaleEvent })
	assert.ErrorIs(t, err, ErrStaleEvent)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := NewDefaultCircuitBreaker(1, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewDefaultCircuitBreaker(0, 0, nil)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}

type readerStore struct {
	profile *Profile
	err     error
}

func (s *readerStore) UpdateByCustomerID(_ context.Context, _ string, _ *Update) error {
	return s.err
}

func (s *readerStore) GetByCustomerID(_ context.Context, _ string) (*Profile, error) {
	return s.profile, s.err
}

func TestCircuitBreakerStore_DelegatesReads(t *testing.T) {
	inner := &readerStore{profile: &Profile{CustomerID: "cus_1", Status: StatusActive}}
	s := NewCircuitBreakerStore(inner, NewDefaultCircuitBreaker(1, time.Minute, nil))

	p, err := s.GetByCustomerID(context.Background(), "cus_1")
	assert.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
}

type writeOnlyStore struct{}

func (writeOnlyStore) UpdateByCustomerID(_ context.Context, _ string, _ *Update) error { return nil }

func TestCircuitBreakerStore_ReadUnsupported(t *testing.T) {
	s := NewCircuitBreakerStore(writeOnlyStore{}, NewDefaultCircuitBreaker(1, time.Minute, nil))

	_, err := s.GetByCustomerID(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrStore)
}

func TestCircuitBreakerStore_OpenCircuitWrapsErrStore(t *testing.T) {
	inner := &readerStore{err: errors.New("timeout")}
	s := NewCircuitBreakerStore(inner, NewDefaultCircuitBreaker(1, time.Minute, nil))
	ctx := context.Background()

	_ = s.UpdateByCustomerID(ctx, "cus_1", &Update{Status: StatusActive})
	err := s.UpdateByCustomerID(ctx, "cus_1", &Update{Status: StatusActive})

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, s.State())
}

type clockedStore struct {
	writeOnlyStore
	err error
}

func (s clockedStore) Now(context.Context) (time.Time, error) {
	return time.Unix(1700000000, 0), s.err
}

func TestCircuitBreakerStore_Now(t *testing.T) {
	ctx := context.Background()

	_, err := NewCircuitBreakerStore(writeOnlyStore{}, NewDefaultCircuitBreaker(1, time.Minute, nil)).Now(ctx)
	assert.ErrorIs(t, err, ErrStore)

	s := NewCircuitBreakerStore(clockedStore{}, NewDefaultCircuitBreaker(1, time.Minute, nil))
	now, err := s.Now(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1700000000), now.Unix())

	s = NewCircuitBreakerStore(clockedStore{err: errors.New("clock down")}, NewDefaultCircuitBreaker(1, time.Minute, nil))
	_, _ = s.Now(ctx)
	_, err = s.Now(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrStore)
}

func TestUpdate_CloneIsDeep(t *testing.T) {
	exp := time.Unix(1700000000, 0)
	price := "price_A"
	u := &Update{Status: StatusActive, ExpiresAt: &exp, PriceID: &price}

	c := u.Clone()
	*c.PriceID = "price_B"
	*c.ExpiresAt = exp.Add(time.Hour)

	assert.Equal(t, "price_A", *u.PriceID)
	assert.True(t, u.ExpiresAt.Equal(exp))
	assert.Nil(t, (*Update)(nil).Clone())
}
