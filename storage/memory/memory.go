// Package memory provides an in-memory implementation of the subscription.ProfileStore interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// Storage implements subscription.ProfileStore using an in-memory map
// keyed by customer identifier.
type Storage struct {
	mu       sync.RWMutex
	profiles map[string]*subscription.Profile
	writes   map[string]int
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		profiles: make(map[string]*subscription.Profile),
		writes:   make(map[string]int),
	}
}

// SeedProfile implements subscription.ProfileSeeder.
// An existing profile for the same customer is replaced.
func (s *Storage) SeedProfile(_ context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyProfile(p)
	if c.Status == "" {
		c.Status = subscription.StatusNone
	}
	s.profiles[p.CustomerID] = c
	return nil
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", subscription.ErrStore, err)
	}
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[customerID]
	if !ok {
		return subscription.ErrProfileNotFound
	}
	if !upd.ApplyTo(p) {
		return subscription.ErrStaleEvent
	}
	s.writes[customerID]++
	return nil
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(_ context.Context, customerID string) (*subscription.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[customerID]
	if !ok {
		return nil, subscription.ErrProfileNotFound
	}
	// Return a copy to prevent external mutations
	return copyProfile(p), nil
}

// Delete removes the customer's profile. Missing profiles are not an error.
func (s *Storage) Delete(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, customerID)
	return nil
}

// Writes returns how many updates were applied to the customer's profile.
func (s *Storage) Writes(customerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[customerID]
}

// Now implements subscription.TimeSource
func (s *Storage) Now(_ context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Ping implements subscription.Pinger
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = make(map[string]*subscription.Profile)
	s.writes = make(map[string]int)
}

func copyProfile(p *subscription.Profile) *subscription.Profile {
	c := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	if p.PriceID != nil {
		id := *p.PriceID
		c.PriceID = &id
	}
	if p.EventAt != nil {
		t := *p.EventAt
		c.EventAt = &t
	}
	return &c
}
