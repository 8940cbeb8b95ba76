// Package tiered provides a Hot/Cold tiered profile store. The cold store is
// the source of truth and receives every write first; the hot store is a
// read-optimized mirror refreshed after each successful cold write.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the mirror (e.g., Redis, Memory) serving reads
	Hot subscription.ProfileStore

	// Cold is the durable store (e.g., Postgres, Firestore) and the source of truth
	Cold subscription.ProfileStore

	// AsyncMirror refreshes the hot store from a background worker instead
	// of inside the write call.
	AsyncMirror bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a mirror refresh fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements subscription.ProfileStore over a hot mirror and a cold store.
// Strategies per operation:
// - Write-Through: UpdateByCustomerID (Cold, then refresh Hot)
// - Read-Through: GetByCustomerID (Hot, then Cold with read-repair)
type Storage struct {
	hot  subscription.ProfileStore
	cold subscription.ProfileStore
	conf Config

	// Channel for async synchronization
	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncMirror {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncMirror {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Jobs run sequentially so refreshes for one customer keep their order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered sync failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

// UpdateByCustomerID implements subscription.ProfileStore with write-through strategy.
// The result is always the cold store's result; hot failures only reach
// AsyncErrorHandler.
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	// 1. Write Cold (Durability)
	if err := s.cold.UpdateByCustomerID(ctx, customerID, upd); err != nil {
		return err
	}

	// 2. Refresh Hot (Availability)
	if !s.conf.AsyncMirror {
		if err := s.syncHot(ctx, customerID, upd); err != nil {
			s.reportError(fmt.Errorf("tiered storage: hot refresh failed: %w", err))
		}
		return nil
	}

	updClone := upd.Clone()
	select {
	case s.syncQueue <- func() error {
		// Context background ensures completion even if request cancels
		return s.syncHot(context.Background(), customerID, updClone)
	}:
	default:
		s.reportError(errors.New("tiered storage: sync queue full, dropping hot refresh"))
	}
	return nil
}

// evicter is implemented by hot stores that can drop a mirrored profile.
type evicter interface {
	Delete(ctx context.Context, customerID string) error
}

// syncHot refreshes the mirror and evicts the customer from it when the
// refresh fails, so reads fall through to the cold store.
func (s *Storage) syncHot(ctx context.Context, customerID string, upd *subscription.Update) error {
	err := s.refreshHot(ctx, customerID, upd)
	if err == nil {
		return nil
	}
	if ev, ok := s.hot.(evicter); ok {
		if derr := ev.Delete(ctx, customerID); derr != nil {
			return errors.Join(err, fmt.Errorf("evict: %w", derr))
		}
	}
	return err
}

// refreshHot copies the cold row into the hot store when both sides
// support it, and otherwise replays the update on the hot store.
func (s *Storage) refreshHot(ctx context.Context, customerID string, upd *subscription.Update) error {
	reader, canRead := s.cold.(subscription.ProfileReader)
	seeder, canSeed := s.hot.(subscription.ProfileSeeder)
	if canRead && canSeed {
		p, err := reader.GetByCustomerID(ctx, customerID)
		if err != nil {
			return err
		}
		return seeder.SeedProfile(ctx, p)
	}

	err := s.hot.UpdateByCustomerID(ctx, customerID, upd)
	if errors.Is(err, subscription.ErrProfileNotFound) || errors.Is(err, subscription.ErrStaleEvent) {
		// Mirror does not hold this customer yet; reads will repair it.
		return nil
	}
	return err
}

// GetByCustomerID implements subscription.ProfileReader with read-through strategy.
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	// 1. Try Hot
	if hot, ok := s.hot.(subscription.ProfileReader); ok {
		if p, err := hot.GetByCustomerID(ctx, customerID); err == nil {
			return p, nil
		}
	}

	// 2. Try Cold (Source of Truth)
	cold, ok := s.cold.(subscription.ProfileReader)
	if !ok {
		return nil, fmt.Errorf("%w: cold store cannot read profiles", subscription.ErrStore)
	}
	p, err := cold.GetByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	// 3. Populate Hot (Read-Repair)
	if seeder, ok := s.hot.(subscription.ProfileSeeder); ok {
		_ = seeder.SeedProfile(ctx, p) //nolint:errcheck // Cache fill - errors are non-critical
	}
	return p, nil
}

// Ping reports the cold store's health. The hot store is optional for
// correctness, so its failures are only reported to AsyncErrorHandler.
func (s *Storage) Ping(ctx context.Context) error {
	if p, ok := s.hot.(subscription.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			s.reportError(fmt.Errorf("tiered storage: hot ping failed: %w", err))
		}
	}
	if p, ok := s.cold.(subscription.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Now uses the cold store clock when available, then the hot one, then local time.
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	if ts, ok := s.cold.(subscription.TimeSource); ok {
		return ts.Now(ctx)
	}
	if ts, ok := s.hot.(subscription.TimeSource); ok {
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}
