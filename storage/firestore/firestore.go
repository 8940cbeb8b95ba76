// Package firestore provides a Firestore implementation of the subscription.ProfileStore interface.
// Profiles are located by their stripe_customer_id field and updated inside a transaction.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	fieldCustomerID = "stripe_customer_id"
	fieldStatus     = "subscription_status"
	fieldExpiresAt  = "subscription_expires_at"
	fieldPriceID    = "subscription_price_id"
	fieldEventAt    = "subscription_event_at"
	fieldUpdatedAt  = "updated_at"
)

// Storage implements subscription.ProfileStore using Google Cloud Firestore
type Storage struct {
	client             *firestore.Client
	profilesCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// ProfilesCollection is the Firestore collection holding user profiles
	// Default: "profiles"
	ProfilesCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.ProfilesCollection == "" {
		config.ProfilesCollection = "profiles"
	}

	return &Storage{
		client:             client,
		profilesCollection: config.ProfilesCollection,
	}, nil
}

func (s *Storage) byCustomer(customerID string) firestore.Query {
	return s.client.Collection(s.profilesCollection).Where(fieldCustomerID, "==", customerID).Limit(2)
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(s.byCustomer(customerID)).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return subscription.ErrProfileNotFound
		}
		if len(snaps) > 1 {
			return fmt.Errorf("%w: multiple profiles for customer %s", subscription.ErrStore, customerID)
		}
		snap := snaps[0]

		if upd.Ordered && !upd.EventAt.IsZero() {
			if stored := getTime(snap.Data(), fieldEventAt); !stored.IsZero() && upd.EventAt.Before(stored) {
				return subscription.ErrStaleEvent
			}
		}

		updates := []firestore.Update{
			{Path: fieldStatus, Value: string(upd.Status)},
			{Path: fieldUpdatedAt, Value: upd.UpdatedAt.UTC()},
		}
		if upd.ExpiresAt != nil {
			updates = append(updates, firestore.Update{Path: fieldExpiresAt, Value: upd.ExpiresAt.UTC()})
		}
		if upd.PriceID != nil {
			updates = append(updates, firestore.Update{Path: fieldPriceID, Value: *upd.PriceID})
		}
		if !upd.EventAt.IsZero() {
			updates = append(updates, firestore.Update{Path: fieldEventAt, Value: upd.EventAt.UTC()})
		}
		return tx.Update(snap.Ref, updates)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, subscription.ErrProfileNotFound),
		errors.Is(err, subscription.ErrStaleEvent),
		errors.Is(err, subscription.ErrStore):
		return err
	default:
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, err)
	}
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	snaps, err := s.byCustomer(customerID).Documents(ctx).GetAll()
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subscription.ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: get profile: %w", subscription.ErrStore, err)
	}
	if len(snaps) == 0 {
		return nil, subscription.ErrProfileNotFound
	}

	data := snaps[0].Data()
	p := &subscription.Profile{
		CustomerID: customerID,
		Status:     subscription.Status(getString(data, fieldStatus)),
		UpdatedAt:  getTime(data, fieldUpdatedAt),
	}
	if t := getTime(data, fieldExpiresAt); !t.IsZero() {
		p.ExpiresAt = &t
	}
	if t := getTime(data, fieldEventAt); !t.IsZero() {
		p.EventAt = &t
	}
	if price := getString(data, fieldPriceID); price != "" {
		p.PriceID = &price
	}
	return p, nil
}

// SeedProfile implements subscription.ProfileSeeder. The document id is the
// customer identifier.
func (s *Storage) SeedProfile(ctx context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}
	st := p.Status
	if st == "" {
		st = subscription.StatusNone
	}

	data := map[string]interface{}{
		fieldCustomerID: p.CustomerID,
		fieldStatus:     string(st),
		fieldUpdatedAt:  p.UpdatedAt.UTC(),
	}
	if p.ExpiresAt != nil {
		data[fieldExpiresAt] = p.ExpiresAt.UTC()
	}
	if p.PriceID != nil {
		data[fieldPriceID] = *p.PriceID
	}
	if p.EventAt != nil {
		data[fieldEventAt] = p.EventAt.UTC()
	}

	if _, err := s.client.Collection(s.profilesCollection).Doc(p.CustomerID).Set(ctx, data); err != nil {
		return fmt.Errorf("%w: seed profile: %w", subscription.ErrStore, err)
	}
	return nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
