// Package gormstore provides a GORM implementation of the subscription.ProfileStore
// interface. Any GORM dialect works; OpenPostgres and OpenMySQL cover the
// drivers shipped with this module.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const defaultTable = "profiles"

// ProfileRecord is the row layout of the profiles table.
type ProfileRecord struct {
	StripeCustomerID      string     `gorm:"column:stripe_customer_id;primaryKey;size:255"`
	SubscriptionStatus    string     `gorm:"column:subscription_status;size:32;not null;default:none"`
	SubscriptionExpiresAt *time.Time `gorm:"column:subscription_expires_at"`
	SubscriptionPriceID   *string    `gorm:"column:subscription_price_id;size:255"`
	SubscriptionEventAt   *time.Time `gorm:"column:subscription_event_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

// Config holds GORM storage configuration
type Config struct {
	// Table is the profiles table name (default: "profiles")
	Table string
}

// Storage implements subscription.ProfileStore using GORM
type Storage struct {
	db    *gorm.DB
	table string
}

// OpenPostgres opens a GORM handle on PostgreSQL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// OpenMySQL opens a GORM handle on MySQL. The DSN must carry parseTime=True.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// New creates a GORM storage adapter on an open handle.
func New(db *gorm.DB, config Config) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	return &Storage{db: db, table: config.Table}, nil
}

// Migrate creates or alters the profiles table to match ProfileRecord.
func (s *Storage) Migrate() error {
	if err := s.db.Table(s.table).AutoMigrate(&ProfileRecord{}); err != nil {
		return fmt.Errorf("%w: migrate: %w", subscription.ErrStore, err)
	}
	return nil
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	result := s.update(s.db.WithContext(ctx), customerID, upd)
	if result.Error != nil {
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if !upd.Ordered {
		return subscription.ErrProfileNotFound
	}

	var count int64
	if err := s.db.WithContext(ctx).Table(s.table).
		Where("stripe_customer_id = ?", customerID).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: check profile: %w", subscription.ErrStore, err)
	}
	if count > 0 {
		return subscription.ErrStaleEvent
	}
	return subscription.ErrProfileNotFound
}

func (s *Storage) update(db *gorm.DB, customerID string, upd *subscription.Update) *gorm.DB {
	values := map[string]interface{}{
		"subscription_status": string(upd.Status),
		"updated_at":          upd.UpdatedAt.UTC(),
	}
	if upd.ExpiresAt != nil {
		values["subscription_expires_at"] = upd.ExpiresAt.UTC()
	}
	if upd.PriceID != nil {
		values["subscription_price_id"] = *upd.PriceID
	}
	if !upd.EventAt.IsZero() {
		values["subscription_event_at"] = upd.EventAt.UTC()
	}

	q := db.Table(s.table).Where("stripe_customer_id = ?", customerID)
	if upd.Ordered && !upd.EventAt.IsZero() {
		q = q.Where("(subscription_event_at IS NULL OR subscription_event_at <= ?)", upd.EventAt.UTC())
	}
	return q.Updates(values)
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	var rec ProfileRecord
	err := s.db.WithContext(ctx).Table(s.table).
		Where("stripe_customer_id = ?", customerID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscription.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %w", subscription.ErrStore, err)
	}
	return rec.toProfile(), nil
}

// SeedProfile implements subscription.ProfileSeeder.
// An existing row for the same customer is replaced.
func (s *Storage) SeedProfile(ctx context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}
	rec := fromProfile(p)
	if err := s.db.WithContext(ctx).Table(s.table).Save(rec).Error; err != nil {
		return fmt.Errorf("%w: seed profile: %w", subscription.ErrStore, err)
	}
	return nil
}

// Ping checks the underlying connection pool
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *ProfileRecord) toProfile() *subscription.Profile {
	p := &subscription.Profile{
		CustomerID: r.StripeCustomerID,
		Status:     subscription.Status(r.SubscriptionStatus),
		PriceID:    r.SubscriptionPriceID,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.SubscriptionExpiresAt != nil {
		t := r.SubscriptionExpiresAt.UTC()
		p.ExpiresAt = &t
	}
	if r.SubscriptionEventAt != nil {
		t := r.SubscriptionEventAt.UTC()
		p.EventAt = &t
	}
	return p
}

func fromProfile(p *subscription.Profile) *ProfileRecord {
	status := p.Status
	if status == "" {
		status = subscription.StatusNone
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return &ProfileRecord{
		StripeCustomerID:      p.CustomerID,
		SubscriptionStatus:    string(status),
		SubscriptionExpiresAt: p.ExpiresAt,
		SubscriptionPriceID:   p.PriceID,
		SubscriptionEventAt:   p.EventAt,
		UpdatedAt:             updatedAt,
	}
}
