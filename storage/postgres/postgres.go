// Package postgres provides a PostgreSQL implementation of the subscription.ProfileStore interface.
// Updates are single UPDATE statements keyed by the customer identifier; the
// optional ordering guard is evaluated in the WHERE clause.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const defaultTable = "profiles"

// Schema is the minimal profiles layout this adapter reads and writes.
// Applications usually own the table; Migrate exists for development and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	stripe_customer_id      TEXT PRIMARY KEY,
	subscription_status     TEXT NOT NULL DEFAULT 'none',
	subscription_expires_at TIMESTAMPTZ,
	subscription_price_id   TEXT,
	subscription_event_at   TIMESTAMPTZ,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Storage implements subscription.ProfileStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
	table  string
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table is the profiles table name (default: "profiles")
	Table string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Table:           defaultTable,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
		table:  pgx.Identifier{config.Table}.Sanitize(),
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the profiles table if it does not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(Schema, s.table)); err != nil {
		return fmt.Errorf("%w: migrate: %w", subscription.ErrStore, err)
	}
	return nil
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	var eventAt *time.Time
	if !upd.EventAt.IsZero() {
		t := upd.EventAt.UTC()
		eventAt = &t
	}

	// #nosec G201 -- table name is sanitized with pgx.Identifier
	query := fmt.Sprintf(`UPDATE %s SET
			subscription_status = $2,
			subscription_expires_at = COALESCE($3, subscription_expires_at),
			subscription_price_id = COALESCE($4, subscription_price_id),
			updated_at = $5,
			subscription_event_at = COALESCE($6, subscription_event_at)
		WHERE stripe_customer_id = $1
			AND (NOT $7 OR $6 IS NULL OR subscription_event_at IS NULL OR subscription_event_at <= $6)`,
		s.table)

	tag, err := s.pool.Exec(ctx, query,
		customerID, string(upd.Status), upd.ExpiresAt, upd.PriceID, upd.UpdatedAt.UTC(), eventAt, upd.Ordered,
	)
	if err != nil {
		return storeError("update profile", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if !upd.Ordered {
		return subscription.ErrProfileNotFound
	}
	exists, err := s.exists(ctx, customerID)
	if err != nil {
		return err
	}
	if exists {
		return subscription.ErrStaleEvent
	}
	return subscription.ErrProfileNotFound
}

func (s *Storage) exists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE stripe_customer_id = $1)`, s.table),
		customerID).Scan(&exists)
	if err != nil {
		return false, storeError("check profile", err)
	}
	return exists, nil
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	var p subscription.Profile
	var status string

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT stripe_customer_id, subscription_status, subscription_expires_at,
				subscription_price_id, updated_at, subscription_event_at
			FROM %s WHERE stripe_customer_id = $1`, s.table),
		customerID).Scan(
		&p.CustomerID,
		&status,
		&p.ExpiresAt,
		&p.PriceID,
		&p.UpdatedAt,
		&p.EventAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrProfileNotFound
	}
	if err != nil {
		return nil, storeError("get profile", err)
	}

	p.Status = subscription.Status(status)
	return &p, nil
}

// SeedProfile implements subscription.ProfileSeeder
func (s *Storage) SeedProfile(ctx context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}
	status := p.Status
	if status == "" {
		status = subscription.StatusNone
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (stripe_customer_id, subscription_status, subscription_expires_at,
				subscription_price_id, subscription_event_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stripe_customer_id) DO UPDATE SET
				subscription_status = EXCLUDED.subscription_status,
				subscription_expires_at = EXCLUDED.subscription_expires_at,
				subscription_price_id = EXCLUDED.subscription_price_id,
				subscription_event_at = EXCLUDED.subscription_event_at,
				updated_at = EXCLUDED.updated_at`, s.table),
		p.CustomerID, string(status), p.ExpiresAt, p.PriceID, p.EventAt, updatedAt,
	)
	if err != nil {
		return storeError("seed profile", err)
	}
	return nil
}

// Now implements subscription.TimeSource using the database clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, storeError("read clock", err)
	}
	return now.UTC(), nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s: %s (SQLSTATE %s)", subscription.ErrStore, op, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %s: %w", subscription.ErrStore, op, err)
}
