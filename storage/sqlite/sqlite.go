// Package sqlite provides an embedded SQLite implementation of the
// subscription.ProfileStore interface, backed by the pure-Go modernc driver.
// It suits single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const privateDirPerm = 0o700

// Storage implements subscription.ProfileStore using SQLite
type Storage struct {
	db *sql.DB
}

// New opens (or creates) the profile database at path.
func New(path string) (*Storage, error) {
	path = filepath.Clean(path)
	if strings.TrimSpace(path) == "" || path == "." {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), privateDirPerm); err != nil {
		return nil, fmt.Errorf("create profile db dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open profile db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close profile db after schema init failure: %w", closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		stripe_customer_id TEXT PRIMARY KEY,
		subscription_status TEXT NOT NULL DEFAULT 'none',
		subscription_expires_at INTEGER,
		subscription_price_id TEXT,
		subscription_event_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init profile schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	eventAt := nullUnix(nil)
	if !upd.EventAt.IsZero() {
		eventAt = nullUnix(&upd.EventAt)
	}
	var price sql.NullString
	if upd.PriceID != nil {
		price = sql.NullString{String: *upd.PriceID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			subscription_status = ?,
			subscription_expires_at = COALESCE(?, subscription_expires_at),
			subscription_price_id = COALESCE(?, subscription_price_id),
			updated_at = ?,
			subscription_event_at = COALESCE(?, subscription_event_at)
		WHERE stripe_customer_id = ?
			AND (? = 0 OR ? IS NULL OR subscription_event_at IS NULL OR subscription_event_at <= ?)`,
		string(upd.Status), nullUnix(upd.ExpiresAt), price, upd.UpdatedAt.UTC().Unix(), eventAt,
		customerID,
		boolInt(upd.Ordered), eventAt, eventAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, err)
	}
	if n > 0 {
		return nil
	}

	if !upd.Ordered {
		return subscription.ErrProfileNotFound
	}
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM profiles WHERE stripe_customer_id = ?`, customerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: check profile: %w", subscription.ErrStore, err)
	}
	if exists > 0 {
		return subscription.ErrStaleEvent
	}
	return subscription.ErrProfileNotFound
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	var (
		status             string
		expiresAt, eventAt sql.NullInt64
		price              sql.NullString
		updatedAt          int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subscription_status, subscription_expires_at, subscription_price_id,
			subscription_event_at, updated_at
		FROM profiles WHERE stripe_customer_id = ?`, customerID,
	).Scan(&status, &expiresAt, &price, &eventAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %w", subscription.ErrStore, err)
	}

	p := &subscription.Profile{
		CustomerID: customerID,
		Status:     subscription.Status(status),
		ExpiresAt:  fromUnix(expiresAt),
		EventAt:    fromUnix(eventAt),
		UpdatedAt:  time.Unix(updatedAt, 0).UTC(),
	}
	if price.Valid {
		v := price.String
		p.PriceID = &v
	}
	return p, nil
}

// SeedProfile implements subscription.ProfileSeeder.
// An existing row for the same customer is replaced.
func (s *Storage) SeedProfile(ctx context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}
	status := p.Status
	if status == "" {
		status = subscription.StatusNone
	}
	var price sql.NullString
	if p.PriceID != nil {
		price = sql.NullString{String: *p.PriceID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles (stripe_customer_id, subscription_status, subscription_expires_at,
			subscription_price_id, subscription_event_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.CustomerID, string(status), nullUnix(p.ExpiresAt), price, nullUnix(p.EventAt), p.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: seed profile: %w", subscription.ErrStore, err)
	}
	return nil
}

// Ping checks the database handle
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
