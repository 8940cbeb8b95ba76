// Package redis provides a Redis implementation of the subscription.ProfileStore interface.
// Profiles are stored as hashes and updated atomically via a Lua script.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	defaultKeyPrefix = "subsync:"

	fieldStatus    = "status"
	fieldExpiresAt = "expires_at"
	fieldPriceID   = "price_id"
	fieldUpdatedAt = "updated_at"
	fieldEventAt   = "event_at"

	resultOK       = "ok"
	resultNotFound = "not_found"
	resultStale    = "stale"
)

// Storage implements subscription.ProfileStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string

	// ProfileTTL is refreshed on every write (0 = no expiration).
	// Only set it when Redis mirrors another store.
	ProfileTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: defaultKeyPrefix,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Update an existing profile hash. Empty optional arguments leave the
	// field unchanged.
	s.scripts["update"] = redis.NewScript(`
		local key = KEYS[1]
		local status = ARGV[1]
		local expiresAt = ARGV[2]
		local priceID = ARGV[3]
		local updatedAt = ARGV[4]
		local eventAt = ARGV[5]
		local ordered = ARGV[6]
		local ttl = tonumber(ARGV[7])

		if redis.call('EXISTS', key) == 0 then
			return 'not_found'
		end

		if ordered == '1' and eventAt ~= '' then
			local current = redis.call('HGET', key, 'event_at')
			if current and tonumber(current) > tonumber(eventAt) then
				return 'stale'
			end
		end

		redis.call('HSET', key, 'status', status, 'updated_at', updatedAt)
		if expiresAt ~= '' then
			redis.call('HSET', key, 'expires_at', expiresAt)
		end
		if priceID ~= '' then
			redis.call('HSET', key, 'price_id', priceID)
		end
		if eventAt ~= '' then
			redis.call('HSET', key, 'event_at', eventAt)
		end

		if ttl > 0 then
			redis.call('EXPIRE', key, ttl)
		end
		return 'ok'
	`)
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	ordered := "0"
	if upd.Ordered {
		ordered = "1"
	}
	price := ""
	if upd.PriceID != nil {
		price = *upd.PriceID
	}

	res, err := s.scripts["update"].Run(ctx, s.client,
		[]string{s.profileKey(customerID)},
		string(upd.Status),
		formatMillis(upd.ExpiresAt),
		price,
		strconv.FormatInt(upd.UpdatedAt.UnixMilli(), 10),
		formatTime(upd.EventAt),
		ordered,
		int64(s.config.ProfileTTL.Seconds()),
	).Text()
	if err != nil {
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, err)
	}

	switch res {
	case resultOK:
		return nil
	case resultNotFound:
		return subscription.ErrProfileNotFound
	case resultStale:
		return subscription.ErrStaleEvent
	default:
		return fmt.Errorf("%w: unexpected script result %q", subscription.ErrStore, res)
	}
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	fields, err := s.client.HGetAll(ctx, s.profileKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %w", subscription.ErrStore, err)
	}
	if len(fields) == 0 {
		return nil, subscription.ErrProfileNotFound
	}

	p := &subscription.Profile{
		CustomerID: customerID,
		Status:     subscription.Status(fields[fieldStatus]),
		ExpiresAt:  parseMillis(fields[fieldExpiresAt]),
		EventAt:    parseMillis(fields[fieldEventAt]),
	}
	if price, ok := fields[fieldPriceID]; ok && price != "" {
		p.PriceID = &price
	}
	if updated := parseMillis(fields[fieldUpdatedAt]); updated != nil {
		p.UpdatedAt = *updated
	}
	return p, nil
}

// SeedProfile implements subscription.ProfileSeeder.
// An existing hash for the same customer is replaced.
func (s *Storage) SeedProfile(ctx context.Context, p *subscription.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: invalid profile", subscription.ErrStore)
	}
	status := p.Status
	if status == "" {
		status = subscription.StatusNone
	}

	values := map[string]interface{}{
		fieldStatus:    string(status),
		fieldUpdatedAt: strconv.FormatInt(p.UpdatedAt.UnixMilli(), 10),
	}
	if p.ExpiresAt != nil {
		values[fieldExpiresAt] = formatMillis(p.ExpiresAt)
	}
	if p.PriceID != nil {
		values[fieldPriceID] = *p.PriceID
	}
	if p.EventAt != nil {
		values[fieldEventAt] = formatMillis(p.EventAt)
	}

	key := s.profileKey(p.CustomerID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	if s.config.ProfileTTL > 0 {
		pipe.Expire(ctx, key, s.config.ProfileTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: seed profile: %w", subscription.ErrStore, err)
	}
	return nil
}

// Delete removes the cached profile. The tiered store evicts through it
// when a mirror refresh fails.
func (s *Storage) Delete(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, s.profileKey(customerID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: delete profile: %w", subscription.ErrStore, err)
	}
	return nil
}

// Now implements subscription.TimeSource using the Redis server clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read clock: %w", subscription.ErrStore, err)
	}
	return t.UTC(), nil
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) profileKey(customerID string) string {
	return fmt.Sprintf("%sprofile:%s", s.config.KeyPrefix, customerID)
}

func formatMillis(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatMillis(&t)
}

func parseMillis(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
