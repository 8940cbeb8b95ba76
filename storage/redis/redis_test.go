package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("Expected error for nil client")
	}

	s, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.config.KeyPrefix != "subsync:" {
		t.Errorf("KeyPrefix default mismatch: got %q", s.config.KeyPrefix)
	}
	if got := s.profileKey("cus_1"); got != "subsync:profile:cus_1" {
		t.Errorf("profileKey mismatch: got %q", got)
	}
}

func TestStorage_UpdateByCustomerID(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, _ := New(client, DefaultConfig())
	ctx := context.Background()

	if err := storage.SeedProfile(ctx, &subscription.Profile{CustomerID: "cus_1"}); err != nil {
		t.Fatalf("SeedProfile failed: %v", err)
	}

	expires := time.Unix(1700000000, 0).UTC()
	price := "price_A"
	err := storage.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status:    subscription.StatusActive,
		ExpiresAt: &expires,
		PriceID:   &price,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpdateByCustomerID failed: %v", err)
	}

	p, err := storage.GetByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("GetByCustomerID failed: %v", err)
	}
	if p.Status != subscription.StatusActive {
		t.Errorf("Status mismatch: got %s", p.Status)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt mismatch: got %v", p.ExpiresAt)
	}
	if p.PriceID == nil || *p.PriceID != price {
		t.Errorf("PriceID mismatch: got %v", p.PriceID)
	}

	// Cancellation keeps the price
	err = storage.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status:    subscription.StatusCancelled,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpdateByCustomerID failed: %v", err)
	}
	p, _ = storage.GetByCustomerID(ctx, "cus_1")
	if p.Status != subscription.StatusCancelled || p.PriceID == nil || *p.PriceID != price {
		t.Errorf("Unexpected profile after cancel: %+v", p)
	}
}

func TestStorage_UpdateUnknownCustomer(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, _ := New(client, DefaultConfig())
	err := storage.UpdateByCustomerID(context.Background(), "cus_missing", &subscription.Update{
		Status: subscription.StatusActive,
	})
	if !errors.Is(err, subscription.ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound, got %v", err)
	}

	// The script must not create the key
	if n, _ := client.Exists(context.Background(), storage.profileKey("cus_missing")).Result(); n != 0 {
		t.Error("Update of unknown customer created a key")
	}
}

func TestStorage_OrderedUpdate(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, _ := New(client, DefaultConfig())
	ctx := context.Background()
	_ = storage.SeedProfile(ctx, &subscription.Profile{CustomerID: "cus_1"})

	newer := time.Unix(1700000100, 0).UTC()
	older := time.Unix(1700000000, 0).UTC()

	if err := storage.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status: subscription.StatusActive, EventAt: newer, Ordered: true,
	}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	err := storage.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status: subscription.StatusInactive, EventAt: older, Ordered: true,
	})
	if !errors.Is(err, subscription.ErrStaleEvent) {
		t.Fatalf("Expected ErrStaleEvent, got %v", err)
	}

	p, _ := storage.GetByCustomerID(ctx, "cus_1")
	if p.Status != subscription.StatusActive {
		t.Errorf("Stale update changed status to %s", p.Status)
	}
	if p.EventAt == nil || !p.EventAt.Equal(newer) {
		t.Errorf("EventAt mismatch: got %v", p.EventAt)
	}
}

func TestStorage_ProfileTTL(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, _ := New(client, Config{ProfileTTL: time.Hour})
	ctx := context.Background()
	_ = storage.SeedProfile(ctx, &subscription.Profile{CustomerID: "cus_1"})

	if err := storage.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{Status: subscription.StatusActive}); err != nil {
		t.Fatalf("UpdateByCustomerID failed: %v", err)
	}
	ttl, err := client.TTL(ctx, storage.profileKey("cus_1")).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected TTL within an hour, got %v", ttl)
	}

	if err := storage.Delete(ctx, "cus_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := storage.GetByCustomerID(ctx, "cus_1"); !errors.Is(err, subscription.ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound after delete, got %v", err)
	}
}

func TestStorage_Now(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	now, err := storage.Now(ctx)
	if err != nil {
		t.Fatalf("Now failed: %v", err)
	}
	if now.Location() != time.UTC {
		t.Errorf("Expected UTC, got %v", now.Location())
	}
	if d := time.Since(now); d > 5*time.Second || d < -5*time.Second {
		t.Errorf("Redis clock skew too large: %v", d)
	}

	// Server clock errors surface as store errors
	_ = storage.Close()
	if _, err := storage.Now(ctx); !errors.Is(err, subscription.ErrStore) {
		t.Errorf("Expected ErrStore after close, got %v", err)
	}
}
