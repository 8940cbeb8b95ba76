// Package postgrest provides a subscription.ProfileStore backed by a PostgREST
// endpoint such as the Supabase REST API. Requests authenticate with a
// privileged key, so this adapter is for server-side use only.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const (
	defaultTable   = "profiles"
	defaultTimeout = 10 * time.Second
	restPath       = "/rest/v1/"

	// errorBodyLimit caps how much of an error response is quoted back.
	errorBodyLimit = 512
)

// Config holds PostgREST storage configuration
type Config struct {
	// BaseURL is the project URL, e.g. https://xyz.supabase.co
	BaseURL string

	// ServiceKey is sent as both apikey and bearer token
	ServiceKey string

	// Table is the profiles table name (default: "profiles")
	Table string

	// HTTPClient overrides the default client (10s timeout)
	HTTPClient *http.Client
}

// Storage implements subscription.ProfileStore over the PostgREST HTTP API
type Storage struct {
	endpoint   string
	serviceKey string
	client     *http.Client
}

type profileRow struct {
	StripeCustomerID      string     `json:"stripe_customer_id"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
	SubscriptionPriceID   *string    `json:"subscription_price_id"`
	SubscriptionEventAt   *time.Time `json:"subscription_event_at,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at"`
}

// New creates a new PostgREST storage adapter
func New(config Config) (*Storage, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.ServiceKey == "" {
		return nil, fmt.Errorf("service key is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Storage{
		endpoint:   base.String() + restPath + url.PathEscape(config.Table),
		serviceKey: config.ServiceKey,
		client:     client,
	}, nil
}

// UpdateByCustomerID implements subscription.ProfileStore
func (s *Storage) UpdateByCustomerID(ctx context.Context, customerID string, upd *subscription.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", subscription.ErrStore)
	}

	body := map[string]interface{}{
		"subscription_status": string(upd.Status),
		"updated_at":          upd.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if upd.ExpiresAt != nil {
		body["subscription_expires_at"] = upd.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if upd.PriceID != nil {
		body["subscription_price_id"] = *upd.PriceID
	}
	if upd.Ordered && !upd.EventAt.IsZero() {
		body["subscription_event_at"] = upd.EventAt.UTC().Format(time.RFC3339Nano)
	}

	query := url.Values{}
	query.Set("stripe_customer_id", "eq."+customerID)
	query.Set("select", "stripe_customer_id")
	if upd.Ordered && !upd.EventAt.IsZero() {
		query.Set("or", fmt.Sprintf("(subscription_event_at.is.null,subscription_event_at.lte.%s)",
			upd.EventAt.UTC().Format(time.RFC3339Nano)))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode update: %w", subscription.ErrStore, err)
	}

	var rows []profileRow
	if err := s.do(ctx, http.MethodPatch, query, payload, &rows); err != nil {
		return fmt.Errorf("%w: update profile: %w", subscription.ErrStore, err)
	}
	if len(rows) > 0 {
		return nil
	}
	if !upd.Ordered {
		return subscription.ErrProfileNotFound
	}

	if _, err := s.GetByCustomerID(ctx, customerID); err != nil {
		return err
	}
	return subscription.ErrStaleEvent
}

// GetByCustomerID implements subscription.ProfileReader
func (s *Storage) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Profile, error) {
	query := url.Values{}
	query.Set("stripe_customer_id", "eq."+customerID)
	query.Set("select", "*")
	query.Set("limit", "1")

	var rows []profileRow
	if err := s.do(ctx, http.MethodGet, query, nil, &rows); err != nil {
		return nil, fmt.Errorf("%w: get profile: %w", subscription.ErrStore, err)
	}
	if len(rows) == 0 {
		return nil, subscription.ErrProfileNotFound
	}

	r := rows[0]
	p := &subscription.Profile{
		CustomerID: r.StripeCustomerID,
		Status:     subscription.Status(r.SubscriptionStatus),
		ExpiresAt:  r.SubscriptionExpiresAt,
		PriceID:    r.SubscriptionPriceID,
		EventAt:    r.SubscriptionEventAt,
	}
	if r.UpdatedAt != nil {
		p.UpdatedAt = r.UpdatedAt.UTC()
	}
	return p, nil
}

// Ping checks that the table endpoint answers
func (s *Storage) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("select", "stripe_customer_id")
	query.Set("limit", "1")

	var rows []profileRow
	return s.do(ctx, http.MethodGet, query, nil, &rows)
}

func (s *Storage) do(ctx context.Context, method string, query url.Values, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+"?"+query.Encode(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit)) //nolint:errcheck // best effort for the message
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
