package postgrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

const testKey = "service_role_test"

// fakeREST emulates the subset of PostgREST used by the adapter.
type fakeREST struct {
	mu       sync.Mutex
	rows     map[string]map[string]interface{}
	requests []*http.Request
	bodies   []map[string]interface{}
	status   int
}

func newFakeREST(t *testing.T) (*fakeREST, *Storage) {
	t.Helper()
	f := &fakeREST{rows: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := New(Config{BaseURL: srv.URL + "/", ServiceKey: testKey})
	require.NoError(t, err)
	return f, s
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
		return
	}
	if r.URL.Path != "/rest/v1/profiles" || r.Header.Get("apikey") != testKey ||
		r.Header.Get("Authorization") != "Bearer "+testKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Query().Get("stripe_customer_id"), "eq.")
	row, ok := f.rows[id]
	out := []map[string]interface{}{}

	switch r.Method {
	case http.MethodGet:
		if ok {
			out = append(out, row)
		}
	case http.MethodPatch:
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.bodies = append(f.bodies, body)
		if ok && f.allows(row, r.URL.Query().Get("or")) {
			for k, v := range body {
				row[k] = v
			}
			out = append(out, map[string]interface{}{"stripe_customer_id": id})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeREST) allows(row map[string]interface{}, filter string) bool {
	if filter == "" {
		return true
	}
	current, _ := row["subscription_event_at"].(string)
	if current == "" {
		return true
	}
	bound := strings.TrimSuffix(strings.SplitN(filter, "lte.", 2)[1], ")")
	c, _ := time.Parse(time.RFC3339Nano, current)
	b, _ := time.Parse(time.RFC3339Nano, bound)
	return !c.After(b)
}

func (f *fakeREST) seed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = map[string]interface{}{
		"stripe_customer_id":  id,
		"subscription_status": "none",
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ServiceKey: testKey})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "https://example.supabase.co"})
	assert.Error(t, err)

	s, err := New(Config{BaseURL: "https://example.supabase.co/", ServiceKey: testKey, Table: "accounts"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co/rest/v1/accounts", s.endpoint)
}

func TestUpdateByCustomerID(t *testing.T) {
	f, s := newFakeREST(t)
	f.seed("cus_1")
	ctx := context.Background()

	expires := time.Unix(1700000000, 0).UTC()
	price := "price_A"
	err := s.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status:    subscription.StatusActive,
		ExpiresAt: &expires,
		PriceID:   &price,
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)

	req := f.requests[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))
	assert.Equal(t, "eq.cus_1", req.URL.Query().Get("stripe_customer_id"))
	assert.Equal(t, "2023-11-14T22:13:20Z", f.bodies[0]["subscription_expires_at"])

	p, err := s.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, p.Status)
	require.NotNil(t, p.ExpiresAt)
	assert.True(t, p.ExpiresAt.Equal(expires))
	require.NotNil(t, p.PriceID)
	assert.Equal(t, price, *p.PriceID)
}

func TestUpdateByCustomerID_OmitsUnsetFields(t *testing.T) {
	f, s := newFakeREST(t)
	f.seed("cus_1")

	err := s.UpdateByCustomerID(context.Background(), "cus_1", &subscription.Update{
		Status:    subscription.StatusCancelled,
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)

	assert.NotContains(t, f.bodies[0], "subscription_price_id")
	assert.NotContains(t, f.bodies[0], "subscription_expires_at")
	assert.NotContains(t, f.bodies[0], "subscription_event_at")
}

func TestUpdateByCustomerID_NotFound(t *testing.T) {
	_, s := newFakeREST(t)

	err := s.UpdateByCustomerID(context.Background(), "cus_missing", &subscription.Update{
		Status:    subscription.StatusActive,
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, subscription.ErrProfileNotFound)
}

func TestUpdateByCustomerID_Ordered(t *testing.T) {
	f, s := newFakeREST(t)
	f.seed("cus_1")
	ctx := context.Background()

	newer := time.Unix(1700000100, 0).UTC()
	older := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status: subscription.StatusActive, UpdatedAt: time.Now(), EventAt: newer, Ordered: true,
	}))

	err := s.UpdateByCustomerID(ctx, "cus_1", &subscription.Update{
		Status: subscription.StatusInactive, UpdatedAt: time.Now(), EventAt: older, Ordered: true,
	})
	assert.ErrorIs(t, err, subscription.ErrStaleEvent)

	err = s.UpdateByCustomerID(ctx, "cus_other", &subscription.Update{
		Status: subscription.StatusInactive, UpdatedAt: time.Now(), EventAt: older, Ordered: true,
	})
	assert.ErrorIs(t, err, subscription.ErrProfileNotFound)

	p, err := s.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, p.Status)
}

func TestUpdateByCustomerID_ServerError(t *testing.T) {
	f, s := newFakeREST(t)
	f.status = http.StatusInternalServerError

	err := s.UpdateByCustomerID(context.Background(), "cus_1", &subscription.Update{
		Status:    subscription.StatusActive,
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, subscription.ErrStore)
	assert.Contains(t, err.Error(), "status 500")
	assert.NotErrorIs(t, err, subscription.ErrProfileNotFound)
}

func TestPing(t *testing.T) {
	f, s := newFakeREST(t)
	assert.NoError(t, s.Ping(context.Background()))

	f.status = http.StatusServiceUnavailable
	assert.Error(t, s.Ping(context.Background()))
}
