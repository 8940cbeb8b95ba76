package stripe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

func eventJSON(id, typ string, created int64, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`,
		id, typ, created, object)
}

func signedRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.provider.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func assertReceived(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid response body %q: %v", rec.Body.String(), err)
	}
	if !body["received"] {
		t.Fatalf("Expected {\"received\":true}, got %s", rec.Body.String())
	}
}

func TestWebhook_CheckoutCompletedActivatesProfile(t *testing.T) {
	env := newTestEnv(t)
	env.api.subs[testSubscriptionID] = testSubscription(
		testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, 1690000000, testPeriodEnd)

	payload := eventJSON("evt_1", "checkout.session.completed", 1699990000,
		`{"id":"cs_1","mode":"subscription","customer":"cus_test_123","subscription":"sub_test_123"}`)
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, payload))
	assertReceived(t, rec)

	p := env.profile(t)
	if p.Status != subscription.StatusActive {
		t.Errorf("Status mismatch: got %s, want active", p.Status)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", p.ExpiresAt, want)
	}
	if p.PriceID == nil || *p.PriceID != testPriceID {
		t.Errorf("PriceID mismatch: got %v", p.PriceID)
	}
	if env.api.retrieves() != 1 {
		t.Errorf("Expected one subscription lookup, got %d", env.api.retrieves())
	}
}

func TestWebhook_SubscriptionUpdatedPastDue(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_2", "customer.subscription.updated", 1700000100, `{
		"id":"sub_test_123","customer":"cus_test_123","status":"past_due",
		"items":{"data":[{"current_period_end":1700000000,"price":{"id":"price_pro_monthly"}}]}}`)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))

	p := env.profile(t)
	if p.Status != subscription.StatusInactive {
		t.Errorf("Status mismatch: got %s, want inactive", p.Status)
	}
	if p.ExpiresAt == nil || p.ExpiresAt.Unix() != testPeriodEnd {
		t.Errorf("ExpiresAt mismatch: got %v", p.ExpiresAt)
	}
	if env.api.retrieves() != 0 {
		t.Errorf("Updated events must not call Stripe, got %d lookups", env.api.retrieves())
	}
}

func TestWebhook_SubscriptionDeletedCancels(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_3", "customer.subscription.deleted", 1700000200, `{
		"id":"sub_test_123","customer":"cus_test_123","status":"canceled",
		"items":{"data":[{"current_period_end":1700000000}]}}`)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))

	p := env.profile(t)
	if p.Status != subscription.StatusCancelled {
		t.Errorf("Status mismatch: got %s, want cancelled", p.Status)
	}
	if p.ExpiresAt == nil || p.ExpiresAt.Unix() != testPeriodEnd {
		t.Errorf("ExpiresAt mismatch: got %v", p.ExpiresAt)
	}
}

func TestWebhook_PaymentFailedDoesNotWrite(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_4", "invoice.payment_failed", 1700000300,
		`{"id":"in_1","customer":"cus_test_123","subscription":"sub_test_123","attempt_count":2}`)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))

	if env.store.Writes(testCustomerID) != 0 {
		t.Errorf("Payment failure must not write, got %d writes", env.store.Writes(testCustomerID))
	}
	if len(env.events) != 1 || env.events[0].Outcome == nil ||
		env.events[0].Outcome.Kind != subscription.OutcomeLogged {
		t.Fatalf("Expected a logged outcome, got %+v", env.events)
	}
}

func TestWebhook_UnhandledEventTypeAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_5", "customer.created", 1700000400, `{"id":"cus_test_123"}`)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))

	if env.store.Writes(testCustomerID) != 0 {
		t.Error("Unhandled event must not write")
	}
	if len(env.events) != 1 || env.events[0].Outcome != nil || env.events[0].StatusCode != http.StatusOK {
		t.Fatalf("Unexpected callback: %+v", env.events)
	}
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_6", "customer.subscription.deleted", 1700000500,
		`{"id":"sub_test_123","customer":"cus_test_123"}`)
	rec := serve(env, signedRequest(t, "whsec_other", payload))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), webhook.ErrNoValidSignature.Error()) {
		t.Errorf("Expected raw verification reason, got %q", rec.Body.String())
	}
	if env.store.Writes(testCustomerID) != 0 {
		t.Error("Unverified event must not write")
	}
	if len(env.events) != 1 || !errors.Is(env.events[0].Err, billing.ErrVerification) {
		t.Fatalf("Expected verification error in callback, got %+v", env.events)
	}
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(`{}`))
	rec := serve(env, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestWebhook_UnknownCustomerReturns400(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_7", "customer.subscription.updated", 1700000600,
		`{"id":"sub_x","customer":"cus_unknown","status":"active"}`)
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, payload))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Webhook error: ") {
		t.Errorf("Expected processing error body, got %q", rec.Body.String())
	}
	if len(env.events) != 1 || !errors.Is(env.events[0].Err, subscription.ErrProfileNotFound) {
		t.Fatalf("Expected ErrProfileNotFound in callback, got %+v", env.events)
	}
}

func TestWebhook_LookupFailureReturns400(t *testing.T) {
	env := newTestEnv(t)
	env.api.err = &stripe.Error{Msg: "Invalid API Key provided"}

	payload := eventJSON("evt_8", "checkout.session.completed", 1700000700,
		`{"id":"cs_2","mode":"subscription","customer":"cus_test_123","subscription":"sub_test_123"}`)
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, payload))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if rec.Body.String() != "Webhook error: Invalid API Key provided" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if env.store.Writes(testCustomerID) != 0 {
		t.Error("Failed lookup must not write")
	}
}

func TestWebhook_MalformedObjectReturns400(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_9", "customer.subscription.updated", 1700000800, `{"id":"sub_test_123","status":"active"}`)
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, payload))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if len(env.events) != 1 || !errors.Is(env.events[0].Err, billing.ErrInvalidPayload) {
		t.Fatalf("Expected ErrInvalidPayload, got %+v", env.events)
	}
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	payload := eventJSON("evt_10", "customer.subscription.updated", 1700000900, `{
		"id":"sub_test_123","customer":"cus_test_123","status":"active",
		"items":{"data":[{"current_period_end":1700000000,"price":{"id":"price_pro_monthly"}}]}}`)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))
	first := env.profile(t)
	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))
	second := env.profile(t)

	if first.Status != second.Status || !first.ExpiresAt.Equal(*second.ExpiresAt) || *first.PriceID != *second.PriceID {
		t.Errorf("Replay changed state: %+v vs %+v", first, second)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := serve(env, httptest.NewRequest(http.MethodGet, "/stripe-webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", rec.Code)
	}
}

func TestWebhook_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.WebhookSecret = "" })
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, eventJSON("evt", "x", 1, `{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	big := strings.Repeat("a", webhookBodyLimit+1)
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(big))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")

	rec := serve(env, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", rec.Code)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimitRequests = 1
		c.RateLimitWindow = time.Minute
	})
	payload := eventJSON("evt_11", "customer.created", 1700001000, `{}`)

	assertReceived(t, serve(env, signedRequest(t, testStripeWebhookSecret, payload)))
	rec := serve(env, signedRequest(t, testStripeWebhookSecret, payload))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestWebhook_ConcurrentCheckoutsShareLookup(t *testing.T) {
	env := newTestEnv(t)
	env.api.retrieveDelay = 50 * time.Millisecond
	env.api.subs[testSubscriptionID] = testSubscription(
		testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, 1690000000, testPeriodEnd)

	var mu sync.Mutex
	env.provider.config.WebhookCallback = func(e billing.WebhookEvent) {
		mu.Lock()
		defer mu.Unlock()
		env.events = append(env.events, e)
	}

	payload := eventJSON("evt_12", "checkout.session.completed", 1700001100,
		`{"id":"cs_3","mode":"subscription","customer":"cus_test_123","subscription":"sub_test_123"}`)

	var wg sync.WaitGroup
	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(env, signedRequest(t, testStripeWebhookSecret, payload)).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, code)
		}
	}
	if got := env.api.retrieves(); got >= len(codes) {
		t.Errorf("Expected concurrent deliveries to share lookups, got %d calls", got)
	}
}
