package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func echoRequestID() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(RequestIDFromContext(r.Context())))
	})
}

func TestMiddleware_Preflight(t *testing.T) {
	called := false
	handler := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/create-customer", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called {
		t.Error("Preflight should not reach the handler")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "ok" {
		t.Errorf("Expected body ok, got %q", body)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin mismatch: %q", got)
	}
	want := "authorization, x-client-info, apikey, content-type"
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != want {
		t.Errorf("Allow-Headers mismatch: got %q, want %q", got, want)
	}
}

func TestMiddleware_CORSOnResponses(t *testing.T) {
	handler := Middleware(Config{AllowOrigin: "https://app.example.com"})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/create-customer", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin mismatch: %q", got)
	}
}

func TestMiddleware_CustomPreflight(t *testing.T) {
	handler := Middleware(Config{
		OnPreflight: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})(echoRequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	handler := Middleware(Config{})(echoRequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	body, _ := io.ReadAll(w.Body)
	if _, err := uuid.Parse(string(body)); err != nil {
		t.Errorf("Expected UUID request ID, got %q", body)
	}
	if got := w.Header().Get(DefaultRequestIDHeader); got != string(body) {
		t.Errorf("Response header mismatch: %q vs %q", got, body)
	}
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	handler := Middleware(Config{RequestIDHeader: "X-Correlation-ID"})(echoRequestID())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Correlation-ID", "req-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if body := w.Body.String(); body != "req-123" {
		t.Errorf("Expected incoming ID, got %q", body)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "req-123" {
		t.Errorf("Response header mismatch: %q", got)
	}
}

func TestHandlerFunc(t *testing.T) {
	mw := HandlerFunc(Config{NewRequestID: func() string { return "fixed" }})
	handler := mw(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestIDFromContext(r.Context())))
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if body := w.Body.String(); body != "fixed" {
		t.Errorf("Expected fixed ID, got %q", body)
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := RequestIDFromContext(req.Context()); id != "" {
		t.Errorf("Expected empty ID, got %q", id)
	}
}
