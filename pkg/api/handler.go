package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/subscription"
)

// maxBodyBytes bounds the JSON request bodies of the API endpoints.
const maxBodyBytes = 64 << 10

// Handler provides the HTTP endpoints that create customers and hosted sessions
type Handler struct {
	config   Config
	validate *validator.Validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateCustomer handles POST /create-customer
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	customer, err := h.config.Issuer.CreateCustomer(r.Context(), req.Email)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, CreateCustomerResponse{
		CustomerID: customer.ID,
		Email:      customer.Email,
	})
}

// CreateCheckoutSession handles POST /create-checkout-session
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutSessionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	session, err := h.config.Issuer.CreateCheckoutSession(r.Context(), req.PriceID, req.CustomerID)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, CreateCheckoutSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

// CreatePortalSession handles POST /create-portal-session
func (h *Handler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	session, err := h.config.Issuer.CreatePortalSession(r.Context(), req.CustomerID)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, CreatePortalSessionResponse{URL: session.URL})
}

// SyncCustomer handles POST /sync-customer. It pulls the customer's current
// subscription from the provider and reconciles it into the profile store.
func (h *Handler) SyncCustomer(w http.ResponseWriter, r *http.Request) {
	if h.config.Provider == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured, http.StatusServiceUnavailable)
		return
	}

	var req CustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	outcome, err := h.config.Provider.SyncCustomer(r.Context(), req.CustomerID)
	if err != nil {
		h.handleError(w, r, err, syncStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, SyncCustomerResponse{
		CustomerID: outcome.CustomerID,
		Outcome:    string(outcome.Kind),
		Status:     string(outcome.Status),
		ExpiresAt:  outcome.ExpiresAt,
		PriceID:    outcome.PriceID,
	})
}

func syncStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrCustomerNotFound), errors.Is(err, subscription.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrProviderAPIError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as an empty object so that missing fields reach the issuer's own checks.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return billing.NewError(billing.ErrInvalidRequest, "Request body too large or unreadable", err)
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return billing.NewError(billing.ErrInvalidRequest, "Invalid JSON body: "+err.Error(), err)
		}
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := fmt.Sprintf("Field %s failed %s validation", fe.Field(), fe.Tag())
			return billing.NewError(billing.ErrInvalidRequest, msg, err)
		}
		return billing.NewError(billing.ErrInvalidRequest, err.Error(), err)
	}
	return nil
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	h.config.Logger.Warn("api request failed",
		subscription.Field{Key: "path", Value: r.URL.Path},
		subscription.Field{Key: "status", Value: statusCode},
		subscription.Field{Key: "error", Value: err.Error()},
	)

	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", statusCode).Msg("api: encode response")
	}
}
