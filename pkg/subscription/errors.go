package subscription

import "errors"

var (
	// ErrProfileNotFound is returned when no profile carries the customer identifier
	ErrProfileNotFound = errors.New("profile not found for customer")

	// ErrStore is returned when the profile store fails for any other reason
	ErrStore = errors.New("profile store error")

	// ErrStoreUnavailable is returned when no store is configured
	ErrStoreUnavailable = errors.New("profile store unavailable")

	// ErrStaleEvent is returned by ordered stores when a newer event was already applied
	ErrStaleEvent = errors.New("stale subscription event")

	// ErrReconcile wraps every failure returned by Reconciler.Reconcile
	ErrReconcile = errors.New("reconciliation failed")

	// ErrInvalidEvent is returned for events missing required fields
	ErrInvalidEvent = errors.New("invalid subscription event")
)
