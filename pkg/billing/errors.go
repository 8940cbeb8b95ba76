package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidRequest is returned when an outbound request is missing required inputs.
	// No provider call is made.
	ErrInvalidRequest = errors.New("invalid billing request")

	// ErrVerification is returned when a webhook signature or timestamp check fails
	ErrVerification = errors.New("webhook verification failed")

	// ErrInvalidPayload is returned when a verified webhook payload cannot be interpreted
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrLookup is returned when a follow-up provider lookup needed to interpret
	// an event fails
	ErrLookup = errors.New("billing provider lookup failed")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")
)

// Error pairs a taxonomy sentinel with the message that is safe to return to
// the caller verbatim (a provider message, a verification reason, or an input
// validation message).
type Error struct {
	// Kind is one of the sentinels above
	Kind error
	// Message is returned by Error() unchanged
	Message string
	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError creates an *Error of the given kind.
func NewError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}
