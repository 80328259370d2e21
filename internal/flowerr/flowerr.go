// Package flowerr defines the failure taxonomy for the authentication
// handoff. Invalid launch input is not part of it: bad launch parameters
// route the page to the idle state, not to an error.
package flowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a handoff failure.
type Kind string

const (
	// ProviderUnavailable means the identity provider script failed to load.
	ProviderUnavailable Kind = "provider_unavailable"

	// CallerContract means the caller violated the integration contract,
	// e.g. the nonce was missing at initialize time. A bug, not a user error.
	CallerContract Kind = "caller_contract_violation"

	// AuthenticationAborted means the user cancelled or the provider
	// returned no credential.
	AuthenticationAborted Kind = "authentication_aborted"

	// ExchangeFailed means the session exchange endpoint rejected the
	// identity token or returned a malformed success body.
	ExchangeFailed Kind = "exchange_failed"

	// HydrationFailed means the hydration endpoint rejected the tokens or
	// returned a malformed success body.
	HydrationFailed Kind = "hydration_failed"

	// NetworkFailure is a transport-level failure, distinct from a non-2xx
	// response.
	NetworkFailure Kind = "network_failure"
)

// Error carries a user-safe message plus a diagnostic detail.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
}

// New creates an Error with the given kind and messages.
func New(kind Kind, message, detail string) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

// Newf creates an Error with a formatted diagnostic detail.
func Newf(kind Kind, message, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: message, Detail: fmt.Sprintf(format, args...)}
}

// From converts any error into an *Error. If err already carries a kind it
// is returned unchanged; otherwise it is wrapped with the fallback kind and
// message, keeping the original error text as the diagnostic detail.
func From(err error, fallback Kind, message string) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: fallback, Message: message, Detail: err.Error()}
}
