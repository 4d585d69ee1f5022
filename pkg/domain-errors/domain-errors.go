package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal_error"

	// CodeInvalidCredential covers every way an inbound bearer credential can
	// fail verification: unknown signing key, bad signature, wrong algorithm,
	// expired, issuer or audience outside the configured allow-lists.
	CodeInvalidCredential Code = "invalid_credential"

	// CodeUpstreamUnavailable means the identity provider's key discovery
	// could not be completed. Surfaced to callers as a validation failure.
	CodeUpstreamUnavailable Code = "upstream_unavailable"

	// CodeConsentRequired is the interaction_required outcome of an
	// On-Behalf-Of exchange. Callers must surface a re-consent prompt to the
	// end user instead of retrying.
	CodeConsentRequired Code = "consent_required"

	// CodeExchangeFailed is any other On-Behalf-Of failure. Fatal for the
	// current request.
	CodeExchangeFailed Code = "exchange_failed"

	CodeAgentTimeout Code = "agent_timeout"
	CodeAgentError   Code = "agent_error"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service and client layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
