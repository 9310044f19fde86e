// Package errors defines the typed errors used across cloudmint.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrConfigInvalid is returned when the service configuration or the
	// service account credential cannot be loaded or validated at startup.
	ErrConfigInvalid = "config_invalid"

	// ErrCredentialInvalid is returned when the credential key material is
	// malformed and detected locally, before any network call.
	ErrCredentialInvalid = "credential_invalid"

	// ErrUpstreamUnreachable is returned when the upstream token issuer
	// cannot be reached (network, DNS, timeout).
	ErrUpstreamUnreachable = "upstream_unreachable"

	// ErrUpstreamRejected is returned when the upstream token issuer
	// rejected the exchange with an auth or permission error.
	ErrUpstreamRejected = "upstream_rejected"

	// ErrUpstreamMalformed is returned when the upstream response is
	// missing the expected token fields.
	ErrUpstreamMalformed = "upstream_malformed_response"

	// ErrServiceUnavailable is returned when the service is draining and
	// no longer accepting new issuance requests.
	ErrServiceUnavailable = "service_unavailable"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigInvalidError creates a new config invalid error
func NewConfigInvalidError(message string, cause error) *Error {
	return NewError(ErrConfigInvalid, message, cause)
}

// NewCredentialInvalidError creates a new credential invalid error
func NewCredentialInvalidError(message string, cause error) *Error {
	return NewError(ErrCredentialInvalid, message, cause)
}

// NewUpstreamUnreachableError creates a new upstream unreachable error
func NewUpstreamUnreachableError(message string, cause error) *Error {
	return NewError(ErrUpstreamUnreachable, message, cause)
}

// NewUpstreamRejectedError creates a new upstream rejected error
func NewUpstreamRejectedError(message string, cause error) *Error {
	return NewError(ErrUpstreamRejected, message, cause)
}

// NewUpstreamMalformedError creates a new upstream malformed response error
func NewUpstreamMalformedError(message string, cause error) *Error {
	return NewError(ErrUpstreamMalformed, message, cause)
}

// NewServiceUnavailableError creates a new service unavailable error
func NewServiceUnavailableError(message string) *Error {
	return NewError(ErrServiceUnavailable, message, nil)
}

// TypeOf returns the error type of err, or the empty string if err is not an
// application Error.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsConfigInvalid checks if the error is a config invalid error
func IsConfigInvalid(err error) bool {
	return TypeOf(err) == ErrConfigInvalid
}

// IsCredentialInvalid checks if the error is a credential invalid error
func IsCredentialInvalid(err error) bool {
	return TypeOf(err) == ErrCredentialInvalid
}

// IsUpstreamUnreachable checks if the error is an upstream unreachable error
func IsUpstreamUnreachable(err error) bool {
	return TypeOf(err) == ErrUpstreamUnreachable
}

// IsUpstreamRejected checks if the error is an upstream rejected error
func IsUpstreamRejected(err error) bool {
	return TypeOf(err) == ErrUpstreamRejected
}

// IsUpstreamMalformed checks if the error is an upstream malformed response error
func IsUpstreamMalformed(err error) bool {
	return TypeOf(err) == ErrUpstreamMalformed
}

// IsServiceUnavailable checks if the error is a service unavailable error
func IsServiceUnavailable(err error) bool {
	return TypeOf(err) == ErrServiceUnavailable
}
