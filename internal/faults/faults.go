// Package faults defines the error classes shared by the lifecycle
// services and their integrations. Integration errors wrap one of these so
// callers can decide between retrying, failing the order and rejecting the
// request with errors.Is.
package faults

import "errors"

var (
	// ErrTransient marks integration failures worth retrying: timeouts,
	// network errors, 5xx and 429 responses.
	ErrTransient = errors.New("transient integration error")
	// ErrSemanticRejection marks a definitive refusal by the authority or
	// the payment provider. The order moves to failed and is not retried.
	ErrSemanticRejection = errors.New("rejected by integration")
	// ErrAuthenticationExpired means the cached credential was refused.
	ErrAuthenticationExpired = errors.New("authentication expired")
	// ErrValidation marks malformed input, detected before any external call.
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized marks an inbound request with a bad signature or key.
	ErrUnauthorized = errors.New("unauthorized")
)

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
