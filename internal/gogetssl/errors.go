package gogetssl

import (
	"fmt"

	"github.com/edvin/sslshop/internal/faults"
)

// ErrSubmissionRejected is the semantic rejection returned by Submit.
var ErrSubmissionRejected = fmt.Errorf("submission rejected: %w", faults.ErrSemanticRejection)

// APIError is a failed call to the authority. It matches one of the faults
// classes with errors.Is.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gogetssl %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("gogetssl %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func rejection(op string) error {
	if op == opSubmit {
		return ErrSubmissionRejected
	}
	return faults.ErrSemanticRejection
}

// classify maps an HTTP status to a fault class. It returns nil for success.
func classify(op string, status int) error {
	switch {
	case status < 300:
		return nil
	case status == 401 || status == 403:
		return faults.ErrAuthenticationExpired
	case status == 429 || status == 408 || status >= 500:
		return faults.ErrTransient
	default:
		return rejection(op)
	}
}
