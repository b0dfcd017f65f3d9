package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/store"
)

// Application error types reported to workflows.
const (
	ErrTypeRejected   = "REJECTED"
	ErrTypeValidation = "VALIDATION"
	ErrTypeNotFound   = "NOT_FOUND"
	ErrTypeIllegal    = "ILLEGAL_TRANSITION"
)

// classify turns errors that another attempt cannot fix into non-retryable
// application errors. Everything else is returned as is and retried under
// the activity's retry policy.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, faults.ErrSemanticRejection):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeRejected, err)
	case errors.Is(err, faults.ErrValidation):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeValidation, err)
	case errors.Is(err, store.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeNotFound, err)
	case errors.Is(err, store.ErrIllegalTransition):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeIllegal, err)
	}
	return err
}
