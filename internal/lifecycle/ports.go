// Package lifecycle drives certificate orders from payment to an issued
// certificate and keeps them current: order intake, submission to the
// authority, reconciliation against the authority, the expiry sweep and
// warnings, renewal of auto-renew subscriptions and webhook ingestion.
//
// Every state change goes through store.CompareAndTransition. A caller
// that observes store.NoChange lost a race to a concurrent writer and skips
// its side effects, so events are recorded exactly once per change.
package lifecycle

import (
	"context"

	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/square"
)

// Authority is the certificate authority gateway.
type Authority interface {
	Submit(ctx context.Context, req gogetssl.SubmitRequest) (string, error)
	Status(ctx context.Context, externalOrderID string) (gogetssl.OrderDetails, error)
	Reissue(ctx context.Context, externalOrderID, csr, approverEmail string) error
}

// Payments is the payment gateway.
type Payments interface {
	Charge(ctx context.Context, req square.ChargeRequest) (square.Payment, error)
	ChargeSubscription(ctx context.Context, subscriptionID string, amountCents int64, currency, idempotencyKey string) (square.Payment, error)
	PauseSubscription(ctx context.Context, id string) error
	ResumeSubscription(ctx context.Context, id string) error
	CancelSubscription(ctx context.Context, id string) error
}

// WorkflowStarter hands long-running work to the orchestrator. Starting
// work that is already running for the same order is not an error.
type WorkflowStarter interface {
	StartSubmission(ctx context.Context, orderID string) error
	StartReconcile(ctx context.Context, orderID string) error
	StartInvoiceRenewal(ctx context.Context, subscriptionID, invoiceID string) error
}

var (
	_ Authority = (*gogetssl.Client)(nil)
	_ Payments  = (*square.Client)(nil)
)
