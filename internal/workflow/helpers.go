// Package workflow holds the Temporal workflows that run the certificate
// lifecycle: per-order submission, reconcile and renewal, and the cron
// sweeps over the whole order table.
package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the queue the sslshop worker polls.
const TaskQueue = "sslshop-tasks"

// Workflow IDs are keyed by order so that at most one submission, reconcile
// or renewal runs per order at a time.
func SubmitOrderWorkflowID(orderID string) string {
	return "submit-order-" + orderID
}

func ReconcileOrderWorkflowID(orderID string) string {
	return "reconcile-order-" + orderID
}

// RenewOrderWorkflowID is unique per order and renewal run day.
func RenewOrderWorkflowID(orderID string, runAt time.Time) string {
	return fmt.Sprintf("renew-order-%s-%s", orderID, runAt.UTC().Format(time.DateOnly))
}

func InvoiceRenewalWorkflowID(invoiceID string) string {
	return "invoice-renewal-" + invoiceID
}

// orderActivityCtx is used for activities that make one external call for
// one order.
func orderActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    2 * time.Minute,
			BackoffCoefficient: 2.0,
		},
	})
}

// sweepActivityCtx is used for activities that walk many orders. Sweeps
// are resumable, so a retry simply starts the pass again.
func sweepActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    30 * time.Second,
			MaximumInterval:    5 * time.Minute,
			BackoffCoefficient: 2.0,
		},
	})
}
