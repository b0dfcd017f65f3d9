package activity

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/lifecycle"
)

// Orders contains activities that move single orders and sweep the
// in-flight set.
type Orders struct {
	submitter  *lifecycle.Submitter
	reconciler *lifecycle.Reconciler
}

// NewOrders creates a new Orders activity struct.
func NewOrders(submitter *lifecycle.Submitter, reconciler *lifecycle.Reconciler) *Orders {
	return &Orders{submitter: submitter, reconciler: reconciler}
}

// SubmitOrder places a paid pending order with the authority. A rejection
// is a normal outcome, not an error. Transient failures are retried.
func (a *Orders) SubmitOrder(ctx context.Context, orderID string) (lifecycle.SubmitOutcome, error) {
	outcome, err := a.submitter.Submit(ctx, orderID)
	if err != nil {
		return "", classify(fmt.Sprintf("submit order %s", orderID), err)
	}
	return outcome, nil
}

// ReconcileOrder polls the authority for one order and applies its state.
func (a *Orders) ReconcileOrder(ctx context.Context, orderID string) (lifecycle.Outcome, error) {
	outcome, err := a.reconciler.ReconcileOrder(ctx, orderID)
	if err != nil {
		return "", classify(fmt.Sprintf("reconcile order %s", orderID), err)
	}
	return outcome, nil
}

// ReconcileInFlight runs one reconciliation sweep. Per-order failures are
// counted in the report and do not fail the activity.
func (a *Orders) ReconcileInFlight(ctx context.Context) (lifecycle.SweepReport, error) {
	report, err := a.reconciler.Sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("reconciliation sweep: %w", err)
	}
	return report, nil
}
