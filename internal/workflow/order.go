package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/sslshop/internal/lifecycle"
)

// SubmitOrderWorkflow submits one paid order to the authority. When every
// attempt fails the order stays pending and the reconciliation sweep
// submits it again later.
func SubmitOrderWorkflow(ctx workflow.Context, orderID string) (lifecycle.SubmitOutcome, error) {
	ctx = orderActivityCtx(ctx)
	logger := workflow.GetLogger(ctx)

	var outcome lifecycle.SubmitOutcome
	if err := workflow.ExecuteActivity(ctx, "SubmitOrder", orderID).Get(ctx, &outcome); err != nil {
		logger.Error("order submission failed, left pending for the sweep", "orderID", orderID, "error", err)
		return "", err
	}
	logger.Info("order submission finished", "orderID", orderID, "outcome", outcome)
	return outcome, nil
}

// ReconcileOrderWorkflow reconciles one order, typically after an
// authority webhook.
func ReconcileOrderWorkflow(ctx workflow.Context, orderID string) (lifecycle.Outcome, error) {
	ctx = orderActivityCtx(ctx)

	var outcome lifecycle.Outcome
	if err := workflow.ExecuteActivity(ctx, "ReconcileOrder", orderID).Get(ctx, &outcome); err != nil {
		return "", err
	}
	workflow.GetLogger(ctx).Info("order reconciled", "orderID", orderID, "outcome", outcome)
	return outcome, nil
}

// ReconcileOrdersWorkflow is a cron workflow that resubmits stale paid
// orders and reconciles every in-flight order.
func ReconcileOrdersWorkflow(ctx workflow.Context) (lifecycle.SweepReport, error) {
	ctx = sweepActivityCtx(ctx)

	var report lifecycle.SweepReport
	if err := workflow.ExecuteActivity(ctx, "ReconcileInFlight").Get(ctx, &report); err != nil {
		return report, err
	}
	workflow.GetLogger(ctx).Info("reconciliation sweep finished",
		"checked", report.Checked, "transitioned", report.Transitioned,
		"resubmitted", report.Resubmitted, "failed", report.Failed)
	return report, nil
}
