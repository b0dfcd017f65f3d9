package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/sslshop/internal/lifecycle"
)

// ExpireCertificatesWorkflow is a cron workflow that moves issued orders
// past their expiry to expired.
func ExpireCertificatesWorkflow(ctx workflow.Context) (lifecycle.SweepReport, error) {
	ctx = sweepActivityCtx(ctx)

	var report lifecycle.SweepReport
	if err := workflow.ExecuteActivity(ctx, "ExpireIssuedCertificates").Get(ctx, &report); err != nil {
		return report, err
	}
	workflow.GetLogger(ctx).Info("expiry sweep finished", "checked", report.Checked, "expired", report.Transitioned, "failed", report.Failed)
	return report, nil
}

// ExpiryWarningWorkflow is a cron workflow that warns owners of
// certificates reaching a warning threshold.
func ExpiryWarningWorkflow(ctx workflow.Context) (int, error) {
	ctx = sweepActivityCtx(ctx)

	var sent int
	if err := workflow.ExecuteActivity(ctx, "SendExpiryWarnings").Get(ctx, &sent); err != nil {
		return 0, err
	}
	workflow.GetLogger(ctx).Info("expiry warnings recorded", "count", sent)
	return sent, nil
}
