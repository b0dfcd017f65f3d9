package workflow

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/sslshop/internal/activity"
	"github.com/edvin/sslshop/internal/lifecycle"
)

// RenewCertificatesWorkflow is a cron workflow that renews every issued
// order inside the lookahead window with an active auto-renew
// subscription. Each order runs as a child workflow keyed by order and
// run day, so a second run on the same day cannot renew an order twice.
func RenewCertificatesWorkflow(ctx workflow.Context) (lifecycle.RenewalReport, error) {
	ctx = orderActivityCtx(ctx)
	logger := workflow.GetLogger(ctx)
	report := lifecycle.RenewalReport{Results: map[lifecycle.RenewalResult]int{}}

	var orderIDs []string
	if err := workflow.ExecuteActivity(ctx, "ListRenewalCandidates").Get(ctx, &orderIDs); err != nil {
		return report, err
	}
	report.Candidates = len(orderIDs)
	logger.Info("found renewal candidates", "count", len(orderIDs))

	runAt := workflow.Now(ctx)
	for _, orderID := range orderIDs {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID:            RenewOrderWorkflowID(orderID, runAt),
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		})
		var res lifecycle.RenewalResult
		err := workflow.ExecuteChildWorkflow(childCtx, RenewOrderWorkflow, activity.RenewOrderParams{
			OrderID:   orderID,
			WindowKey: lifecycle.WindowKey(orderID, runAt),
		}).Get(ctx, &res)
		if err != nil {
			report.Errors++
			logger.Error("failed to renew order", "orderID", orderID, "error", err)
			// Continue with the other candidates.
			continue
		}
		report.Results[res]++
	}

	return report, nil
}

// RenewOrderWorkflow renews one order for one window.
func RenewOrderWorkflow(ctx workflow.Context, params activity.RenewOrderParams) (lifecycle.RenewalResult, error) {
	ctx = orderActivityCtx(ctx)

	var res lifecycle.RenewalResult
	if err := workflow.ExecuteActivity(ctx, "RenewOrder", params).Get(ctx, &res); err != nil {
		return "", err
	}
	workflow.GetLogger(ctx).Info("renewal finished", "orderID", params.OrderID, "result", res)
	return res, nil
}

// InvoiceRenewalWorkflow renews a subscription's order from a paid invoice.
func InvoiceRenewalWorkflow(ctx workflow.Context, params activity.RenewFromInvoiceParams) (lifecycle.RenewalResult, error) {
	ctx = orderActivityCtx(ctx)

	var res lifecycle.RenewalResult
	if err := workflow.ExecuteActivity(ctx, "RenewFromInvoice", params).Get(ctx, &res); err != nil {
		return "", err
	}
	workflow.GetLogger(ctx).Info("invoice renewal finished",
		"subscriptionID", params.SubscriptionID, "invoiceID", params.InvoiceID, "result", res)
	return res, nil
}
