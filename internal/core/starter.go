package core

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/sslshop/internal/activity"
	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/workflow"
)

// WorkflowStarter starts lifecycle workflows on Temporal. Workflow IDs are
// derived from the order, so starting work that already runs for the same
// order attaches to it instead of running twice.
type WorkflowStarter struct {
	tc        temporalclient.Client
	taskQueue string
}

var _ lifecycle.WorkflowStarter = (*WorkflowStarter)(nil)

func NewWorkflowStarter(tc temporalclient.Client, taskQueue string) *WorkflowStarter {
	if taskQueue == "" {
		taskQueue = workflow.TaskQueue
	}
	return &WorkflowStarter{tc: tc, taskQueue: taskQueue}
}

func (s *WorkflowStarter) StartSubmission(ctx context.Context, orderID string) error {
	return s.start(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflow.SubmitOrderWorkflowID(orderID),
		TaskQueue: s.taskQueue,
	}, "SubmitOrderWorkflow", orderID)
}

func (s *WorkflowStarter) StartReconcile(ctx context.Context, orderID string) error {
	return s.start(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflow.ReconcileOrderWorkflowID(orderID),
		TaskQueue: s.taskQueue,
	}, "ReconcileOrderWorkflow", orderID)
}

// StartInvoiceRenewal runs at most once per invoice, even after the first
// run has finished.
func (s *WorkflowStarter) StartInvoiceRenewal(ctx context.Context, subscriptionID, invoiceID string) error {
	return s.start(ctx, temporalclient.StartWorkflowOptions{
		ID:                    workflow.InvoiceRenewalWorkflowID(invoiceID),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, "InvoiceRenewalWorkflow", activity.RenewFromInvoiceParams{
		SubscriptionID: subscriptionID,
		InvoiceID:      invoiceID,
	})
}

func (s *WorkflowStarter) start(ctx context.Context, opts temporalclient.StartWorkflowOptions, name string, arg any) error {
	_, err := s.tc.ExecuteWorkflow(ctx, opts, name, arg)
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &alreadyStarted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("start %s %s: %w", name, opts.ID, err)
	}
	return nil
}
