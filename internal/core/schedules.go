package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/workflow"
)

// Schedule is one periodic lifecycle job.
type Schedule struct {
	// Name is the short name used by certctl trigger.
	Name     string
	ID       string
	Cron     string
	Workflow any
}

// Schedules returns the periodic jobs with their configured cadence.
func Schedules(cfg *config.Config) []Schedule {
	return []Schedule{
		{Name: "reconcile", ID: "reconcile-orders-cron", Cron: cfg.ReconcileSchedule, Workflow: workflow.ReconcileOrdersWorkflow},
		{Name: "expire", ID: "expire-certificates-cron", Cron: cfg.ExpirySweepSchedule, Workflow: workflow.ExpireCertificatesWorkflow},
		{Name: "warn", ID: "expiry-warning-cron", Cron: cfg.ExpiryWarningSchedule, Workflow: workflow.ExpiryWarningWorkflow},
		{Name: "renew", ID: "renew-certificates-cron", Cron: cfg.RenewalSchedule, Workflow: workflow.RenewCertificatesWorkflow},
	}
}

// ScheduleService registers and triggers the periodic jobs.
type ScheduleService struct {
	tc        temporalclient.Client
	taskQueue string
}

func NewScheduleService(tc temporalclient.Client, taskQueue string) *ScheduleService {
	if taskQueue == "" {
		taskQueue = workflow.TaskQueue
	}
	return &ScheduleService{tc: tc, taskQueue: taskQueue}
}

// Register creates every schedule. Schedules that already exist are left
// as they are so that re-deploys do not fail.
func (s *ScheduleService) Register(ctx context.Context, schedules []Schedule, logger zerolog.Logger) error {
	scheduleClient := s.tc.ScheduleClient()

	for _, sc := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: sc.ID,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{sc.Cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        sc.ID,
				Workflow:  sc.Workflow,
				TaskQueue: s.taskQueue,
			},
		})
		if err != nil {
			if alreadyExists(err) {
				logger.Info().Str("id", sc.ID).Msg("cron schedule already exists, skipping")
				continue
			}
			return fmt.Errorf("create schedule %s: %w", sc.ID, err)
		}
		logger.Info().Str("id", sc.ID).Str("cron", sc.Cron).Msg("created cron schedule")
	}
	return nil
}

// Trigger runs the named schedule now, outside its cadence.
func (s *ScheduleService) Trigger(ctx context.Context, schedules []Schedule, name string) error {
	for _, sc := range schedules {
		if sc.Name != name {
			continue
		}
		handle := s.tc.ScheduleClient().GetHandle(ctx, sc.ID)
		if err := handle.Trigger(ctx, temporalclient.ScheduleTriggerOptions{}); err != nil {
			return fmt.Errorf("trigger schedule %s: %w", sc.ID, err)
		}
		return nil
	}
	return fmt.Errorf("unknown schedule %q", name)
}

func alreadyExists(err error) bool {
	var exists *serviceerror.AlreadyExists
	return errors.Is(err, temporal.ErrScheduleAlreadyRunning) || errors.As(err, &exists)
}
