package core

import (
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/store"
)

// Deps are the collaborators the API-facing services are built from.
type Deps struct {
	Store     store.Store
	Temporal  temporalclient.Client
	TaskQueue string
	Authority lifecycle.Authority
	Payments  lifecycle.Payments
	Webhooks  lifecycle.WebhookConfig
	Logger    zerolog.Logger
}

type Services struct {
	Order        *OrderService
	Subscription *SubscriptionService
	Notification *NotificationService
	Webhooks     *lifecycle.Webhooks
	Starter      *WorkflowStarter
	Schedules    *ScheduleService
}

func NewServices(d Deps) *Services {
	starter := NewWorkflowStarter(d.Temporal, d.TaskQueue)
	intake := lifecycle.NewIntake(d.Store, d.Payments, d.Authority, starter, d.Logger)
	return &Services{
		Order:        NewOrderService(d.Store, intake),
		Subscription: NewSubscriptionService(d.Store, lifecycle.NewSubscriptions(d.Store, d.Payments, d.Logger)),
		Notification: NewNotificationService(d.Store),
		Webhooks:     lifecycle.NewWebhooks(d.Store, starter, d.Webhooks, d.Logger),
		Starter:      starter,
		Schedules:    NewScheduleService(d.Temporal, d.TaskQueue),
	}
}
