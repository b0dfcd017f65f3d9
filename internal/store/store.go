// Package store persists certificate orders, subscriptions and lifecycle
// events. Every state change goes through a compare-and-transition
// operation: the write only applies when the stored state still equals the
// state the caller observed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edvin/sslshop/internal/model"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateOrder        = errors.New("an open order already exists for this domain")
	ErrDuplicateSubscription = errors.New("order already has a subscription")
	ErrIllegalTransition     = errors.New("illegal state transition")
	// ErrSubscriptionMoved is returned by CompleteRenewal when the
	// subscription no longer points at the order being renewed.
	ErrSubscriptionMoved = errors.New("subscription no longer references the renewed order")
)

// TransitionResult tells a caller whether its compare-and-transition won.
// NoChange means the stored state did not match the expected state, so
// another writer got there first and the caller must skip its side effects.
type TransitionResult int

const (
	NoChange TransitionResult = iota
	Transitioned
)

func (r TransitionResult) String() string {
	if r == Transitioned {
		return "transitioned"
	}
	return "no_change"
}

// Fields are the optional column updates applied together with a transition.
type Fields struct {
	ExternalOrderID *string
	AuthorityStatus *string
	PaymentID       *string
	Certificate     *string
	CABundle        *string
	ExpiresAt       *time.Time
	FailureReason   *string
}

// Transition describes a single compare-and-transition on an order.
//
// Leaving issued clears the expiry and certificate material and records the
// old expiry in expired_at.
type Transition struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
	// FromAuthorityStatus additionally guards on the last observed
	// authority status. Required when From equals To.
	FromAuthorityStatus *string
	// RequireUnpaid additionally guards on no payment being attached.
	RequireUnpaid bool
	Fields        Fields
	// RestoreSubscriptionTo points the subscription currently referencing
	// the order back at the given order, in the same transaction. Used
	// when a renewal order fails after its subscription was relinked.
	RestoreSubscriptionTo *string
	// Events are recorded in the same transaction, only when the
	// transition applies.
	Events []model.LifecycleEvent
}

// Validate checks a transition against the state machine and the order
// invariants before anything is written.
func (t Transition) Validate() error {
	if !model.CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.From, t.To)
	}
	if t.From == t.To && t.FromAuthorityStatus == nil {
		return fmt.Errorf("%w: revisiting %s requires an authority status guard", ErrIllegalTransition, t.From)
	}
	if t.To == model.OrderIssued && t.Fields.ExpiresAt == nil {
		return fmt.Errorf("%w: issued requires an expiry", ErrIllegalTransition)
	}
	if t.To != model.OrderIssued && t.Fields.ExpiresAt != nil {
		return fmt.Errorf("%w: expiry may only be set on issue", ErrIllegalTransition)
	}
	if t.To != model.OrderIssued && (t.Fields.Certificate != nil || t.Fields.CABundle != nil) {
		return fmt.Errorf("%w: certificate material may only be set on issue", ErrIllegalTransition)
	}
	if t.RestoreSubscriptionTo != nil && t.To != model.OrderFailed {
		return fmt.Errorf("%w: a subscription may only be restored on failure", ErrIllegalTransition)
	}
	// Only submission needs an external id. Failing from pending happens
	// before the authority has seen the order.
	if t.From == model.OrderPending && t.To == model.OrderProcessing && t.Fields.ExternalOrderID == nil {
		return fmt.Errorf("%w: processing requires an external order id", ErrIllegalTransition)
	}
	return nil
}

// RenewalCommit moves a renewal order to processing and relinks its
// subscription in one transaction.
type RenewalCommit struct {
	OrderID         string
	ExternalOrderID string
	AuthorityStatus string
	SubscriptionID  string
	PreviousOrderID string
	NextBillingAt   time.Time
	Events          []model.LifecycleEvent
}

// Store is the persistence boundary for the lifecycle orchestrator.
type Store interface {
	CreateOrder(ctx context.Context, o *model.CertificateOrder) error
	GetOrder(ctx context.Context, id string) (*model.CertificateOrder, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*model.CertificateOrder, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.CertificateOrder, error)
	ListOrdersByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]model.CertificateOrder, bool, error)
	CompareAndTransition(ctx context.Context, t Transition) (TransitionResult, error)
	AttachPayment(ctx context.Context, orderID, paymentID string) (TransitionResult, error)
	RecordReissue(ctx context.Context, orderID, csr string) (TransitionResult, error)

	FindInFlight(ctx context.Context) ([]model.CertificateOrder, error)
	FindSubmittable(ctx context.Context, updatedBefore time.Time) ([]model.CertificateOrder, error)
	FindUnpaid(ctx context.Context, createdBefore time.Time) ([]model.CertificateOrder, error)
	FindExpired(ctx context.Context, now time.Time) ([]model.CertificateOrder, error)
	FindExpiringBetween(ctx context.Context, from, to time.Time) ([]model.CertificateOrder, error)
	FindExpiringWithAutoRenew(ctx context.Context, withinDays int) ([]model.RenewalCandidate, error)

	GetProduct(ctx context.Context, id string) (*model.CertificateProduct, error)

	CreateSubscription(ctx context.Context, s *model.CertificateSubscription) error
	GetSubscription(ctx context.Context, id string) (*model.CertificateSubscription, error)
	GetSubscriptionByBillingAgreement(ctx context.Context, billingAgreementID string) (*model.CertificateSubscription, error)
	GetSubscriptionByOrder(ctx context.Context, orderID string) (*model.CertificateSubscription, error)
	TransitionSubscription(ctx context.Context, id string, from, to model.SubscriptionStatus) (TransitionResult, error)
	CompleteRenewal(ctx context.Context, c RenewalCommit) (TransitionResult, error)

	RecordEvent(ctx context.Context, e model.LifecycleEvent) (bool, error)
	ListEventsByOrder(ctx context.Context, orderID string) ([]model.LifecycleEvent, error)
	ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]model.LifecycleEvent, error)
	MarkEventDelivered(ctx context.Context, id string) error
	MarkChannelDelivered(ctx context.Context, id, channel string) error
	RescheduleEvent(ctx context.Context, id, lastError string, at time.Time) error
	DeadLetterEvent(ctx context.Context, id, lastError string) error

	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.Notification, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
