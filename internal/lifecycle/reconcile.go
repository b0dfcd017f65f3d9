package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// Outcome is the result of reconciling one order.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeUnchanged    Outcome = "unchanged"
	// OutcomeConflict means a concurrent writer applied the change first.
	OutcomeConflict    Outcome = "conflict"
	OutcomeUnmapped    Outcome = "unmapped"
	OutcomeIllegal     Outcome = "illegal"
	OutcomeIncomplete  Outcome = "incomplete"
	OutcomeNotInFlight Outcome = "not_in_flight"
	OutcomeError       Outcome = "error"
)

// SweepReport summarizes a pass over many orders.
type SweepReport struct {
	Checked      int `json:"checked"`
	Transitioned int `json:"transitioned"`
	Resubmitted  int `json:"resubmitted"`
	Abandoned    int `json:"abandoned"`
	Failed       int `json:"failed"`
}

// SweepConfig bounds how long an order may wait at pending.
type SweepConfig struct {
	// SubmitRetryAfter is how long a paid order may sit at pending before
	// the sweep starts its submission again. Zero disables resubmission.
	SubmitRetryAfter time.Duration
	// UnpaidOrderTTL is how long an order may wait for its payment to be
	// confirmed before it is failed, which frees its domain for a new
	// order. Zero disables the check.
	UnpaidOrderTTL time.Duration
}

// Reconciler applies the authority's view of in-flight orders.
type Reconciler struct {
	store     store.Store
	authority Authority
	starter   WorkflowStarter
	locks     *OrderLocks
	logger    zerolog.Logger
	now       func() time.Time
	cfg       SweepConfig
}

// NewReconciler creates a reconciler. Stale paid orders are resubmitted
// through starter so that they run under the same per-order workflow as
// every other submission.
func NewReconciler(s store.Store, authority Authority, starter WorkflowStarter, locks *OrderLocks, cfg SweepConfig, logger zerolog.Logger) *Reconciler {
	if locks == nil {
		locks = NewOrderLocks()
	}
	return &Reconciler{
		store:     s,
		authority: authority,
		starter:   starter,
		locks:     locks,
		logger:    logger.With().Str("component", "reconciler").Logger(),
		now:       time.Now,
		cfg:       cfg,
	}
}

// Sweep fails orders whose payment never arrived, restarts the submission
// of stale paid pending orders, then reconciles every in-flight order. One
// order's failure is logged and the sweep continues. No transaction spans
// orders, so an interrupted sweep can simply run again.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if r.cfg.UnpaidOrderTTL > 0 {
		unpaid, err := r.store.FindUnpaid(ctx, r.now().Add(-r.cfg.UnpaidOrderTTL))
		if err != nil {
			return report, fmt.Errorf("find unpaid orders: %w", err)
		}
		for _, o := range unpaid {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			abandoned, err := r.abandonUnpaid(ctx, &o)
			if err != nil {
				report.Failed++
				r.logger.Warn().Err(err).Str("order_id", o.ID).Msg("abandon unpaid order failed")
				continue
			}
			if abandoned {
				report.Abandoned++
			}
		}
	}

	if r.starter != nil && r.cfg.SubmitRetryAfter > 0 {
		stale, err := r.store.FindSubmittable(ctx, r.now().Add(-r.cfg.SubmitRetryAfter))
		if err != nil {
			return report, fmt.Errorf("find submittable orders: %w", err)
		}
		for _, o := range stale {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := r.starter.StartSubmission(ctx, o.ID); err != nil {
				report.Failed++
				r.logger.Warn().Err(err).Str("order_id", o.ID).Msg("restart submission failed")
				continue
			}
			report.Resubmitted++
		}
	}

	orders, err := r.store.FindInFlight(ctx)
	if err != nil {
		return report, fmt.Errorf("find in-flight orders: %w", err)
	}
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		outcome, err := r.ReconcileOrder(ctx, o.ID)
		if err != nil {
			report.Failed++
			r.logger.Warn().Err(err).Str("order_id", o.ID).Msg("reconcile order failed")
			continue
		}
		if outcome == OutcomeTransitioned {
			report.Transitioned++
		}
	}

	r.logger.Info().
		Int("checked", report.Checked).
		Int("transitioned", report.Transitioned).
		Int("resubmitted", report.Resubmitted).
		Int("abandoned", report.Abandoned).
		Int("failed", report.Failed).
		Msg("reconciliation sweep complete")
	return report, nil
}

// ReconcileByExternalID reconciles the order the authority knows as
// externalOrderID.
func (r *Reconciler) ReconcileByExternalID(ctx context.Context, externalOrderID string) (Outcome, error) {
	o, err := r.store.GetOrderByExternalID(ctx, externalOrderID)
	if err != nil {
		return OutcomeError, fmt.Errorf("find order for external id %s: %w", externalOrderID, err)
	}
	return r.ReconcileOrder(ctx, o.ID)
}

// ReconcileOrder polls the authority for one in-flight order and applies the
// mapped state. Orders that are not processing are left alone.
func (r *Reconciler) ReconcileOrder(ctx context.Context, orderID string) (Outcome, error) {
	outcome, err := r.reconcile(ctx, orderID)
	if err != nil {
		outcome = OutcomeError
	}
	metrics.ReconcileResults.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (r *Reconciler) reconcile(ctx context.Context, orderID string) (Outcome, error) {
	unlock := r.locks.Lock(orderID)
	defer unlock()

	o, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return OutcomeError, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.Status != model.OrderProcessing || o.ExternalOrderID == nil {
		return OutcomeNotInFlight, nil
	}
	log := r.logger.With().Str("order_id", o.ID).Str("external_order_id", *o.ExternalOrderID).Logger()

	details, err := r.authority.Status(ctx, *o.ExternalOrderID)
	if err != nil {
		return OutcomeError, fmt.Errorf("poll authority for %s: %w", o.ID, err)
	}

	authorityStatus := normalizeAuthorityStatus(details.Status)
	target, ok := MapAuthorityStatus(authorityStatus)
	if !ok {
		log.Warn().Str("authority_status", details.Status).Msg("unmapped authority status, leaving order unchanged")
		return OutcomeUnmapped, nil
	}

	switch target {
	case model.OrderProcessing:
		return r.stillProcessing(ctx, o, authorityStatus, log)
	case model.OrderIssued:
		return r.issue(ctx, o, authorityStatus, details, log)
	case model.OrderFailed:
		return r.fail(ctx, o, authorityStatus, log)
	default:
		log.Error().Str("authority_status", authorityStatus).Str("target", string(target)).
			Msg("authority reported a state the order cannot move to")
		return OutcomeIllegal, nil
	}
}

// stillProcessing records a change of authority status while the order
// waits. Entering domain validation notifies the approver once.
func (r *Reconciler) stillProcessing(ctx context.Context, o *model.CertificateOrder, authorityStatus string, log zerolog.Logger) (Outcome, error) {
	if o.AuthorityStatus == authorityStatus {
		return OutcomeUnchanged, nil
	}
	previous := o.AuthorityStatus
	t := store.Transition{
		OrderID:             o.ID,
		From:                model.OrderProcessing,
		To:                  model.OrderProcessing,
		FromAuthorityStatus: &previous,
		Fields:              store.Fields{AuthorityStatus: &authorityStatus},
	}
	if authorityStatus == AuthorityDomainValidation {
		t.Events = []model.LifecycleEvent{newEvent(o, model.KindDomainValidationRequired, model.OrderProcessing, model.OrderProcessing)}
	}
	res, err := r.store.CompareAndTransition(ctx, t)
	if err != nil {
		return OutcomeError, fmt.Errorf("record authority status of %s: %w", o.ID, err)
	}
	if res == store.NoChange {
		return OutcomeConflict, nil
	}
	log.Debug().Str("from", previous).Str("to", authorityStatus).Msg("authority status changed")
	return OutcomeUnchanged, nil
}

func (r *Reconciler) issue(ctx context.Context, o *model.CertificateOrder, authorityStatus string, d gogetssl.OrderDetails, log zerolog.Logger) (Outcome, error) {
	expiresAt := d.ValidTill.Ptr()
	if expiresAt == nil || d.Certificate == "" {
		log.Info().Msg("authority reports active but material or expiry is missing, retrying next pass")
		return OutcomeIncomplete, nil
	}
	cert, bundle := d.Certificate, d.CABundle
	res, err := r.store.CompareAndTransition(ctx, store.Transition{
		OrderID: o.ID,
		From:    model.OrderProcessing,
		To:      model.OrderIssued,
		Fields: store.Fields{
			AuthorityStatus: &authorityStatus,
			Certificate:     &cert,
			CABundle:        &bundle,
			ExpiresAt:       expiresAt,
		},
		Events: []model.LifecycleEvent{issuedEvent(o, *expiresAt)},
	})
	return r.applied(res, err, o, model.OrderIssued, log)
}

// fail moves a cancelled or rejected order to failed. A renewal order
// hands its subscription back to the order it was renewing, so the next
// billing cycle can renew that one again.
func (r *Reconciler) fail(ctx context.Context, o *model.CertificateOrder, authorityStatus string, log zerolog.Logger) (Outcome, error) {
	t := store.Transition{
		OrderID: o.ID,
		From:    model.OrderProcessing,
		To:      model.OrderFailed,
	}
	reason := ReasonAuthorityCanceled
	if o.IsRenewal() {
		reason = ReasonRenewalSubmission
		t.RestoreSubscriptionTo = o.RenewalOfOrderID
	}
	t.Fields = store.Fields{AuthorityStatus: &authorityStatus, FailureReason: &reason}
	t.Events = []model.LifecycleEvent{failureEvent(o, model.OrderProcessing, false, reason)}
	res, err := r.store.CompareAndTransition(ctx, t)
	return r.applied(res, err, o, model.OrderFailed, log)
}

// abandonUnpaid fails a pending order that never got a payment attached.
// The guard on the payment makes a capture racing with the sweep win.
func (r *Reconciler) abandonUnpaid(ctx context.Context, o *model.CertificateOrder) (bool, error) {
	unlock := r.locks.Lock(o.ID)
	defer unlock()

	reason := ReasonPaymentUnconfirmed
	if o.IsRenewal() {
		reason = ReasonRenewalPayment
	}
	res, err := r.store.CompareAndTransition(ctx, store.Transition{
		OrderID:       o.ID,
		From:          model.OrderPending,
		To:            model.OrderFailed,
		RequireUnpaid: true,
		Fields:        store.Fields{FailureReason: &reason},
		Events:        []model.LifecycleEvent{failureEvent(o, model.OrderPending, true, reason)},
	})
	if err != nil {
		return false, fmt.Errorf("fail unpaid order %s: %w", o.ID, err)
	}
	if res == store.NoChange {
		return false, nil
	}
	metrics.OrderTransitions.WithLabelValues(string(model.OrderPending), string(model.OrderFailed)).Inc()
	r.logger.Info().Str("order_id", o.ID).Time("created_at", o.CreatedAt).Msg("payment never confirmed, order failed")
	return true, nil
}

func (r *Reconciler) applied(res store.TransitionResult, err error, o *model.CertificateOrder, to model.OrderStatus, log zerolog.Logger) (Outcome, error) {
	if errors.Is(err, store.ErrIllegalTransition) {
		log.Error().Err(err).Msg("illegal transition")
		return OutcomeIllegal, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("transition %s to %s: %w", o.ID, to, err)
	}
	if res == store.NoChange {
		log.Debug().Msg("order changed concurrently, skipping")
		return OutcomeConflict, nil
	}
	metrics.OrderTransitions.WithLabelValues(string(model.OrderProcessing), string(to)).Inc()
	log.Info().Str("to", string(to)).Msg("order transitioned")
	return OutcomeTransitioned, nil
}
