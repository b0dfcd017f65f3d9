package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// SubmitOutcome is the result of one submission attempt.
type SubmitOutcome string

const (
	SubmitSubmitted       SubmitOutcome = "submitted"
	SubmitRejected        SubmitOutcome = "rejected"
	SubmitSkipped         SubmitOutcome = "skipped"
	SubmitAwaitingPayment SubmitOutcome = "awaiting_payment"
	// SubmitConflict means the authority accepted the order but the local
	// order changed state meanwhile.
	SubmitConflict SubmitOutcome = "conflict"
)

// Submitter forwards paid pending orders to the authority.
type Submitter struct {
	store     store.Store
	authority Authority
	locks     *OrderLocks
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSubmitter(s store.Store, authority Authority, locks *OrderLocks, logger zerolog.Logger) *Submitter {
	if locks == nil {
		locks = NewOrderLocks()
	}
	return &Submitter{
		store:     s,
		authority: authority,
		locks:     locks,
		logger:    logger.With().Str("component", "submitter").Logger(),
		now:       time.Now,
	}
}

// Submit places the order with the authority if it is pending with a
// captured payment. A semantic rejection fails the order and returns
// SubmitRejected with a nil error. Transient failures are returned and the
// order stays pending for a later attempt.
func (s *Submitter) Submit(ctx context.Context, orderID string) (SubmitOutcome, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", orderID, err)
	}
	log := s.logger.With().Str("order_id", o.ID).Str("domain", o.DomainName).Logger()

	if o.Status != model.OrderPending {
		log.Debug().Str("status", string(o.Status)).Msg("order is not pending, skipping submission")
		return SubmitSkipped, nil
	}
	if !o.PaymentCaptured() {
		return SubmitAwaitingPayment, nil
	}

	product, err := s.store.GetProduct(ctx, o.ProductID)
	if err != nil {
		return "", fmt.Errorf("load product %s: %w", o.ProductID, err)
	}

	externalID, err := s.authority.Submit(ctx, gogetssl.SubmitRequest{
		ProductID:      product.AuthorityProductID,
		CSR:            o.CSR,
		ValidityPeriod: product.ValidityMonths,
		ApproverEmail:  o.ApproverEmail,
		WebserverType:  "other",
		DNSNames:       []string{o.DomainName},
	})
	if errors.Is(err, faults.ErrSemanticRejection) {
		log.Warn().Err(err).Msg("authority rejected submission")
		if err := s.fail(ctx, o); err != nil {
			return "", err
		}
		return SubmitRejected, nil
	}
	if err != nil {
		return "", fmt.Errorf("submit order %s: %w", o.ID, err)
	}
	log = log.With().Str("external_order_id", externalID).Logger()

	var res store.TransitionResult
	if o.IsRenewal() {
		res, err = s.commitRenewal(ctx, o, product, externalID, log)
	} else {
		res, err = s.commitPlain(ctx, o, externalID, model.KindOrderConfirmed)
	}
	if err != nil {
		return "", fmt.Errorf("record submission of %s: %w", o.ID, err)
	}
	if res == store.NoChange {
		log.Error().Msg("order changed state while the authority accepted it, needs attention")
		return SubmitConflict, nil
	}

	metrics.OrderTransitions.WithLabelValues(string(model.OrderPending), string(model.OrderProcessing)).Inc()
	log.Info().Msg("order submitted to authority")
	return SubmitSubmitted, nil
}

func (s *Submitter) commitPlain(ctx context.Context, o *model.CertificateOrder, externalID string, kind model.NotificationKind) (store.TransitionResult, error) {
	e := newEvent(o, kind, model.OrderPending, model.OrderProcessing)
	e.Data["external_order_id"] = externalID
	return s.store.CompareAndTransition(ctx, store.Transition{
		OrderID: o.ID,
		From:    model.OrderPending,
		To:      model.OrderProcessing,
		Fields:  store.Fields{ExternalOrderID: &externalID},
		Events:  []model.LifecycleEvent{e},
	})
}

// commitRenewal moves the renewal order to processing and repoints the
// subscription at it. When the subscription has moved on, the order is
// still recorded as submitted so the authority order is not lost.
func (s *Submitter) commitRenewal(ctx context.Context, o *model.CertificateOrder, product *model.CertificateProduct, externalID string, log zerolog.Logger) (store.TransitionResult, error) {
	sub, err := s.store.GetSubscriptionByOrder(ctx, *o.RenewalOfOrderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("no subscription references the renewed order")
		return s.commitPlain(ctx, o, externalID, model.KindRenewalSucceeded)
	}
	if err != nil {
		return store.NoChange, err
	}

	e := newEvent(o, model.KindRenewalSucceeded, model.OrderPending, model.OrderProcessing)
	e.Data["renewed_order_id"] = *o.RenewalOfOrderID
	e.Data["external_order_id"] = externalID
	res, err := s.store.CompleteRenewal(ctx, store.RenewalCommit{
		OrderID:         o.ID,
		ExternalOrderID: externalID,
		SubscriptionID:  sub.ID,
		PreviousOrderID: *o.RenewalOfOrderID,
		NextBillingAt:   s.now().AddDate(0, product.ValidityMonths, 0),
		Events:          []model.LifecycleEvent{e},
	})
	if errors.Is(err, store.ErrSubscriptionMoved) {
		log.Warn().Str("subscription_id", sub.ID).Msg("subscription moved during renewal, recording order without relink")
		return s.commitPlain(ctx, o, externalID, model.KindRenewalSucceeded)
	}
	if err == nil && res == store.Transitioned {
		metrics.RenewalResults.WithLabelValues("succeeded").Inc()
	}
	return res, err
}

func (s *Submitter) fail(ctx context.Context, o *model.CertificateOrder) error {
	reason := ReasonSubmissionFailed
	if o.IsRenewal() {
		reason = ReasonRenewalSubmission
		metrics.RenewalResults.WithLabelValues("submission_rejected").Inc()
	}
	e := failureEvent(o, model.OrderPending, false, reason)
	res, err := s.store.CompareAndTransition(ctx, store.Transition{
		OrderID: o.ID,
		From:    model.OrderPending,
		To:      model.OrderFailed,
		Fields:  store.Fields{FailureReason: &reason},
		Events:  []model.LifecycleEvent{e},
	})
	if err != nil {
		return fmt.Errorf("fail order %s: %w", o.ID, err)
	}
	if res == store.Transitioned {
		metrics.OrderTransitions.WithLabelValues(string(model.OrderPending), string(model.OrderFailed)).Inc()
	}
	return nil
}
