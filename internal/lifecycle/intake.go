package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/platform"
	"github.com/edvin/sslshop/internal/square"
	"github.com/edvin/sslshop/internal/store"
)

// PlaceOrderRequest is a paid purchase of one certificate.
type PlaceOrderRequest struct {
	OwnerID       string `json:"owner_id" validate:"required"`
	ProductID     string `json:"product_id" validate:"required"`
	DomainName    string `json:"domain_name" validate:"required"`
	CSR           string `json:"csr" validate:"required"`
	ApproverEmail string `json:"approver_email" validate:"required,email"`
	// PaymentToken is the card nonce produced by the payment form.
	PaymentToken string `json:"payment_token" validate:"required"`
	AutoRenew    bool   `json:"auto_renew"`
	// BillingAgreementID is the provider subscription backing auto-renew.
	BillingAgreementID string                `json:"billing_agreement_id" validate:"required_if=AutoRenew true"`
	BillingInterval    model.BillingInterval `json:"billing_interval" validate:"omitempty,oneof=monthly yearly"`
}

// Intake accepts new orders and certificate reissues.
type Intake struct {
	store     store.Store
	payments  Payments
	authority Authority
	starter   WorkflowStarter
	logger    zerolog.Logger
	now       func() time.Time
}

func NewIntake(s store.Store, payments Payments, authority Authority, starter WorkflowStarter, logger zerolog.Logger) *Intake {
	return &Intake{
		store:     s,
		payments:  payments,
		authority: authority,
		starter:   starter,
		logger:    logger.With().Str("component", "intake").Logger(),
		now:       time.Now,
	}
}

// Place validates the request, creates the order at pending and charges
// it. A declined charge fails the order; a completed one starts submission.
// An approved charge that has not completed waits for the payment webhook.
func (in *Intake) Place(ctx context.Context, req PlaceOrderRequest) (*model.CertificateOrder, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	product, err := in.store.GetProduct(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !product.Active) {
		return nil, fmt.Errorf("%w: unknown product %s", faults.ErrValidation, req.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", req.ProductID, err)
	}
	domain, err := NormalizeDomain(req.DomainName, product.Wildcard)
	if err != nil {
		return nil, err
	}
	if err := ValidateCSR(req.CSR, domain); err != nil {
		return nil, err
	}

	o := &model.CertificateOrder{
		ID:            platform.NewID(),
		OwnerID:       req.OwnerID,
		ProductID:     product.ID,
		DomainName:    domain,
		CSR:           req.CSR,
		Status:        model.OrderPending,
		AmountCents:   product.PriceCents,
		Currency:      product.Currency,
		ApproverEmail: req.ApproverEmail,
	}
	if req.AutoRenew {
		interval := req.BillingInterval
		if interval == "" {
			interval = model.BillingYearly
		}
		agreement := req.BillingAgreementID
		o.AutoRenew = true
		o.BillingAgreementID = &agreement
		o.BillingInterval = interval
	}
	if err := in.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	log := in.logger.With().Str("order_id", o.ID).Str("domain", domain).Logger()

	payment, err := in.payments.Charge(ctx, square.ChargeRequest{
		AmountCents:    o.AmountCents,
		Currency:       o.Currency,
		SourceID:       req.PaymentToken,
		IdempotencyKey: o.ID,
		ReferenceID:    o.ID,
		Note:           "SSL certificate for " + domain,
	})
	switch {
	case errors.Is(err, faults.ErrSemanticRejection):
		log.Info().Err(err).Msg("payment declined")
		return in.failPayment(ctx, o)
	case err != nil:
		// The charge may still complete; the payment webhook finds the
		// order by its reference. If it never does, the reconciliation
		// sweep fails the order once it outlives the unpaid TTL.
		return nil, fmt.Errorf("charge order %s: %w", o.ID, err)
	case payment.Status == square.PaymentFailed || payment.Status == square.PaymentCanceled:
		return in.failPayment(ctx, o)
	case !payment.Completed():
		log.Info().Str("payment_status", payment.Status).Msg("payment approved, awaiting capture")
		return in.store.GetOrder(ctx, o.ID)
	}

	if _, err := in.store.AttachPayment(ctx, o.ID, payment.ID); err != nil {
		return nil, fmt.Errorf("attach payment to %s: %w", o.ID, err)
	}
	subscribeOrder(ctx, in.store, o, product, in.now(), log)
	if err := in.starter.StartSubmission(ctx, o.ID); err != nil {
		log.Warn().Err(err).Msg("start submission failed, the reconciliation sweep will submit it")
	}
	return in.store.GetOrder(ctx, o.ID)
}

// subscribeOrder creates the auto-renew subscription recorded on a paid
// order. Both the synchronous charge and the payment webhook call it, so an
// existing subscription for the order is left as it is.
func subscribeOrder(ctx context.Context, s store.Store, o *model.CertificateOrder, product *model.CertificateProduct, now time.Time, log zerolog.Logger) {
	if !o.AutoRenew || o.BillingAgreementID == nil || o.IsRenewal() {
		return
	}
	interval := o.BillingInterval
	if interval == "" {
		interval = model.BillingYearly
	}
	sub := &model.CertificateSubscription{
		ID:                 platform.NewID(),
		OwnerID:            o.OwnerID,
		CurrentOrderID:     o.ID,
		BillingAgreementID: *o.BillingAgreementID,
		Status:             model.SubscriptionActive,
		AutoRenew:          true,
		NextBillingAt:      now.AddDate(0, product.ValidityMonths, 0),
		BillingInterval:    interval,
	}
	err := s.CreateSubscription(ctx, sub)
	switch {
	case errors.Is(err, store.ErrDuplicateSubscription):
		log.Debug().Msg("order already has a subscription")
	case err != nil:
		log.Error().Err(err).Msg("create subscription failed")
	default:
		log.Info().Str("subscription_id", sub.ID).Msg("subscription created")
	}
}

func (in *Intake) failPayment(ctx context.Context, o *model.CertificateOrder) (*model.CertificateOrder, error) {
	if err := failPendingPayment(ctx, in.store, o); err != nil {
		return nil, err
	}
	return in.store.GetOrder(ctx, o.ID)
}

// Reissue requests a new certificate for an issued order against a new
// CSR. The order keeps its state.
func (in *Intake) Reissue(ctx context.Context, orderID, csr string) (*model.CertificateOrder, error) {
	o, err := in.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderIssued || o.ExternalOrderID == nil {
		return nil, fmt.Errorf("%w: only issued orders can be reissued", faults.ErrValidation)
	}
	if err := ValidateCSR(csr, o.DomainName); err != nil {
		return nil, err
	}
	if err := in.authority.Reissue(ctx, *o.ExternalOrderID, csr, o.ApproverEmail); err != nil {
		return nil, fmt.Errorf("reissue order %s: %w", o.ID, err)
	}
	res, err := in.store.RecordReissue(ctx, o.ID, csr)
	if err != nil {
		return nil, fmt.Errorf("record reissue of %s: %w", o.ID, err)
	}
	if res == store.NoChange {
		in.logger.Warn().Str("order_id", o.ID).Msg("order left issued while the reissue was requested")
	}
	return in.store.GetOrder(ctx, o.ID)
}

// failPendingPayment fails a pending order whose payment did not go
// through.
func failPendingPayment(ctx context.Context, s store.Store, o *model.CertificateOrder) error {
	reason := ReasonPaymentDeclined
	if o.IsRenewal() {
		reason = ReasonRenewalPayment
	}
	res, err := s.CompareAndTransition(ctx, store.Transition{
		OrderID: o.ID,
		From:    model.OrderPending,
		To:      model.OrderFailed,
		Fields:  store.Fields{FailureReason: &reason},
		Events:  []model.LifecycleEvent{failureEvent(o, model.OrderPending, true, reason)},
	})
	if err != nil {
		return fmt.Errorf("fail order %s: %w", o.ID, err)
	}
	if res == store.Transitioned {
		metrics.OrderTransitions.WithLabelValues(string(model.OrderPending), string(model.OrderFailed)).Inc()
	}
	return nil
}
