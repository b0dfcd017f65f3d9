package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/platform"
	"github.com/edvin/sslshop/internal/store"
)

// RenewalResult is the outcome of renewing one order.
type RenewalResult string

const (
	RenewalSubmitted     RenewalResult = "submitted"
	RenewalInProgress    RenewalResult = "in_progress"
	RenewalPaymentFailed RenewalResult = "payment_failed"
	RenewalRejected      RenewalResult = "rejected"
	// RenewalPending means the order is paid but the authority could not be
	// reached. The reconciliation sweep submits it later.
	RenewalPending RenewalResult = "pending"
	RenewalSkipped RenewalResult = "skipped"
)

// RenewalReport summarizes one renewal run.
type RenewalReport struct {
	Candidates int                   `json:"candidates"`
	Results    map[RenewalResult]int `json:"results"`
	Errors     int                   `json:"errors"`
}

// Renewer creates successor orders for issued certificates with an active
// auto-renew subscription. Failures are not retried in-process; the next
// scheduled run picks the original order up again while it is inside the
// lookahead window.
type Renewer struct {
	store         store.Store
	payments      Payments
	submitter     *Submitter
	lookaheadDays int
	logger        zerolog.Logger
	now           func() time.Time
}

func NewRenewer(s store.Store, payments Payments, submitter *Submitter, lookaheadDays int, logger zerolog.Logger) *Renewer {
	if lookaheadDays <= 0 {
		lookaheadDays = 30
	}
	return &Renewer{
		store:         s,
		payments:      payments,
		submitter:     submitter,
		lookaheadDays: lookaheadDays,
		logger:        logger.With().Str("component", "renewer").Logger(),
		now:           time.Now,
	}
}

// WindowKey is the idempotency key of renewing orderID in the run of day
// runAt. At most one renewal order exists per key.
func WindowKey(orderID string, runAt time.Time) string {
	return orderID + ":" + runAt.UTC().Format(time.DateOnly)
}

// Candidates lists the orders to renew, soonest expiry first.
func (r *Renewer) Candidates(ctx context.Context) ([]model.RenewalCandidate, error) {
	candidates, err := r.store.FindExpiringWithAutoRenew(ctx, r.lookaheadDays)
	if err != nil {
		return nil, fmt.Errorf("find renewal candidates: %w", err)
	}
	return candidates, nil
}

// Sweep renews every candidate in turn, isolating failures.
func (r *Renewer) Sweep(ctx context.Context) (RenewalReport, error) {
	report := RenewalReport{Results: map[RenewalResult]int{}}
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)
	runAt := r.now()
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.Renew(ctx, c.Order.ID, WindowKey(c.Order.ID, runAt))
		if err != nil {
			report.Errors++
			r.logger.Warn().Err(err).Str("order_id", c.Order.ID).Msg("renewal failed")
			continue
		}
		report.Results[res]++
	}
	return report, nil
}

// Renew creates the successor of originalOrderID, charges the subscription
// and submits the new order. The subscription is only repointed once the
// authority accepts the order.
func (r *Renewer) Renew(ctx context.Context, originalOrderID, windowKey string) (RenewalResult, error) {
	orig, err := r.store.GetOrder(ctx, originalOrderID)
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", originalOrderID, err)
	}
	log := r.logger.With().Str("order_id", orig.ID).Str("domain", orig.DomainName).Logger()

	sub, err := r.store.GetSubscriptionByOrder(ctx, orig.ID)
	if errors.Is(err, store.ErrNotFound) {
		return r.result(RenewalSkipped), nil
	}
	if err != nil {
		return "", fmt.Errorf("load subscription of %s: %w", orig.ID, err)
	}
	if orig.Status != model.OrderIssued || sub.Status != model.SubscriptionActive || !sub.AutoRenew {
		log.Debug().Str("status", string(orig.Status)).Str("subscription_status", string(sub.Status)).Msg("order is not eligible for renewal")
		return r.result(RenewalSkipped), nil
	}

	product, err := r.store.GetProduct(ctx, orig.ProductID)
	if err != nil {
		return "", fmt.Errorf("load product %s: %w", orig.ProductID, err)
	}

	renewal := successor(orig, product, windowKey)
	if err := r.store.CreateOrder(ctx, renewal); err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) {
			log.Info().Str("window", windowKey).Msg("renewal already in progress")
			return r.result(RenewalInProgress), nil
		}
		return "", fmt.Errorf("create renewal of %s: %w", orig.ID, err)
	}
	log = log.With().Str("renewal_order_id", renewal.ID).Logger()

	payment, err := r.payments.ChargeSubscription(ctx, sub.BillingAgreementID, renewal.AmountCents, renewal.Currency, windowKey)
	if err == nil && !payment.Completed() {
		err = fmt.Errorf("renewal payment %s is %s", payment.ID, payment.Status)
	}
	if err != nil {
		log.Warn().Err(err).Msg("renewal charge failed")
		if ferr := failPendingPayment(ctx, r.store, renewal); ferr != nil {
			return "", ferr
		}
		return r.result(RenewalPaymentFailed), nil
	}

	if _, err := r.store.AttachPayment(ctx, renewal.ID, payment.ID); err != nil {
		return "", fmt.Errorf("attach payment to %s: %w", renewal.ID, err)
	}
	return r.submit(ctx, renewal.ID, log)
}

// RenewFromInvoice renews the subscription's current order using a paid
// invoice instead of a new charge. The invoice ID is the idempotency key.
func (r *Renewer) RenewFromInvoice(ctx context.Context, subscriptionID, invoiceID string) (RenewalResult, error) {
	sub, err := r.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	orig, err := r.store.GetOrder(ctx, sub.CurrentOrderID)
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", sub.CurrentOrderID, err)
	}
	log := r.logger.With().Str("order_id", orig.ID).Str("invoice_id", invoiceID).Logger()
	if sub.Status == model.SubscriptionCancelled || orig.Status.Open() {
		log.Info().Msg("subscription is cancelled or its order is still open, ignoring invoice")
		return r.result(RenewalSkipped), nil
	}

	product, err := r.store.GetProduct(ctx, orig.ProductID)
	if err != nil {
		return "", fmt.Errorf("load product %s: %w", orig.ProductID, err)
	}
	renewal := successor(orig, product, "invoice:"+invoiceID)
	renewal.PaymentID = &invoiceID
	if err := r.store.CreateOrder(ctx, renewal); err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) {
			return r.result(RenewalInProgress), nil
		}
		return "", fmt.Errorf("create renewal of %s: %w", orig.ID, err)
	}
	return r.submit(ctx, renewal.ID, log.With().Str("renewal_order_id", renewal.ID).Logger())
}

func (r *Renewer) submit(ctx context.Context, orderID string, log zerolog.Logger) (RenewalResult, error) {
	outcome, err := r.submitter.Submit(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Msg("renewal submission failed, order left pending")
		return r.result(RenewalPending), nil
	}
	switch outcome {
	case SubmitSubmitted:
		return RenewalSubmitted, nil
	case SubmitRejected:
		return RenewalRejected, nil
	default:
		return r.result(RenewalPending), nil
	}
}

func (r *Renewer) result(res RenewalResult) RenewalResult {
	metrics.RenewalResults.WithLabelValues(string(res)).Inc()
	return res
}

func successor(orig *model.CertificateOrder, product *model.CertificateProduct, key string) *model.CertificateOrder {
	origID := orig.ID
	return &model.CertificateOrder{
		ID:               platform.NewID(),
		OwnerID:          orig.OwnerID,
		ProductID:        orig.ProductID,
		DomainName:       orig.DomainName,
		CSR:              orig.CSR,
		Status:           model.OrderPending,
		AmountCents:      product.PriceCents,
		Currency:         product.Currency,
		ApproverEmail:    orig.ApproverEmail,
		RenewalOfOrderID: &origID,
		RenewalKey:       &key,
	}
}
