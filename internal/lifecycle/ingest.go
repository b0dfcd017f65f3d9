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
	"github.com/edvin/sslshop/internal/square"
	"github.com/edvin/sslshop/internal/store"
)

// WebhookConfig holds the shared secrets for inbound webhooks.
type WebhookConfig struct {
	SquareSignatureKey    string
	SquareNotificationURL string
	AuthoritySecret       string
}

// Webhooks verifies and applies inbound payment and authority events. A
// bad signature returns faults.ErrUnauthorized before the payload is read.
type Webhooks struct {
	store   store.Store
	starter WorkflowStarter
	cfg     WebhookConfig
	logger  zerolog.Logger
	now     func() time.Time
}

func NewWebhooks(s store.Store, starter WorkflowStarter, cfg WebhookConfig, logger zerolog.Logger) *Webhooks {
	return &Webhooks{
		store:   s,
		starter: starter,
		cfg:     cfg,
		logger:  logger.With().Str("component", "webhooks").Logger(),
		now:     time.Now,
	}
}

const (
	resultApplied = "applied"
	resultIgnored = "ignored"
	resultFailed  = "error"
)

// HandleSquare applies a payment provider event. Unknown event types are
// acknowledged and ignored.
func (w *Webhooks) HandleSquare(ctx context.Context, body []byte, signature string) error {
	if !square.VerifySignature(w.cfg.SquareSignatureKey, w.cfg.SquareNotificationURL, body, signature) {
		metrics.WebhookEvents.WithLabelValues("square", "unknown", "unauthorized").Inc()
		return fmt.Errorf("%w: invalid square signature", faults.ErrUnauthorized)
	}
	event, err := square.ParseEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	log := w.logger.With().Str("event_id", event.EventID).Str("type", event.Type).Logger()

	var result string
	switch event.Type {
	case square.EventPaymentUpdated:
		result, err = w.paymentUpdated(ctx, event, log)
	case square.EventSubscriptionUpdated:
		result, err = w.subscriptionUpdated(ctx, event, log)
	case square.EventInvoicePaymentMade:
		result, err = w.invoicePaid(ctx, event, log)
	default:
		result = resultIgnored
	}
	if err != nil {
		result = resultFailed
	}
	metrics.WebhookEvents.WithLabelValues("square", event.Type, result).Inc()
	return err
}

// HandleAuthority starts a reconcile of the order named in an authority
// callback.
func (w *Webhooks) HandleAuthority(ctx context.Context, body []byte, signature string) error {
	if !gogetssl.VerifySignature(w.cfg.AuthoritySecret, body, signature) {
		metrics.WebhookEvents.WithLabelValues("gogetssl", "status", "unauthorized").Inc()
		return fmt.Errorf("%w: invalid authority signature", faults.ErrUnauthorized)
	}
	n, err := gogetssl.ParseNotification(body)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	o, err := w.store.GetOrderByExternalID(ctx, string(n.OrderID))
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Info().Str("external_order_id", string(n.OrderID)).Msg("authority callback for unknown order")
		metrics.WebhookEvents.WithLabelValues("gogetssl", "status", resultIgnored).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("find order for external id %s: %w", n.OrderID, err)
	}
	if err := w.starter.StartReconcile(ctx, o.ID); err != nil {
		metrics.WebhookEvents.WithLabelValues("gogetssl", "status", resultFailed).Inc()
		return fmt.Errorf("start reconcile of %s: %w", o.ID, err)
	}
	metrics.WebhookEvents.WithLabelValues("gogetssl", "status", resultApplied).Inc()
	return nil
}

func (w *Webhooks) paymentUpdated(ctx context.Context, event square.Event, log zerolog.Logger) (string, error) {
	p, err := event.Payment()
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	o, err := w.orderForPayment(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("payment_id", p.ID).Msg("payment for unknown order")
		return resultIgnored, nil
	}
	if err != nil {
		return "", err
	}
	log = log.With().Str("order_id", o.ID).Str("payment_id", p.ID).Logger()
	if o.Status != model.OrderPending {
		if p.Status == square.PaymentCompleted && o.Status == model.OrderFailed && !o.PaymentCaptured() {
			log.Warn().Msg("payment captured for an order that already failed, refund required")
		}
		return resultIgnored, nil
	}

	switch p.Status {
	case square.PaymentCompleted:
		if !o.PaymentCaptured() {
			if _, err := w.store.AttachPayment(ctx, o.ID, p.ID); err != nil {
				return "", fmt.Errorf("attach payment to %s: %w", o.ID, err)
			}
		}
		if o.AutoRenew {
			product, err := w.store.GetProduct(ctx, o.ProductID)
			if err != nil {
				return "", fmt.Errorf("load product %s: %w", o.ProductID, err)
			}
			subscribeOrder(ctx, w.store, o, product, w.now(), log)
		}
		if err := w.starter.StartSubmission(ctx, o.ID); err != nil {
			return "", fmt.Errorf("start submission of %s: %w", o.ID, err)
		}
		log.Info().Msg("payment captured, submission started")
		return resultApplied, nil
	case square.PaymentFailed, square.PaymentCanceled:
		if o.PaymentID != nil && *o.PaymentID != p.ID {
			return resultIgnored, nil
		}
		if err := failPendingPayment(ctx, w.store, o); err != nil {
			return "", err
		}
		log.Info().Msg("payment failed")
		return resultApplied, nil
	default:
		return resultIgnored, nil
	}
}

// orderForPayment finds the order by its recorded payment, falling back to
// the reference ID set at charge time for payments not yet attached.
func (w *Webhooks) orderForPayment(ctx context.Context, p square.Payment) (*model.CertificateOrder, error) {
	o, err := w.store.GetOrderByPaymentID(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) && p.ReferenceID != "" {
		o, err = w.store.GetOrder(ctx, p.ReferenceID)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find order for payment %s: %w", p.ID, err)
	}
	return o, err
}

var providerSubscriptionStatus = map[string]model.SubscriptionStatus{
	square.SubscriptionActive:      model.SubscriptionActive,
	square.SubscriptionPaused:      model.SubscriptionPaused,
	square.SubscriptionCanceled:    model.SubscriptionCancelled,
	square.SubscriptionDeactivated: model.SubscriptionCancelled,
}

func (w *Webhooks) subscriptionUpdated(ctx context.Context, event square.Event, log zerolog.Logger) (string, error) {
	ps, err := event.Subscription()
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	target, ok := providerSubscriptionStatus[ps.Status]
	if !ok {
		return resultIgnored, nil
	}
	sub, err := w.store.GetSubscriptionByBillingAgreement(ctx, ps.ID)
	if errors.Is(err, store.ErrNotFound) {
		return resultIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("find subscription %s: %w", ps.ID, err)
	}
	if sub.Status == target {
		return resultIgnored, nil
	}
	if !model.CanTransitionSubscription(sub.Status, target) {
		log.Warn().Str("subscription_id", sub.ID).Str("from", string(sub.Status)).Str("to", string(target)).
			Msg("ignoring illegal subscription change")
		return resultIgnored, nil
	}
	res, err := w.store.TransitionSubscription(ctx, sub.ID, sub.Status, target)
	if err != nil {
		return "", fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if res == store.NoChange {
		return resultIgnored, nil
	}
	log.Info().Str("subscription_id", sub.ID).Str("status", string(target)).Msg("subscription updated")
	return resultApplied, nil
}

func (w *Webhooks) invoicePaid(ctx context.Context, event square.Event, log zerolog.Logger) (string, error) {
	inv, err := event.Invoice()
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	if inv.Status != square.InvoicePaid || inv.SubscriptionID == "" {
		return resultIgnored, nil
	}
	sub, err := w.store.GetSubscriptionByBillingAgreement(ctx, inv.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		return resultIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("find subscription %s: %w", inv.SubscriptionID, err)
	}
	if err := w.starter.StartInvoiceRenewal(ctx, sub.ID, inv.ID); err != nil {
		return "", fmt.Errorf("start invoice renewal for %s: %w", sub.ID, err)
	}
	log.Info().Str("subscription_id", sub.ID).Str("invoice_id", inv.ID).Msg("invoice paid, renewal started")
	return resultApplied, nil
}
