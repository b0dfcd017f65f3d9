package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// Subscriptions pauses, resumes and cancels auto-renew subscriptions. The
// provider is told first; the local status then moves by compare-and-set.
type Subscriptions struct {
	store    store.Store
	payments Payments
	logger   zerolog.Logger
}

func NewSubscriptions(s store.Store, payments Payments, logger zerolog.Logger) *Subscriptions {
	return &Subscriptions{
		store:    s,
		payments: payments,
		logger:   logger.With().Str("component", "subscriptions").Logger(),
	}
}

func (s *Subscriptions) Pause(ctx context.Context, id string) (*model.CertificateSubscription, error) {
	return s.change(ctx, id, model.SubscriptionPaused, s.payments.PauseSubscription)
}

func (s *Subscriptions) Resume(ctx context.Context, id string) (*model.CertificateSubscription, error) {
	return s.change(ctx, id, model.SubscriptionActive, s.payments.ResumeSubscription)
}

func (s *Subscriptions) Cancel(ctx context.Context, id string) (*model.CertificateSubscription, error) {
	return s.change(ctx, id, model.SubscriptionCancelled, s.payments.CancelSubscription)
}

func (s *Subscriptions) change(ctx context.Context, id string, to model.SubscriptionStatus, provider func(context.Context, string) error) (*model.CertificateSubscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == to {
		return sub, nil
	}
	if !model.CanTransitionSubscription(sub.Status, to) {
		return nil, fmt.Errorf("%w: a %s subscription cannot become %s", faults.ErrValidation, sub.Status, to)
	}
	if err := provider(ctx, sub.BillingAgreementID); err != nil {
		return nil, fmt.Errorf("update subscription %s with provider: %w", sub.ID, err)
	}
	res, err := s.store.TransitionSubscription(ctx, sub.ID, sub.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if res == store.NoChange {
		s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription changed concurrently")
	}
	return s.store.GetSubscription(ctx, sub.ID)
}
