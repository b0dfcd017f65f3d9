package core

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// Subscription actions accepted by Apply.
const (
	SubscriptionPause  = "pause"
	SubscriptionResume = "resume"
	SubscriptionCancel = "cancel"
)

type SubscriptionService struct {
	store store.Store
	subs  *lifecycle.Subscriptions
}

func NewSubscriptionService(s store.Store, subs *lifecycle.Subscriptions) *SubscriptionService {
	return &SubscriptionService{store: s, subs: subs}
}

func (s *SubscriptionService) GetByID(ctx context.Context, id string) (*model.CertificateSubscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

// Apply runs one of the subscription actions.
func (s *SubscriptionService) Apply(ctx context.Context, id, action string) (*model.CertificateSubscription, error) {
	switch action {
	case SubscriptionPause:
		return s.subs.Pause(ctx, id)
	case SubscriptionResume:
		return s.subs.Resume(ctx, id)
	case SubscriptionCancel:
		return s.subs.Cancel(ctx, id)
	default:
		return nil, fmt.Errorf("unknown subscription action %q", action)
	}
}
