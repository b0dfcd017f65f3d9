package core

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

type NotificationService struct {
	store store.Store
}

func NewNotificationService(s store.Store) *NotificationService {
	return &NotificationService{store: s}
}

// ListByOwner returns the owner's in-app notifications, newest first.
func (s *NotificationService) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Notification, error) {
	notes, err := s.store.ListNotifications(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", ownerID, err)
	}
	return notes, nil
}
