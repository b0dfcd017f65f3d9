package core

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// OrderView is an order as shown to its owner. Failed orders carry the
// action the owner can take next.
type OrderView struct {
	model.CertificateOrder
	SupportAction string `json:"support_action,omitempty"`
}

func newOrderView(o *model.CertificateOrder) OrderView {
	v := OrderView{CertificateOrder: *o}
	if o.Status == model.OrderFailed {
		v.SupportAction = lifecycle.SupportAction
		if v.FailureReason == nil {
			reason := "The order could not be completed."
			v.FailureReason = &reason
		}
	}
	return v
}

type OrderService struct {
	store  store.Store
	intake *lifecycle.Intake
}

func NewOrderService(s store.Store, intake *lifecycle.Intake) *OrderService {
	return &OrderService{store: s, intake: intake}
}

func (s *OrderService) GetByID(ctx context.Context, id string) (*OrderView, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	v := newOrderView(o)
	return &v, nil
}

func (s *OrderService) ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]OrderView, bool, error) {
	orders, hasMore, err := s.store.ListOrdersByOwner(ctx, ownerID, limit, cursor)
	if err != nil {
		return nil, false, fmt.Errorf("list orders of %s: %w", ownerID, err)
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i]))
	}
	return views, hasMore, nil
}

// Place creates and charges a new order.
func (s *OrderService) Place(ctx context.Context, req lifecycle.PlaceOrderRequest) (*OrderView, error) {
	o, err := s.intake.Place(ctx, req)
	if err != nil {
		return nil, err
	}
	v := newOrderView(o)
	return &v, nil
}

func (s *OrderService) Reissue(ctx context.Context, id, csr string) (*OrderView, error) {
	o, err := s.intake.Reissue(ctx, id, csr)
	if err != nil {
		return nil, err
	}
	v := newOrderView(o)
	return &v, nil
}

// Events returns the lifecycle history of an order, oldest first.
func (s *OrderService) Events(ctx context.Context, id string) ([]model.LifecycleEvent, error) {
	if _, err := s.store.GetOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	events, err := s.store.ListEventsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", id, err)
	}
	return events, nil
}
