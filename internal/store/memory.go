package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/edvin/sslshop/internal/model"
)

// Memory is an in-process Store used by tests and single-process tooling.
// A single mutex guards all state, so each operation is atomic.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	orders        map[string]*model.CertificateOrder
	products      map[string]*model.CertificateProduct
	subscriptions map[string]*model.CertificateSubscription
	events        []*memoryEvent
	notifications []model.Notification
}

type memoryEvent struct {
	model.LifecycleEvent
	lockedUntil time.Time
}

// NewMemory returns an empty in-memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		orders:        make(map[string]*model.CertificateOrder),
		products:      make(map[string]*model.CertificateProduct),
		subscriptions: make(map[string]*model.CertificateSubscription),
	}
}

// SetClock replaces the clock used for timestamps and horizons.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutProduct seeds catalog data.
func (m *Memory) PutProduct(p model.CertificateProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

// PutOrder stores an order as-is, bypassing creation rules. It seeds
// orders in states other than pending.
func (m *Memory) PutOrder(o model.CertificateOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = &o
}

func (m *Memory) CreateOrder(_ context.Context, o *model.CertificateOrder) error {
	if o.Status != model.OrderPending {
		return fmt.Errorf("%w: orders are created at pending, got %s", ErrIllegalTransition, o.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return ErrDuplicateOrder
	}
	for _, existing := range m.orders {
		if existing.OwnerID == o.OwnerID && existing.DomainName == o.DomainName && existing.Status.Open() {
			return ErrDuplicateOrder
		}
		if o.RenewalKey != nil && existing.RenewalKey != nil && *existing.RenewalKey == *o.RenewalKey {
			return ErrDuplicateOrder
		}
	}
	now := m.now()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	m.orders[o.ID] = &stored
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*model.CertificateOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) findOrder(match func(o *model.CertificateOrder) bool) (*model.CertificateOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *model.CertificateOrder
	for _, o := range m.orders {
		if match(o) && (found == nil || o.CreatedAt.After(found.CreatedAt)) {
			found = o
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *Memory) GetOrderByExternalID(_ context.Context, externalID string) (*model.CertificateOrder, error) {
	return m.findOrder(func(o *model.CertificateOrder) bool {
		return o.ExternalOrderID != nil && *o.ExternalOrderID == externalID
	})
}

func (m *Memory) GetOrderByPaymentID(_ context.Context, paymentID string) (*model.CertificateOrder, error) {
	return m.findOrder(func(o *model.CertificateOrder) bool {
		return o.PaymentID != nil && *o.PaymentID == paymentID
	})
}

func (m *Memory) ListOrdersByOwner(_ context.Context, ownerID string, limit int, cursor string) ([]model.CertificateOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []model.CertificateOrder
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			owned = append(owned, *o)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if cursor != "" {
		for i, o := range owned {
			if o.ID == cursor {
				owned = owned[i+1:]
				break
			}
		}
	}
	hasMore := len(owned) > limit
	if hasMore {
		owned = owned[:limit]
	}
	return owned, hasMore, nil
}

func (m *Memory) CompareAndTransition(_ context.Context, t Transition) (TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return NoChange, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[t.OrderID]
	if !ok {
		return NoChange, ErrNotFound
	}
	if o.Status != t.From {
		return NoChange, nil
	}
	if t.FromAuthorityStatus != nil && o.AuthorityStatus != *t.FromAuthorityStatus {
		return NoChange, nil
	}
	if t.RequireUnpaid && o.PaymentID != nil {
		return NoChange, nil
	}

	f := t.Fields
	if f.ExternalOrderID != nil {
		o.ExternalOrderID = ptr(*f.ExternalOrderID)
	}
	if f.AuthorityStatus != nil {
		o.AuthorityStatus = *f.AuthorityStatus
	}
	if f.PaymentID != nil {
		o.PaymentID = ptr(*f.PaymentID)
	}
	if f.Certificate != nil {
		o.Certificate = ptr(*f.Certificate)
	}
	if f.CABundle != nil {
		o.CABundle = ptr(*f.CABundle)
	}
	if f.ExpiresAt != nil {
		o.ExpiresAt = ptr(*f.ExpiresAt)
	}
	if f.FailureReason != nil {
		o.FailureReason = ptr(*f.FailureReason)
	}
	if t.From == model.OrderIssued && t.To != model.OrderIssued {
		o.ExpiredAt = o.ExpiresAt
		o.ExpiresAt = nil
		o.Certificate = nil
		o.CABundle = nil
	}
	o.Status = t.To
	o.UpdatedAt = m.now()

	if t.RestoreSubscriptionTo != nil {
		for _, s := range m.subscriptions {
			if s.CurrentOrderID == t.OrderID {
				s.CurrentOrderID = *t.RestoreSubscriptionTo
				s.UpdatedAt = o.UpdatedAt
			}
		}
	}
	for _, e := range t.Events {
		m.insertEventLocked(e)
	}
	return Transitioned, nil
}

func (m *Memory) AttachPayment(_ context.Context, orderID, paymentID string) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return NoChange, ErrNotFound
	}
	if o.Status != model.OrderPending || o.PaymentID != nil {
		return NoChange, nil
	}
	o.PaymentID = ptr(paymentID)
	o.UpdatedAt = m.now()
	return Transitioned, nil
}

func (m *Memory) RecordReissue(_ context.Context, orderID, csr string) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return NoChange, ErrNotFound
	}
	if o.Status != model.OrderIssued {
		return NoChange, nil
	}
	now := m.now()
	o.CSR = csr
	o.ReissueRequestedAt = &now
	o.UpdatedAt = now
	return Transitioned, nil
}

func (m *Memory) selectOrders(match func(o *model.CertificateOrder) bool, less func(a, b *model.CertificateOrder) bool) []model.CertificateOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CertificateOrder
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if less(&out[i], &out[j]) {
			return true
		}
		if less(&out[j], &out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func byUpdated(a, b *model.CertificateOrder) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
func byExpiry(a, b *model.CertificateOrder) bool  { return a.ExpiresAt.Before(*b.ExpiresAt) }

func (m *Memory) FindInFlight(_ context.Context) ([]model.CertificateOrder, error) {
	return m.selectOrders(func(o *model.CertificateOrder) bool {
		return o.Status == model.OrderProcessing
	}, byUpdated), nil
}

func (m *Memory) FindSubmittable(_ context.Context, updatedBefore time.Time) ([]model.CertificateOrder, error) {
	return m.selectOrders(func(o *model.CertificateOrder) bool {
		return o.Status == model.OrderPending && o.PaymentID != nil && o.UpdatedAt.Before(updatedBefore)
	}, byUpdated), nil
}

func (m *Memory) FindUnpaid(_ context.Context, createdBefore time.Time) ([]model.CertificateOrder, error) {
	return m.selectOrders(func(o *model.CertificateOrder) bool {
		return o.Status == model.OrderPending && o.PaymentID == nil && o.CreatedAt.Before(createdBefore)
	}, byUpdated), nil
}

func (m *Memory) FindExpired(_ context.Context, now time.Time) ([]model.CertificateOrder, error) {
	return m.selectOrders(func(o *model.CertificateOrder) bool {
		return o.Status == model.OrderIssued && o.ExpiresAt != nil && o.ExpiresAt.Before(now)
	}, byExpiry), nil
}

func (m *Memory) FindExpiringBetween(_ context.Context, from, to time.Time) ([]model.CertificateOrder, error) {
	return m.selectOrders(func(o *model.CertificateOrder) bool {
		return o.Status == model.OrderIssued && o.ExpiresAt != nil &&
			!o.ExpiresAt.Before(from) && o.ExpiresAt.Before(to)
	}, byExpiry), nil
}

func (m *Memory) FindExpiringWithAutoRenew(ctx context.Context, withinDays int) ([]model.RenewalCandidate, error) {
	m.mu.Lock()
	horizon := m.now().AddDate(0, 0, withinDays)
	m.mu.Unlock()

	orders, _ := m.FindExpiringBetween(ctx, time.Time{}, horizon.Add(time.Nanosecond))

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RenewalCandidate
	for _, o := range orders {
		for _, s := range m.subscriptions {
			if s.CurrentOrderID == o.ID && s.Status == model.SubscriptionActive && s.AutoRenew {
				out = append(out, model.RenewalCandidate{Order: o, Subscription: *s})
			}
		}
	}
	return out, nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*model.CertificateProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) CreateSubscription(_ context.Context, s *model.CertificateSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subscriptions {
		if existing.ID == s.ID || existing.CurrentOrderID == s.CurrentOrderID || existing.BillingAgreementID == s.BillingAgreementID {
			return ErrDuplicateSubscription
		}
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	stored := *s
	m.subscriptions[s.ID] = &stored
	return nil
}

func (m *Memory) findSubscription(match func(s *model.CertificateSubscription) bool) (*model.CertificateSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetSubscription(_ context.Context, id string) (*model.CertificateSubscription, error) {
	return m.findSubscription(func(s *model.CertificateSubscription) bool { return s.ID == id })
}

func (m *Memory) GetSubscriptionByBillingAgreement(_ context.Context, billingAgreementID string) (*model.CertificateSubscription, error) {
	return m.findSubscription(func(s *model.CertificateSubscription) bool { return s.BillingAgreementID == billingAgreementID })
}

func (m *Memory) GetSubscriptionByOrder(_ context.Context, orderID string) (*model.CertificateSubscription, error) {
	return m.findSubscription(func(s *model.CertificateSubscription) bool { return s.CurrentOrderID == orderID })
}

func (m *Memory) TransitionSubscription(_ context.Context, id string, from, to model.SubscriptionStatus) (TransitionResult, error) {
	if !model.CanTransitionSubscription(from, to) {
		return NoChange, fmt.Errorf("%w: subscription %s -> %s", ErrIllegalTransition, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return NoChange, ErrNotFound
	}
	if s.Status != from {
		return NoChange, nil
	}
	s.Status = to
	s.UpdatedAt = m.now()
	return Transitioned, nil
}

func (m *Memory) CompleteRenewal(_ context.Context, c RenewalCommit) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[c.OrderID]
	if !ok {
		return NoChange, ErrNotFound
	}
	if o.Status != model.OrderPending {
		return NoChange, nil
	}
	s, ok := m.subscriptions[c.SubscriptionID]
	if !ok || s.CurrentOrderID != c.PreviousOrderID || s.Status == model.SubscriptionCancelled {
		return NoChange, ErrSubscriptionMoved
	}

	now := m.now()
	o.Status = model.OrderProcessing
	o.ExternalOrderID = ptr(c.ExternalOrderID)
	o.AuthorityStatus = c.AuthorityStatus
	o.UpdatedAt = now
	s.CurrentOrderID = c.OrderID
	s.NextBillingAt = c.NextBillingAt
	s.UpdatedAt = now
	for _, e := range c.Events {
		m.insertEventLocked(e)
	}
	return Transitioned, nil
}

func (m *Memory) insertEventLocked(e model.LifecycleEvent) bool {
	if e.DedupeKey != nil {
		for _, existing := range m.events {
			if existing.DedupeKey != nil && *existing.DedupeKey == *e.DedupeKey {
				return false
			}
		}
	}
	now := m.now()
	e.CreatedAt = now
	e.NextAttemptAt = now
	m.events = append(m.events, &memoryEvent{LifecycleEvent: e})
	return true
}

func (m *Memory) RecordEvent(_ context.Context, e model.LifecycleEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEventLocked(e), nil
}

func (m *Memory) ListEventsByOrder(_ context.Context, orderID string) ([]model.LifecycleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LifecycleEvent
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e.LifecycleEvent)
		}
	}
	return out, nil
}

// Events returns every recorded event in insertion order.
func (m *Memory) Events() []model.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LifecycleEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.LifecycleEvent)
	}
	return out
}

func (m *Memory) ClaimEvents(_ context.Context, limit int, lease time.Duration) ([]model.LifecycleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []model.LifecycleEvent
	for _, e := range m.events {
		if len(out) >= limit {
			break
		}
		if e.Kind == "" || e.DeliveredAt != nil || e.DeadAt != nil || e.NextAttemptAt.After(now) || e.lockedUntil.After(now) {
			continue
		}
		e.Attempts++
		e.lockedUntil = now.Add(lease)
		claimed := e.LifecycleEvent
		claimed.DeliveredChannels = slices.Clone(e.DeliveredChannels)
		out = append(out, claimed)
	}
	return out, nil
}

func (m *Memory) updateEvent(id string, fn func(e *memoryEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			fn(e)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) MarkEventDelivered(_ context.Context, id string) error {
	return m.updateEvent(id, func(e *memoryEvent) {
		now := m.now()
		e.DeliveredAt = &now
		e.LastError = nil
		e.lockedUntil = time.Time{}
	})
}

func (m *Memory) MarkChannelDelivered(_ context.Context, id, channel string) error {
	return m.updateEvent(id, func(e *memoryEvent) {
		if !slices.Contains(e.DeliveredChannels, channel) {
			e.DeliveredChannels = append(e.DeliveredChannels, channel)
		}
	})
}

func (m *Memory) RescheduleEvent(_ context.Context, id, lastError string, at time.Time) error {
	return m.updateEvent(id, func(e *memoryEvent) {
		e.NextAttemptAt = at
		e.LastError = ptr(lastError)
		e.lockedUntil = time.Time{}
	})
}

func (m *Memory) DeadLetterEvent(_ context.Context, id, lastError string) error {
	return m.updateEvent(id, func(e *memoryEvent) {
		now := m.now()
		e.DeadAt = &now
		e.LastError = ptr(lastError)
		e.lockedUntil = time.Time{}
	})
}

func (m *Memory) InsertNotification(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.EventID == n.EventID {
			return nil
		}
	}
	n.CreatedAt = m.now()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, ownerID string, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].OwnerID == ownerID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }
