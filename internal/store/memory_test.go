package store

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/model"
)

func newOrder(id, owner, domain string) *model.CertificateOrder {
	return &model.CertificateOrder{
		ID:            id,
		OwnerID:       owner,
		ProductID:     "prod-1",
		DomainName:    domain,
		CSR:           "csr",
		Status:        model.OrderPending,
		AmountCents:   4900,
		Currency:      "USD",
		ApproverEmail: "admin@" + domain,
	}
}

func TestMemory_CreateOrder_RejectsSecondOpenOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateOrder(ctx, newOrder("o1", "owner", "example.com")))
	err := m.CreateOrder(ctx, newOrder("o2", "owner", "example.com"))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	// A different owner may order the same domain.
	require.NoError(t, m.CreateOrder(ctx, newOrder("o3", "other", "example.com")))
}

func TestMemory_CreateOrder_AllowsHistoricalOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateOrder(ctx, newOrder("o1", "owner", "example.com")))
	res, err := m.CompareAndTransition(ctx, Transition{
		OrderID: "o1", From: model.OrderPending, To: model.OrderFailed,
		Fields: Fields{FailureReason: ptr("declined")},
	})
	require.NoError(t, err)
	require.Equal(t, Transitioned, res)

	assert.NoError(t, m.CreateOrder(ctx, newOrder("o2", "owner", "example.com")))
}

func TestMemory_CreateOrder_RenewalKeyUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "orig", OwnerID: "owner", DomainName: "example.com", Status: model.OrderIssued})

	a := newOrder("r1", "owner", "a.example.com")
	a.RenewalKey = ptr("orig:2026-10-14")
	b := newOrder("r2", "owner", "b.example.com")
	b.RenewalKey = ptr("orig:2026-10-14")

	require.NoError(t, m.CreateOrder(ctx, a))
	assert.ErrorIs(t, m.CreateOrder(ctx, b), ErrDuplicateOrder)
}

func TestMemory_CreateOrder_MustBePending(t *testing.T) {
	o := newOrder("o1", "owner", "example.com")
	o.Status = model.OrderProcessing
	assert.ErrorIs(t, NewMemory().CreateOrder(context.Background(), o), ErrIllegalTransition)
}

func TestMemory_CompareAndTransition_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "o1", OwnerID: "owner", Status: model.OrderProcessing, ExternalOrderID: ptr("123")})

	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const writers = 16
	results := make([]TransitionResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.CompareAndTransition(ctx, Transition{
				OrderID: "o1", From: model.OrderProcessing, To: model.OrderIssued,
				Fields: Fields{ExpiresAt: &expires, Certificate: ptr("cert"), CABundle: ptr("bundle")},
				Events: []model.LifecycleEvent{{ID: "e" + string(rune('a'+i)), OrderID: "o1", Kind: model.KindCertificateIssued}},
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	won := 0
	for _, r := range results {
		if r == Transitioned {
			won++
		}
	}
	assert.Equal(t, 1, won)
	assert.Len(t, m.Events(), 1)
}

func TestMemory_CompareAndTransition_AuthorityStatusGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "o1", Status: model.OrderProcessing, AuthorityStatus: "processing", ExternalOrderID: ptr("1")})

	tr := Transition{
		OrderID: "o1", From: model.OrderProcessing, To: model.OrderProcessing,
		FromAuthorityStatus: ptr("processing"),
		Fields:              Fields{AuthorityStatus: ptr("domain_validation_required")},
	}
	res, err := m.CompareAndTransition(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, Transitioned, res)

	res, err = m.CompareAndTransition(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, NoChange, res)

	o, err := m.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "domain_validation_required", o.AuthorityStatus)
}

func TestMemory_CompareAndTransition_NotFound(t *testing.T) {
	_, err := NewMemory().CompareAndTransition(context.Background(), Transition{
		OrderID: "missing", From: model.OrderPending, To: model.OrderFailed,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CompareAndTransition_ExpiryClearsMaterial(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	expires := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m.PutOrder(model.CertificateOrder{
		ID: "o1", Status: model.OrderIssued, ExternalOrderID: ptr("1"),
		ExpiresAt: &expires, Certificate: ptr("cert"), CABundle: ptr("bundle"),
	})

	res, err := m.CompareAndTransition(ctx, Transition{OrderID: "o1", From: model.OrderIssued, To: model.OrderExpired})
	require.NoError(t, err)
	require.Equal(t, Transitioned, res)

	o, _ := m.GetOrder(ctx, "o1")
	assert.Nil(t, o.ExpiresAt)
	assert.Nil(t, o.Certificate)
	assert.Nil(t, o.CABundle)
	require.NotNil(t, o.ExpiredAt)
	assert.Equal(t, expires, *o.ExpiredAt)
}

// Random transition sequences never break the expiry invariant or leave a
// terminal state.
func TestMemory_RandomTransitionSequences_HoldInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	states := []model.OrderStatus{model.OrderPending, model.OrderProcessing, model.OrderIssued, model.OrderFailed, model.OrderExpired}
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for run := 0; run < 200; run++ {
		m := NewMemory()
		require.NoError(t, m.CreateOrder(ctx, newOrder("o", "owner", "example.com")))

		for step := 0; step < 12; step++ {
			cur, _ := m.GetOrder(ctx, "o")
			from := states[rng.Intn(len(states))]
			to := states[rng.Intn(len(states))]
			tr := Transition{OrderID: "o", From: from, To: to}
			if to == model.OrderIssued {
				tr.Fields.ExpiresAt = &expires
				tr.Fields.Certificate = ptr("cert")
			}
			if from == model.OrderPending && to == model.OrderProcessing {
				tr.Fields.ExternalOrderID = ptr("ext")
			}
			if from == to {
				tr.FromAuthorityStatus = ptr(cur.AuthorityStatus)
				tr.Fields.AuthorityStatus = ptr("processing")
			}

			res, err := m.CompareAndTransition(ctx, tr)
			after, _ := m.GetOrder(ctx, "o")

			if err != nil || res == NoChange {
				assert.Equal(t, cur.Status, after.Status)
			} else {
				assert.True(t, model.CanTransition(cur.Status, after.Status) || cur.Status == after.Status)
			}
			assert.Equal(t, after.Status == model.OrderIssued, after.ExpiresAt != nil, "run %d step %d: %s", run, step, after.Status)
			if cur.Status == model.OrderFailed || cur.Status == model.OrderExpired {
				assert.Equal(t, cur.Status, after.Status)
			}
			if cur.Status != model.OrderPending {
				assert.NotEqual(t, model.OrderPending, after.Status)
			}
		}
	}
}

func TestMemory_FindExpiringWithAutoRenew_SoonestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	in10 := now.AddDate(0, 0, 10)
	in25 := now.AddDate(0, 0, 25)
	in60 := now.AddDate(0, 0, 60)
	m.PutOrder(model.CertificateOrder{ID: "late", Status: model.OrderIssued, ExpiresAt: &in25})
	m.PutOrder(model.CertificateOrder{ID: "soon", Status: model.OrderIssued, ExpiresAt: &in10})
	m.PutOrder(model.CertificateOrder{ID: "far", Status: model.OrderIssued, ExpiresAt: &in60})
	m.PutOrder(model.CertificateOrder{ID: "paused", Status: model.OrderIssued, ExpiresAt: &in10})
	m.PutOrder(model.CertificateOrder{ID: "manual", Status: model.OrderIssued, ExpiresAt: &in10})

	for _, s := range []model.CertificateSubscription{
		{ID: "s1", CurrentOrderID: "late", BillingAgreementID: "b1", Status: model.SubscriptionActive, AutoRenew: true},
		{ID: "s2", CurrentOrderID: "soon", BillingAgreementID: "b2", Status: model.SubscriptionActive, AutoRenew: true},
		{ID: "s3", CurrentOrderID: "far", BillingAgreementID: "b3", Status: model.SubscriptionActive, AutoRenew: true},
		{ID: "s4", CurrentOrderID: "paused", BillingAgreementID: "b4", Status: model.SubscriptionPaused, AutoRenew: true},
		{ID: "s5", CurrentOrderID: "manual", BillingAgreementID: "b5", Status: model.SubscriptionActive, AutoRenew: false},
	} {
		s := s
		require.NoError(t, m.CreateSubscription(ctx, &s))
	}

	got, err := m.FindExpiringWithAutoRenew(ctx, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "soon", got[0].Order.ID)
	assert.Equal(t, "late", got[1].Order.ID)
	assert.Equal(t, "s2", got[0].Subscription.ID)
}

func TestMemory_CompleteRenewal_SubscriptionMovedRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "orig", Status: model.OrderIssued})
	m.PutOrder(model.CertificateOrder{ID: "other", Status: model.OrderIssued})
	require.NoError(t, m.CreateOrder(ctx, newOrder("new", "owner", "example.com")))
	require.NoError(t, m.CreateSubscription(ctx, &model.CertificateSubscription{
		ID: "sub", CurrentOrderID: "other", BillingAgreementID: "b", Status: model.SubscriptionActive,
	}))

	res, err := m.CompleteRenewal(ctx, RenewalCommit{
		OrderID: "new", ExternalOrderID: "999", SubscriptionID: "sub", PreviousOrderID: "orig",
		NextBillingAt: time.Now().AddDate(1, 0, 0),
		Events:        []model.LifecycleEvent{{ID: "e1", OrderID: "new", Kind: model.KindRenewalSucceeded}},
	})
	assert.ErrorIs(t, err, ErrSubscriptionMoved)
	assert.Equal(t, NoChange, res)

	o, _ := m.GetOrder(ctx, "new")
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Empty(t, m.Events())
}

func TestMemory_CompleteRenewal_RelinksAndAdvancesBilling(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "orig", Status: model.OrderIssued})
	require.NoError(t, m.CreateOrder(ctx, newOrder("new", "owner", "example.com")))
	require.NoError(t, m.CreateSubscription(ctx, &model.CertificateSubscription{
		ID: "sub", CurrentOrderID: "orig", BillingAgreementID: "b", Status: model.SubscriptionActive,
	}))
	next := time.Date(2027, 10, 14, 0, 0, 0, 0, time.UTC)

	res, err := m.CompleteRenewal(ctx, RenewalCommit{
		OrderID: "new", ExternalOrderID: "999", SubscriptionID: "sub", PreviousOrderID: "orig", NextBillingAt: next,
	})
	require.NoError(t, err)
	assert.Equal(t, Transitioned, res)

	s, _ := m.GetSubscription(ctx, "sub")
	assert.Equal(t, "new", s.CurrentOrderID)
	assert.Equal(t, next, s.NextBillingAt)
	o, _ := m.GetOrder(ctx, "new")
	assert.Equal(t, model.OrderProcessing, o.Status)
	assert.Equal(t, "999", *o.ExternalOrderID)
}

func TestMemory_CompareAndTransition_RequireUnpaid(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateOrder(ctx, newOrder("o1", "owner", "example.com")))
	_, err := m.AttachPayment(ctx, "o1", "pay-1")
	require.NoError(t, err)

	abandon := Transition{
		OrderID: "o1", From: model.OrderPending, To: model.OrderFailed, RequireUnpaid: true,
		Events: []model.LifecycleEvent{{ID: "e1", OrderID: "o1", Kind: model.KindPaymentFailed}},
	}
	res, err := m.CompareAndTransition(ctx, abandon)
	require.NoError(t, err)
	assert.Equal(t, NoChange, res)
	assert.Empty(t, m.Events())

	require.NoError(t, m.CreateOrder(ctx, newOrder("o2", "owner", "other.example.com")))
	abandon.OrderID = "o2"
	res, err = m.CompareAndTransition(ctx, abandon)
	require.NoError(t, err)
	assert.Equal(t, Transitioned, res)
}

func TestMemory_CompareAndTransition_RestoresSubscription(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "orig", Status: model.OrderIssued})
	m.PutOrder(model.CertificateOrder{ID: "renewal", Status: model.OrderProcessing})
	require.NoError(t, m.CreateSubscription(ctx, &model.CertificateSubscription{
		ID: "sub", CurrentOrderID: "renewal", BillingAgreementID: "b", Status: model.SubscriptionActive,
	}))

	res, err := m.CompareAndTransition(ctx, Transition{
		OrderID: "renewal", From: model.OrderProcessing, To: model.OrderFailed, RestoreSubscriptionTo: ptr("orig"),
	})
	require.NoError(t, err)
	assert.Equal(t, Transitioned, res)
	s, _ := m.GetSubscription(ctx, "sub")
	assert.Equal(t, "orig", s.CurrentOrderID)

	// A lost race leaves the subscription alone.
	m.PutOrder(model.CertificateOrder{ID: "r2", Status: model.OrderIssued})
	require.NoError(t, m.CreateSubscription(ctx, &model.CertificateSubscription{
		ID: "sub2", CurrentOrderID: "r2", BillingAgreementID: "b2", Status: model.SubscriptionActive,
	}))
	res, err = m.CompareAndTransition(ctx, Transition{
		OrderID: "r2", From: model.OrderProcessing, To: model.OrderFailed, RestoreSubscriptionTo: ptr("orig"),
	})
	require.NoError(t, err)
	assert.Equal(t, NoChange, res)
	s, _ = m.GetSubscription(ctx, "sub2")
	assert.Equal(t, "r2", s.CurrentOrderID)
}

func TestMemory_FindUnpaid(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.PutOrder(model.CertificateOrder{ID: "old", Status: model.OrderPending, CreatedAt: base.Add(-48 * time.Hour)})
	m.PutOrder(model.CertificateOrder{ID: "new", Status: model.OrderPending, CreatedAt: base.Add(-time.Hour)})
	m.PutOrder(model.CertificateOrder{ID: "paid", Status: model.OrderPending, PaymentID: ptr("p"), CreatedAt: base.Add(-48 * time.Hour)})
	m.PutOrder(model.CertificateOrder{ID: "done", Status: model.OrderFailed, CreatedAt: base.Add(-48 * time.Hour)})

	orders, err := m.FindUnpaid(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "old", orders[0].ID)
}

func TestMemory_MarkChannelDelivered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.RecordEvent(ctx, model.LifecycleEvent{ID: "e1", OrderID: "o1", Kind: model.KindOrderConfirmed})

	require.NoError(t, m.MarkChannelDelivered(ctx, "e1", "mail"))
	require.NoError(t, m.MarkChannelDelivered(ctx, "e1", "mail"))
	require.NoError(t, m.MarkChannelDelivered(ctx, "e1", "chat"))
	assert.ErrorIs(t, m.MarkChannelDelivered(ctx, "missing", "mail"), ErrNotFound)

	claimed, err := m.ClaimEvents(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, []string{"mail", "chat"}, claimed[0].DeliveredChannels)
	assert.Nil(t, claimed[0].DeliveredAt)
}

func TestMemory_RecordEvent_Dedupes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := "expiry_warning:o1:30"

	ok, err := m.RecordEvent(ctx, model.LifecycleEvent{ID: "e1", OrderID: "o1", Kind: model.KindExpiryWarning, DedupeKey: &key})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.RecordEvent(ctx, model.LifecycleEvent{ID: "e2", OrderID: "o1", Kind: model.KindExpiryWarning, DedupeKey: &key})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ClaimEvents_LeaseAndReschedule(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	_, _ = m.RecordEvent(ctx, model.LifecycleEvent{ID: "e1", OrderID: "o1", Kind: model.KindOrderConfirmed})
	_, _ = m.RecordEvent(ctx, model.LifecycleEvent{ID: "audit", OrderID: "o1"})

	claimed, err := m.ClaimEvents(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "e1", claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)

	// Leased events are not handed out twice.
	claimed, _ = m.ClaimEvents(ctx, 10, time.Minute)
	assert.Empty(t, claimed)

	require.NoError(t, m.RescheduleEvent(ctx, "e1", "smtp down", now.Add(time.Minute)))
	claimed, _ = m.ClaimEvents(ctx, 10, time.Minute)
	assert.Empty(t, claimed)

	now = now.Add(2 * time.Minute)
	claimed, _ = m.ClaimEvents(ctx, 10, time.Minute)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, m.MarkEventDelivered(ctx, "e1"))
	now = now.Add(time.Hour)
	claimed, _ = m.ClaimEvents(ctx, 10, time.Minute)
	assert.Empty(t, claimed)
}

func TestMemory_ListOrdersByOwner_Paginates(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	for i, id := range []string{"a", "b", "c"} {
		m.PutOrder(model.CertificateOrder{ID: id, OwnerID: "owner", Status: model.OrderFailed, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	page, more, err := m.ListOrdersByOwner(ctx, "owner", 2, "")
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, more, err = m.ListOrdersByOwner(ctx, "owner", 2, "b")
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestTransition_Validate(t *testing.T) {
	expires := time.Now()
	tests := []struct {
		name string
		tr   Transition
		ok   bool
	}{
		{"issue with expiry", Transition{From: model.OrderProcessing, To: model.OrderIssued, Fields: Fields{ExpiresAt: &expires}}, true},
		{"issue without expiry", Transition{From: model.OrderProcessing, To: model.OrderIssued}, false},
		{"expiry outside issue", Transition{From: model.OrderProcessing, To: model.OrderFailed, Fields: Fields{ExpiresAt: &expires}}, false},
		{"material outside issue", Transition{From: model.OrderProcessing, To: model.OrderFailed, Fields: Fields{Certificate: ptr("x")}}, false},
		{"submit without external id", Transition{From: model.OrderPending, To: model.OrderProcessing}, false},
		{"submit with external id", Transition{From: model.OrderPending, To: model.OrderProcessing, Fields: Fields{ExternalOrderID: ptr("1")}}, true},
		{"fail before submission without external id", Transition{From: model.OrderPending, To: model.OrderFailed, Fields: Fields{FailureReason: ptr("declined")}}, true},
		{"revisit without guard", Transition{From: model.OrderProcessing, To: model.OrderProcessing}, false},
		{"back to pending", Transition{From: model.OrderProcessing, To: model.OrderPending}, false},
		{"authority after issue", Transition{From: model.OrderIssued, To: model.OrderFailed}, false},
		{"restore subscription on failure", Transition{From: model.OrderProcessing, To: model.OrderFailed, RestoreSubscriptionTo: ptr("orig")}, true},
		{"restore subscription on issue", Transition{From: model.OrderProcessing, To: model.OrderIssued, Fields: Fields{ExpiresAt: &expires}, RestoreSubscriptionTo: ptr("orig")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			}
		})
	}
}
