package lifecycle

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/square"
	"github.com/edvin/sslshop/internal/store"
)

var fixedNow = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

var testProduct = model.CertificateProduct{
	ID:                 "prod-dv",
	Name:               "Domain Validated",
	AuthorityProductID: "71",
	PriceCents:         4900,
	Currency:           "USD",
	ValidityMonths:     12,
	DomainCount:        1,
	Active:             true,
}

func newTestStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	m.SetClock(clock)
	m.PutProduct(testProduct)
	wildcard := testProduct
	wildcard.ID, wildcard.Wildcard = "prod-wild", true
	m.PutProduct(wildcard)
	return m
}

func ptr[T any](v T) *T { return &v }

// seedOrder stores an order in the given state with sensible defaults.
func seedOrder(m *store.Memory, id string, status model.OrderStatus, mutate ...func(o *model.CertificateOrder)) model.CertificateOrder {
	o := model.CertificateOrder{
		ID:            id,
		OwnerID:       "owner-1",
		ProductID:     testProduct.ID,
		DomainName:    id + ".example.com",
		CSR:           "csr-" + id,
		Status:        status,
		AmountCents:   testProduct.PriceCents,
		Currency:      testProduct.Currency,
		ApproverEmail: "admin@" + id + ".example.com",
		CreatedAt:     fixedNow.Add(-time.Hour),
	}
	switch status {
	case model.OrderProcessing:
		o.ExternalOrderID = ptr("ext-" + id)
		o.PaymentID = ptr("pay-" + id)
		o.AuthorityStatus = "processing"
	case model.OrderIssued:
		o.ExternalOrderID = ptr("ext-" + id)
		o.PaymentID = ptr("pay-" + id)
		o.AuthorityStatus = "active"
		o.ExpiresAt = ptr(fixedNow.AddDate(0, 0, 30))
		o.Certificate = ptr("CERT")
		o.CABundle = ptr("BUNDLE")
	}
	for _, fn := range mutate {
		fn(&o)
	}
	m.PutOrder(o)
	return o
}

func seedSubscription(t *testing.T, m *store.Memory, id, orderID string, status model.SubscriptionStatus) *model.CertificateSubscription {
	t.Helper()
	sub := &model.CertificateSubscription{
		ID:                 id,
		OwnerID:            "owner-1",
		CurrentOrderID:     orderID,
		BillingAgreementID: "sq-" + id,
		Status:             status,
		AutoRenew:          true,
		NextBillingAt:      fixedNow.AddDate(0, 0, 30),
		BillingInterval:    model.BillingYearly,
	}
	require.NoError(t, m.CreateSubscription(context.Background(), sub))
	return sub
}

func eventsOfKind(m *store.Memory, kind model.NotificationKind) []model.LifecycleEvent {
	var out []model.LifecycleEvent
	for _, e := range m.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func mustOrder(t *testing.T, m *store.Memory, id string) *model.CertificateOrder {
	t.Helper()
	o, err := m.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func testCSR(t *testing.T, cn string, sans ...string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: sans,
	}, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

type fakeAuthority struct {
	mu          sync.Mutex
	submitID    string
	submitErr   error
	submits     []gogetssl.SubmitRequest
	details     map[string]gogetssl.OrderDetails
	statusErr   map[string]error
	statusCalls int
	reissueErr  error
	reissued    []string
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		submitID:  "ext-new",
		details:   map[string]gogetssl.OrderDetails{},
		statusErr: map[string]error{},
	}
}

func (f *fakeAuthority) Submit(_ context.Context, req gogetssl.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeAuthority) Status(_ context.Context, externalOrderID string) (gogetssl.OrderDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if err := f.statusErr[externalOrderID]; err != nil {
		return gogetssl.OrderDetails{}, err
	}
	return f.details[externalOrderID], nil
}

func (f *fakeAuthority) Reissue(_ context.Context, externalOrderID, _ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reissued = append(f.reissued, externalOrderID)
	return f.reissueErr
}

func (f *fakeAuthority) setStatus(externalID string, d gogetssl.OrderDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[externalID] = d
}

type fakePayments struct {
	mu            sync.Mutex
	payment       square.Payment
	err           error
	charges       []square.ChargeRequest
	subCharges    []string
	subscriptions []string
	providerErr   error
}

func newFakePayments() *fakePayments {
	return &fakePayments{payment: square.Payment{ID: "pay-1", Status: square.PaymentCompleted}}
}

func (f *fakePayments) Charge(_ context.Context, req square.ChargeRequest) (square.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, req)
	return f.payment, f.err
}

func (f *fakePayments) ChargeSubscription(_ context.Context, subscriptionID string, _ int64, _ string, idempotencyKey string) (square.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCharges = append(f.subCharges, subscriptionID+"|"+idempotencyKey)
	return f.payment, f.err
}

func (f *fakePayments) subscriptionCall(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, op+":"+id)
	return f.providerErr
}

func (f *fakePayments) PauseSubscription(_ context.Context, id string) error {
	return f.subscriptionCall("pause", id)
}

func (f *fakePayments) ResumeSubscription(_ context.Context, id string) error {
	return f.subscriptionCall("resume", id)
}

func (f *fakePayments) CancelSubscription(_ context.Context, id string) error {
	return f.subscriptionCall("cancel", id)
}

type fakeStarter struct {
	mu          sync.Mutex
	submissions []string
	reconciles  []string
	invoices    []string
	err         error
}

func (f *fakeStarter) StartSubmission(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, orderID)
	return f.err
}

func (f *fakeStarter) StartReconcile(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles = append(f.reconciles, orderID)
	return f.err
}

func (f *fakeStarter) StartInvoiceRenewal(_ context.Context, subscriptionID, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, subscriptionID+"|"+invoiceID)
	return f.err
}

func newTestSubmitter(m *store.Memory, a *fakeAuthority) *Submitter {
	s := NewSubmitter(m, a, nil, zerolog.Nop())
	s.now = clock
	return s
}
