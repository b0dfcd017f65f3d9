package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/core"
	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

func newOrderHandler(m *store.Memory) *Order {
	if m == nil {
		return NewOrder(nil)
	}
	intake := lifecycle.NewIntake(m, nil, nil, nil, zerolog.Nop())
	return NewOrder(core.NewOrderService(m, intake))
}

// --- List ---

func TestOrderList_MissingOwner(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, decodeErrorResponse(rec)["error"], "owner_id")
}

func TestOrderList_Paginates(t *testing.T) {
	m := newMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		m.PutOrder(model.CertificateOrder{ID: id, OwnerID: "owner-1", Status: model.OrderIssued})
	}
	m.PutOrder(model.CertificateOrder{ID: "other", OwnerID: "owner-2", Status: model.OrderIssued})
	h := newOrderHandler(m)

	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/orders?owner_id=owner-1&limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items      []core.OrderView `json:"items"`
		NextCursor string           `json:"next_cursor"`
		HasMore    bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].ID)
	assert.Equal(t, "b", page.NextCursor)
	assert.True(t, page.HasMore)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/orders?owner_id=owner-1&limit=2&cursor=b", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ID)
	assert.False(t, page.HasMore)
}

// --- Get ---

func TestOrderGet_EmptyID(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/orders/", nil), "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "missing required ID")
}

func TestOrderGet_NotFound(t *testing.T) {
	h := newOrderHandler(newMemoryStore())
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/orders/"+validID, nil), "id", validID)

	h.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderGet_FailedOrderShowsSupportAction(t *testing.T) {
	m := newMemoryStore()
	reason := lifecycle.ReasonPaymentDeclined
	m.PutOrder(model.CertificateOrder{ID: validID, OwnerID: "owner-1", Status: model.OrderFailed, FailureReason: &reason})
	h := newOrderHandler(m)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/orders/"+validID, nil), "id", validID)

	h.Get(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, validID, body["id"])
	assert.Equal(t, lifecycle.SupportAction, body["support_action"])
	assert.Equal(t, reason, body["failure_reason"])
}

// --- Place ---

func TestOrderPlace_InvalidJSON(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()

	h.Place(rec, newRequestRaw(http.MethodPost, "/orders", "{bad json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "invalid JSON")
}

func TestOrderPlace_MissingRequiredFields(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()

	h.Place(rec, newRequest(http.MethodPost, "/orders", map[string]any{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestOrderPlace_UnknownProduct(t *testing.T) {
	h := newOrderHandler(newMemoryStore())
	rec := httptest.NewRecorder()

	h.Place(rec, newRequest(http.MethodPost, "/orders", map[string]any{
		"owner_id":       "owner-1",
		"product_id":     "no-such-product",
		"domain_name":    "shop.example.com",
		"csr":            "-----BEGIN CERTIFICATE REQUEST-----\nMIIB\n-----END CERTIFICATE REQUEST-----\n",
		"approver_email": "admin@shop.example.com",
		"payment_token":  "cnon:card-nonce-ok",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "unknown product")
}

// --- Reissue ---

func TestOrderReissue_EmptyID(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/orders//reissue", nil), "id", "")

	h.Reissue(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderReissue_RequiresPEM(t *testing.T) {
	h := newOrderHandler(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/orders/"+validID+"/reissue", map[string]any{"csr": "not a csr"}), "id", validID)

	h.Reissue(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderReissue_OnlyIssuedOrders(t *testing.T) {
	m := newMemoryStore()
	m.PutOrder(model.CertificateOrder{ID: validID, OwnerID: "owner-1", Status: model.OrderProcessing})
	h := newOrderHandler(m)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/orders/"+validID+"/reissue", map[string]any{
		"csr": "-----BEGIN CERTIFICATE REQUEST-----\nMIIB\n-----END CERTIFICATE REQUEST-----\n",
	}), "id", validID)

	h.Reissue(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "only issued orders")
}

// --- Events ---

func TestOrderEvents(t *testing.T) {
	m := newMemoryStore()
	m.PutOrder(model.CertificateOrder{ID: validID, OwnerID: "owner-1", Status: model.OrderIssued})
	_, err := m.RecordEvent(context.Background(), model.LifecycleEvent{ID: "e1", OrderID: validID, Kind: model.KindCertificateIssued})
	require.NoError(t, err)
	_, err = m.RecordEvent(context.Background(), model.LifecycleEvent{ID: "e2", OrderID: "another-order"})
	require.NoError(t, err)
	h := newOrderHandler(m)

	rec := httptest.NewRecorder()
	h.Events(rec, withChiURLParam(newRequest(http.MethodGet, "/orders/"+validID+"/events", nil), "id", validID))

	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.LifecycleEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)

	rec = httptest.NewRecorder()
	h.Events(rec, withChiURLParam(newRequest(http.MethodGet, "/orders/missing/events", nil), "id", "missing"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
