package square

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNotificationURL = "https://shop.example.com/webhooks/square"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"payment.updated"}`)
	sig := Sign("key", testNotificationURL, body)

	assert.True(t, VerifySignature("key", testNotificationURL, body, sig))
	assert.False(t, VerifySignature("other", testNotificationURL, body, sig))
	assert.False(t, VerifySignature("key", "https://elsewhere.example.com/", body, sig))
	assert.False(t, VerifySignature("key", testNotificationURL, []byte(`{"type":"x"}`), sig))
	assert.False(t, VerifySignature("key", testNotificationURL, body, "not base64!"))
	assert.False(t, VerifySignature("key", testNotificationURL, body, ""))
	assert.False(t, VerifySignature("", testNotificationURL, body, sig))
}

func TestParseEventObjects(t *testing.T) {
	e, err := ParseEvent([]byte(`{
		"merchant_id": "M1",
		"type": "payment.updated",
		"event_id": "evt_1",
		"data": {"type": "payment", "id": "pay_1", "object": {"payment": {"id": "pay_1", "status": "COMPLETED"}}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentUpdated, e.Type)
	p, err := e.Payment()
	require.NoError(t, err)
	assert.Equal(t, "pay_1", p.ID)
	assert.True(t, p.Completed())

	e, err = ParseEvent([]byte(`{"type":"invoice.payment_made","data":{"object":{"invoice":{"id":"inv_1","status":"PAID","subscription_id":"sub_1"}}}}`))
	require.NoError(t, err)
	inv, err := e.Invoice()
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
	assert.Equal(t, "sub_1", inv.SubscriptionID)

	e, err = ParseEvent([]byte(`{"type":"subscription.updated","data":{"object":{"subscription":{"id":"sub_1","status":"PAUSED"}}}}`))
	require.NoError(t, err)
	sub, err := e.Subscription()
	require.NoError(t, err)
	assert.Equal(t, SubscriptionPaused, sub.Status)
}

func TestParseEventRejectsMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.Error(t, err)
}
