package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "x-square-hmacsha256-signature"

// Webhook event types the shop acts on.
const (
	EventPaymentUpdated      = "payment.updated"
	EventSubscriptionUpdated = "subscription.updated"
	EventInvoicePaymentMade  = "invoice.payment_made"
)

// Subscription statuses reported in subscription.updated.
const (
	SubscriptionActive      = "ACTIVE"
	SubscriptionPaused      = "PAUSED"
	SubscriptionCanceled    = "CANCELED"
	SubscriptionDeactivated = "DEACTIVATED"
)

// InvoicePaid is the invoice status after a successful invoice payment.
const InvoicePaid = "PAID"

// VerifySignature checks signature against base64(HMAC-SHA256(key,
// notificationURL + body)) in constant time.
func VerifySignature(signatureKey, notificationURL string, body []byte, signature string) bool {
	if signatureKey == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, sign(signatureKey, notificationURL, body))
}

// Sign returns the signature header value for body.
func Sign(signatureKey, notificationURL string, body []byte) string {
	return base64.StdEncoding.EncodeToString(sign(signatureKey, notificationURL, body))
}

func sign(key, notificationURL string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return mac.Sum(nil)
}

// Event is a webhook envelope.
type Event struct {
	MerchantID string    `json:"merchant_id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  time.Time `json:"created_at"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Invoice is the subset of an invoice carried by invoice.payment_made.
type Invoice struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	SubscriptionID string `json:"subscription_id"`
}

func ParseEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("webhook event has no type")
	}
	return e, nil
}

func (e Event) Payment() (Payment, error) {
	var obj struct {
		Payment Payment `json:"payment"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return Payment{}, fmt.Errorf("decode payment object: %w", err)
	}
	return obj.Payment, nil
}

func (e Event) Subscription() (Subscription, error) {
	var obj struct {
		Subscription Subscription `json:"subscription"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return Subscription{}, fmt.Errorf("decode subscription object: %w", err)
	}
	return obj.Subscription, nil
}

func (e Event) Invoice() (Invoice, error) {
	var obj struct {
		Invoice Invoice `json:"invoice"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return Invoice{}, fmt.Errorf("decode invoice object: %w", err)
	}
	return obj.Invoice, nil
}
