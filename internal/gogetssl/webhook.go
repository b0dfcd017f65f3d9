package gogetssl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the authority webhook signature.
const SignatureHeader = "X-Signature"

// VerifySignature checks signature against hex(HMAC-SHA256(secret, body))
// in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, sign(secret, body))
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Notification is the authority's status-change callback.
type Notification struct {
	OrderID FlexString `json:"order_id"`
}

func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode authority notification: %w", err)
	}
	if n.OrderID == "" {
		return Notification{}, fmt.Errorf("authority notification has no order_id")
	}
	return n, nil
}
