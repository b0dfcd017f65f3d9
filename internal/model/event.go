package model

import "time"

// NotificationKind identifies the message a lifecycle event produces.
type NotificationKind string

const (
	KindOrderConfirmed           NotificationKind = "order_confirmed"
	KindCertificateIssued        NotificationKind = "certificate_issued"
	KindExpiryWarning            NotificationKind = "expiry_warning"
	KindRenewalSucceeded         NotificationKind = "renewal_succeeded"
	KindRenewalFailed            NotificationKind = "renewal_failed"
	KindPaymentFailed            NotificationKind = "payment_failed"
	KindDomainValidationRequired NotificationKind = "domain_validation_required"
	KindOrderFailed              NotificationKind = "order_failed"
)

// LifecycleEvent records a state change or renewal outcome. Events are
// written in the same transaction as the change they describe and are
// delivered later by the notification dispatcher. An event with an empty
// Kind is kept for audit only.
type LifecycleEvent struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	OwnerID       string            `json:"owner_id"`
	Kind          NotificationKind  `json:"kind,omitempty"`
	FromStatus    OrderStatus       `json:"from_status,omitempty"`
	ToStatus      OrderStatus       `json:"to_status,omitempty"`
	Recipient     string            `json:"recipient"`
	DomainName    string            `json:"domain_name"`
	Data          map[string]string `json:"data,omitempty"`
	DedupeKey     *string           `json:"dedupe_key,omitempty"`
	Attempts      int               `json:"attempts"`
	LastError     *string           `json:"last_error,omitempty"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
	DeadAt        *time.Time        `json:"dead_at,omitempty"`
	// DeliveredChannels lists the channels that already accepted the
	// event. A retry skips them.
	DeliveredChannels []string  `json:"delivered_channels,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Notification is an in-app message shown to the order owner.
type Notification struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	OrderID   string           `json:"order_id"`
	EventID   string           `json:"event_id"`
	Kind      NotificationKind `json:"kind"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
