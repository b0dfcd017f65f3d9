package model

import "time"

// CertificateOrder is one purchase-to-certificate lifecycle.
type CertificateOrder struct {
	ID                 string      `json:"id"`
	OwnerID            string      `json:"owner_id"`
	ProductID          string      `json:"product_id"`
	ExternalOrderID    *string     `json:"external_order_id,omitempty"`
	PaymentID          *string     `json:"payment_id,omitempty"`
	DomainName         string      `json:"domain_name"`
	CSR                string      `json:"-"`
	Status             OrderStatus `json:"status"`
	AuthorityStatus    string      `json:"authority_status,omitempty"`
	Certificate        *string     `json:"certificate,omitempty"`
	CABundle           *string     `json:"ca_bundle,omitempty"`
	ExpiresAt          *time.Time  `json:"expires_at,omitempty"`
	ExpiredAt          *time.Time  `json:"expired_at,omitempty"`
	AmountCents        int64       `json:"amount_cents"`
	Currency           string      `json:"currency"`
	ApproverEmail      string      `json:"approver_email"`
	FailureReason      *string     `json:"failure_reason,omitempty"`
	RenewalOfOrderID   *string     `json:"renewal_of_order_id,omitempty"`
	RenewalKey         *string     `json:"-"`
	ReissueRequestedAt *time.Time  `json:"reissue_requested_at,omitempty"`
	// AutoRenew and the billing fields are captured at intake so that a
	// subscription can be created whichever path captures the payment.
	AutoRenew          bool            `json:"auto_renew"`
	BillingAgreementID *string         `json:"-"`
	BillingInterval    BillingInterval `json:"billing_interval,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsRenewal reports whether the order was created to succeed another order.
func (o *CertificateOrder) IsRenewal() bool {
	return o.RenewalOfOrderID != nil
}

// PaymentCaptured reports whether a payment has been recorded for the order.
func (o *CertificateOrder) PaymentCaptured() bool {
	return o.PaymentID != nil && *o.PaymentID != ""
}

// CertificateProduct is catalog reference data. It is owned by the
// storefront and only read here.
type CertificateProduct struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	AuthorityProductID string    `json:"authority_product_id"`
	PriceCents         int64     `json:"price_cents"`
	Currency           string    `json:"currency"`
	ValidityMonths     int       `json:"validity_months"`
	DomainCount        int       `json:"domain_count"`
	Wildcard           bool      `json:"wildcard"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}

// BillingInterval is how often a subscription is charged.
type BillingInterval string

const (
	BillingMonthly BillingInterval = "monthly"
	BillingYearly  BillingInterval = "yearly"
)

// CertificateSubscription is a recurring billing agreement tied to the
// order it currently renews.
type CertificateSubscription struct {
	ID                 string             `json:"id"`
	OwnerID            string             `json:"owner_id"`
	CurrentOrderID     string             `json:"current_order_id"`
	BillingAgreementID string             `json:"billing_agreement_id"`
	Status             SubscriptionStatus `json:"status"`
	AutoRenew          bool               `json:"auto_renew"`
	NextBillingAt      time.Time          `json:"next_billing_at"`
	BillingInterval    BillingInterval    `json:"billing_interval"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// RenewalCandidate pairs an issued order nearing expiry with the
// subscription that renews it.
type RenewalCandidate struct {
	Order        CertificateOrder        `json:"order"`
	Subscription CertificateSubscription `json:"subscription"`
}
