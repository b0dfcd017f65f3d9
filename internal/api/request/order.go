package request

import (
	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/model"
)

// PlaceOrder holds the request body for buying a certificate.
type PlaceOrder struct {
	OwnerID            string `json:"owner_id" validate:"required,max=255"`
	ProductID          string `json:"product_id" validate:"required,max=255"`
	DomainName         string `json:"domain_name" validate:"required,max=253"`
	CSR                string `json:"csr" validate:"required,pem"`
	ApproverEmail      string `json:"approver_email" validate:"required,email"`
	PaymentToken       string `json:"payment_token" validate:"required"`
	AutoRenew          bool   `json:"auto_renew"`
	BillingAgreementID string `json:"billing_agreement_id" validate:"required_if=AutoRenew true"`
	BillingInterval    string `json:"billing_interval" validate:"omitempty,oneof=monthly yearly"`
}

// Lifecycle converts the body to an intake request.
func (p PlaceOrder) Lifecycle() lifecycle.PlaceOrderRequest {
	return lifecycle.PlaceOrderRequest{
		OwnerID:            p.OwnerID,
		ProductID:          p.ProductID,
		DomainName:         p.DomainName,
		CSR:                p.CSR,
		ApproverEmail:      p.ApproverEmail,
		PaymentToken:       p.PaymentToken,
		AutoRenew:          p.AutoRenew,
		BillingAgreementID: p.BillingAgreementID,
		BillingInterval:    model.BillingInterval(p.BillingInterval),
	}
}

// ReissueOrder holds the request body for reissuing an issued certificate.
type ReissueOrder struct {
	CSR string `json:"csr" validate:"required,pem"`
}
