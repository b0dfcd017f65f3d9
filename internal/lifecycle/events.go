package lifecycle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/platform"
)

// Reasons shown to customers on failed orders. Integration error text is
// never copied into them.
const (
	ReasonPaymentDeclined    = "Your payment was declined."
	ReasonPaymentUnconfirmed = "Your payment could not be confirmed. You have not been charged for this order."
	ReasonSubmissionFailed   = "The certificate authority rejected the order. Check the signing request and domain, then contact support."
	ReasonAuthorityCanceled  = "The certificate authority cancelled the order. Contact support to place it again."
	ReasonRenewalPayment     = "The renewal payment was declined."
	ReasonRenewalSubmission  = "The certificate authority rejected the renewal order."
)

// SupportAction is shown next to the failure reason of a failed order.
const SupportAction = "Place the order again or contact support."

func newEvent(o *model.CertificateOrder, kind model.NotificationKind, from, to model.OrderStatus) model.LifecycleEvent {
	return model.LifecycleEvent{
		ID:         platform.NewID(),
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		Recipient:  o.ApproverEmail,
		DomainName: o.DomainName,
		Data:       map[string]string{},
	}
}

// failureEvent builds the notification for an order moving to failed.
// Renewal failures are reported against the original order so the customer
// sees the domain at risk.
func failureEvent(o *model.CertificateOrder, from model.OrderStatus, paymentFailure bool, reason string) model.LifecycleEvent {
	kind := model.KindOrderFailed
	if paymentFailure {
		kind = model.KindPaymentFailed
	}
	e := newEvent(o, kind, from, model.OrderFailed)
	if o.IsRenewal() {
		e.Kind = model.KindRenewalFailed
		e.OrderID = *o.RenewalOfOrderID
		e.Data["renewal_order_id"] = o.ID
	}
	e.Data["reason"] = reason
	return e
}

func issuedEvent(o *model.CertificateOrder, expiresAt time.Time) model.LifecycleEvent {
	e := newEvent(o, model.KindCertificateIssued, model.OrderProcessing, model.OrderIssued)
	e.Data["expires_at"] = expiresAt.UTC().Format(time.DateOnly)
	return e
}

func expiryWarningEvent(o *model.CertificateOrder, days int) model.LifecycleEvent {
	e := newEvent(o, model.KindExpiryWarning, "", "")
	e.Data["days"] = strconv.Itoa(days)
	if o.ExpiresAt != nil {
		e.Data["expires_at"] = o.ExpiresAt.UTC().Format(time.DateOnly)
	}
	key := fmt.Sprintf("expiry_warning:%s:%d", o.ID, days)
	e.DedupeKey = &key
	return e
}

// auditEvent records a transition without notifying anyone.
func auditEvent(o *model.CertificateOrder, from, to model.OrderStatus) model.LifecycleEvent {
	return newEvent(o, "", from, to)
}
