package activity

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/lifecycle"
)

// Renewal contains activities for auto-renew subscriptions.
type Renewal struct {
	renewer *lifecycle.Renewer
}

// NewRenewal creates a new Renewal activity struct.
func NewRenewal(renewer *lifecycle.Renewer) *Renewal {
	return &Renewal{renewer: renewer}
}

// RenewOrderParams identifies one renewal attempt. WindowKey makes the
// attempt idempotent: at most one successor order exists per key.
type RenewOrderParams struct {
	OrderID   string `json:"order_id"`
	WindowKey string `json:"window_key"`
}

// RenewFromInvoiceParams holds parameters for the RenewFromInvoice activity.
type RenewFromInvoiceParams struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
}

// ListRenewalCandidates returns the IDs of issued orders inside the renewal
// lookahead whose subscription is active, soonest expiry first.
func (a *Renewal) ListRenewalCandidates(ctx context.Context) ([]string, error) {
	candidates, err := a.renewer.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Order.ID)
	}
	return ids, nil
}

// RenewOrder creates, charges and submits the successor of one order.
func (a *Renewal) RenewOrder(ctx context.Context, params RenewOrderParams) (lifecycle.RenewalResult, error) {
	res, err := a.renewer.Renew(ctx, params.OrderID, params.WindowKey)
	if err != nil {
		return "", classify(fmt.Sprintf("renew order %s", params.OrderID), err)
	}
	return res, nil
}

// RenewFromInvoice renews the subscription's current order with a paid
// invoice.
func (a *Renewal) RenewFromInvoice(ctx context.Context, params RenewFromInvoiceParams) (lifecycle.RenewalResult, error) {
	res, err := a.renewer.RenewFromInvoice(ctx, params.SubscriptionID, params.InvoiceID)
	if err != nil {
		return "", classify(fmt.Sprintf("renew subscription %s from invoice %s", params.SubscriptionID, params.InvoiceID), err)
	}
	return res, nil
}
