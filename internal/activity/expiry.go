package activity

import (
	"context"
	"fmt"

	"github.com/edvin/sslshop/internal/lifecycle"
)

// Expiry contains the clock-driven certificate activities.
type Expiry struct {
	expiry *lifecycle.Expiry
}

// NewExpiry creates a new Expiry activity struct.
func NewExpiry(expiry *lifecycle.Expiry) *Expiry {
	return &Expiry{expiry: expiry}
}

// ExpireIssuedCertificates moves issued orders past their expiry to expired.
func (a *Expiry) ExpireIssuedCertificates(ctx context.Context) (lifecycle.SweepReport, error) {
	report, err := a.expiry.ExpireIssued(ctx)
	if err != nil {
		return report, fmt.Errorf("expire issued certificates: %w", err)
	}
	return report, nil
}

// SendExpiryWarnings records warning events for orders at a warning
// threshold and returns how many were new.
func (a *Expiry) SendExpiryWarnings(ctx context.Context) (int, error) {
	n, err := a.expiry.SendExpiryWarnings(ctx)
	if err != nil {
		return n, fmt.Errorf("send expiry warnings: %w", err)
	}
	return n, nil
}
