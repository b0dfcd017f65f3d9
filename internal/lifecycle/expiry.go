package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
	"github.com/edvin/sslshop/internal/store"
)

// DefaultWarningDays are the days before expiry at which owners are warned.
var DefaultWarningDays = []int{90, 30, 7, 1}

// Expiry moves issued orders past their expiry to expired and sends expiry
// warnings. Both are local clock facts; the authority is not consulted.
type Expiry struct {
	store       store.Store
	warningDays []int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewExpiry(s store.Store, warningDays []int, logger zerolog.Logger) *Expiry {
	if len(warningDays) == 0 {
		warningDays = DefaultWarningDays
	}
	return &Expiry{
		store:       s,
		warningDays: warningDays,
		logger:      logger.With().Str("component", "expiry").Logger(),
		now:         time.Now,
	}
}

// ExpireIssued transitions every issued order whose expiry has passed.
func (x *Expiry) ExpireIssued(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	orders, err := x.store.FindExpired(ctx, x.now())
	if err != nil {
		return report, fmt.Errorf("find expired orders: %w", err)
	}

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := &orders[i]
		report.Checked++
		res, err := x.store.CompareAndTransition(ctx, store.Transition{
			OrderID: o.ID,
			From:    model.OrderIssued,
			To:      model.OrderExpired,
			Events:  []model.LifecycleEvent{auditEvent(o, model.OrderIssued, model.OrderExpired)},
		})
		if err != nil {
			report.Failed++
			x.logger.Warn().Err(err).Str("order_id", o.ID).Msg("expire order failed")
			continue
		}
		if res == store.Transitioned {
			report.Transitioned++
			metrics.OrderTransitions.WithLabelValues(string(model.OrderIssued), string(model.OrderExpired)).Inc()
		}
	}

	x.logger.Info().Int("checked", report.Checked).Int("expired", report.Transitioned).Msg("expiry sweep complete")
	return report, nil
}

// SendExpiryWarnings records one warning per order and threshold for
// certificates expiring within the day ending at each threshold. Warnings
// are deduplicated, so running twice in a day sends nothing new.
func (x *Expiry) SendExpiryWarnings(ctx context.Context) (int, error) {
	now := x.now()
	sent := 0
	for _, days := range x.warningDays {
		from := now.AddDate(0, 0, days-1)
		to := now.AddDate(0, 0, days)
		orders, err := x.store.FindExpiringBetween(ctx, from, to)
		if err != nil {
			return sent, fmt.Errorf("find orders expiring in %d days: %w", days, err)
		}
		for i := range orders {
			inserted, err := x.store.RecordEvent(ctx, expiryWarningEvent(&orders[i], days))
			if err != nil {
				x.logger.Warn().Err(err).Str("order_id", orders[i].ID).Int("days", days).Msg("record expiry warning failed")
				continue
			}
			if inserted {
				sent++
			}
		}
	}
	x.logger.Info().Int("warnings", sent).Msg("expiry warnings recorded")
	return sent, nil
}
