// Package notify delivers lifecycle events to customers and operators.
//
// Events are written by the lifecycle services in the same transaction as
// the state change they describe. The Dispatcher claims them from the
// outbox, renders one message per event and hands it to every channel
// routed for its kind. A failed delivery is rescheduled with backoff and
// never touches the order. Channels that accepted the event are recorded
// so a retry only reaches the ones that failed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/model"
)

// Queue is the outbox the dispatcher drains.
type Queue interface {
	ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]model.LifecycleEvent, error)
	MarkEventDelivered(ctx context.Context, id string) error
	MarkChannelDelivered(ctx context.Context, id, channel string) error
	RescheduleEvent(ctx context.Context, id, lastError string, at time.Time) error
	DeadLetterEvent(ctx context.Context, id, lastError string) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	MaxAttempts  int
	Lease        time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 6 * time.Hour
	}
	return c
}

// operatorKinds are also posted to the operator chat.
var operatorKinds = []model.NotificationKind{
	model.KindOrderConfirmed,
	model.KindCertificateIssued,
	model.KindRenewalFailed,
	model.KindOrderFailed,
}

// Routes returns the channels a kind is delivered to.
func Routes(kind model.NotificationKind) []string {
	routes := []string{ChannelMail, ChannelInApp}
	if slices.Contains(operatorKinds, kind) {
		routes = append(routes, ChannelChat)
	}
	return routes
}

type Dispatcher struct {
	queue    Queue
	channels map[string]Channel
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given channels. Kinds routed to
// a channel that is not configured skip that channel.
func NewDispatcher(q Queue, channels []Channel, cfg Config, logger zerolog.Logger) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Dispatcher{
		queue:    q,
		channels: byName,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("concurrency", d.cfg.Concurrency).
		Msg("notification dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Drain full batches without waiting for the next tick.
		for {
			n, err := d.DispatchOnce(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("dispatch failed")
			}
			if err != nil || n < d.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("notification dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch of due events and delivers it. It returns
// the number of events claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.queue.ClaimEvents(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("claim events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	// A plain group: one event's bookkeeping error must not cancel the
	// deliveries running next to it.
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, e := range events {
		g.Go(func() error {
			return d.dispatch(ctx, e)
		})
	}
	return len(events), g.Wait()
}

// dispatch delivers one event and records the result. Only outbox
// bookkeeping errors are returned.
func (d *Dispatcher) dispatch(ctx context.Context, e model.LifecycleEvent) error {
	log := d.logger.With().Str("event_id", e.ID).Str("order_id", e.OrderID).Str("kind", string(e.Kind)).Logger()

	msg, err := Render(e)
	if err != nil {
		log.Error().Err(err).Msg("event cannot be rendered, dead-lettering")
		return d.queue.DeadLetterEvent(ctx, e.ID, err.Error())
	}

	var errs []error
	for _, name := range Routes(e.Kind) {
		ch, ok := d.channels[name]
		if !ok || slices.Contains(e.DeliveredChannels, name) {
			continue
		}
		if err := ch.Deliver(ctx, msg); err != nil {
			metrics.Notifications.WithLabelValues(name, "error").Inc()
			log.Warn().Err(err).Str("channel", name).Int("attempt", e.Attempts).Msg("delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.Notifications.WithLabelValues(name, "delivered").Inc()
		if err := d.queue.MarkChannelDelivered(ctx, e.ID, name); err != nil {
			return fmt.Errorf("mark event %s delivered on %s: %w", e.ID, name, err)
		}
	}

	if len(errs) == 0 {
		log.Debug().Msg("event delivered")
		return d.queue.MarkEventDelivered(ctx, e.ID)
	}
	lastError := errors.Join(errs...).Error()
	if e.Attempts >= d.cfg.MaxAttempts {
		metrics.Notifications.WithLabelValues("all", "dead").Inc()
		log.Error().Str("last_error", lastError).Msg("delivery attempts exhausted, dead-lettering")
		return d.queue.DeadLetterEvent(ctx, e.ID, lastError)
	}
	return d.queue.RescheduleEvent(ctx, e.ID, lastError, d.now().Add(d.backoff(e.Attempts)))
}

// backoff is the delay before the attempt after the given one: the base
// delay doubled per attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(d.cfg.MaxBackoff, retry.NewExponential(d.cfg.BaseBackoff))
	delay := d.cfg.BaseBackoff
	for range attempt {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}
