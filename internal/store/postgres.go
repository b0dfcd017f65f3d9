package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/sslshop/internal/model"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the production Store.
type Postgres struct {
	db DB
}

// NewPostgres creates a Store backed by db.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

const orderColumns = `id, owner_id, product_id, external_order_id, payment_id, domain_name, csr, status,
	authority_status, certificate, ca_bundle, expires_at, expired_at, amount_cents, currency,
	approver_email, failure_reason, renewal_of_order_id, renewal_key, reissue_requested_at,
	auto_renew, billing_agreement_id, billing_interval, created_at, updated_at`

const subscriptionColumns = `id, owner_id, current_order_id, billing_agreement_id, status, auto_renew,
	next_billing_at, billing_interval, created_at, updated_at`

const eventColumns = `id, order_id, owner_id, COALESCE(kind, ''), COALESCE(from_status, ''), COALESCE(to_status, ''),
	recipient, domain_name, data, dedupe_key, attempts, last_error, next_attempt_at, delivered_at, dead_at,
	delivered_channels, created_at`

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// orderDest lists the scan targets matching orderColumns.
func orderDest(o *model.CertificateOrder) []any {
	return []any{&o.ID, &o.OwnerID, &o.ProductID, &o.ExternalOrderID, &o.PaymentID, &o.DomainName, &o.CSR, &o.Status,
		&o.AuthorityStatus, &o.Certificate, &o.CABundle, &o.ExpiresAt, &o.ExpiredAt, &o.AmountCents, &o.Currency,
		&o.ApproverEmail, &o.FailureReason, &o.RenewalOfOrderID, &o.RenewalKey, &o.ReissueRequestedAt,
		&o.AutoRenew, &o.BillingAgreementID, &o.BillingInterval, &o.CreatedAt, &o.UpdatedAt}
}

func subscriptionDest(s *model.CertificateSubscription) []any {
	return []any{&s.ID, &s.OwnerID, &s.CurrentOrderID, &s.BillingAgreementID, &s.Status, &s.AutoRenew,
		&s.NextBillingAt, &s.BillingInterval, &s.CreatedAt, &s.UpdatedAt}
}

func scanOrder(row pgx.Row) (*model.CertificateOrder, error) {
	var o model.CertificateOrder
	if err := row.Scan(orderDest(&o)...); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanSubscription(row pgx.Row) (*model.CertificateSubscription, error) {
	var s model.CertificateSubscription
	if err := row.Scan(subscriptionDest(&s)...); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanEvent(row pgx.Row) (*model.LifecycleEvent, error) {
	var e model.LifecycleEvent
	var data []byte
	err := row.Scan(&e.ID, &e.OrderID, &e.OwnerID, &e.Kind, &e.FromStatus, &e.ToStatus,
		&e.Recipient, &e.DomainName, &data, &e.DedupeKey, &e.Attempts, &e.LastError, &e.NextAttemptAt,
		&e.DeliveredAt, &e.DeadAt, &e.DeliveredChannels, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	return &e, nil
}

func (p *Postgres) queryOrders(ctx context.Context, sql string, args ...any) ([]model.CertificateOrder, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.CertificateOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (p *Postgres) getOrder(ctx context.Context, where string, arg any) (*model.CertificateOrder, error) {
	o, err := scanOrder(p.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM certificate_orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// CreateOrder inserts a new order at pending.
func (p *Postgres) CreateOrder(ctx context.Context, o *model.CertificateOrder) error {
	if o.Status != model.OrderPending {
		return fmt.Errorf("%w: orders are created at pending, got %s", ErrIllegalTransition, o.Status)
	}
	err := p.db.QueryRow(ctx,
		`INSERT INTO certificate_orders (id, owner_id, product_id, payment_id, domain_name, csr, status,
			amount_cents, currency, approver_email, renewal_of_order_id, renewal_key,
			auto_renew, billing_agreement_id, billing_interval)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at, updated_at`,
		o.ID, o.OwnerID, o.ProductID, o.PaymentID, o.DomainName, o.CSR, o.Status,
		o.AmountCents, o.Currency, o.ApproverEmail, o.RenewalOfOrderID, o.RenewalKey,
		o.AutoRenew, o.BillingAgreementID, o.BillingInterval,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*model.CertificateOrder, error) {
	return p.getOrder(ctx, "id = $1", id)
}

func (p *Postgres) GetOrderByExternalID(ctx context.Context, externalID string) (*model.CertificateOrder, error) {
	return p.getOrder(ctx, "external_order_id = $1", externalID)
}

func (p *Postgres) GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.CertificateOrder, error) {
	return p.getOrder(ctx, "payment_id = $1 ORDER BY created_at DESC LIMIT 1", paymentID)
}

// ListOrdersByOwner pages through an owner's orders, newest first. The
// cursor is the ID of the last order of the previous page.
func (p *Postgres) ListOrdersByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]model.CertificateOrder, bool, error) {
	query := `SELECT ` + orderColumns + ` FROM certificate_orders WHERE owner_id = $1`
	args := []any{ownerID}
	if cursor != "" {
		query += ` AND (created_at, id) < (SELECT created_at, id FROM certificate_orders WHERE id = $2)`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	orders, err := p.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list orders for %s: %w", ownerID, err)
	}
	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}
	return orders, hasMore, nil
}

// transitionSQL builds the guarded UPDATE for t.
func transitionSQL(t Transition) (string, []any) {
	args := []any{t.OrderID, t.From, t.To}
	sets := []string{"status = $3", "updated_at = now()"}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	f := t.Fields
	if f.ExternalOrderID != nil {
		add("external_order_id", *f.ExternalOrderID)
	}
	if f.AuthorityStatus != nil {
		add("authority_status", *f.AuthorityStatus)
	}
	if f.PaymentID != nil {
		add("payment_id", *f.PaymentID)
	}
	if f.Certificate != nil {
		add("certificate", *f.Certificate)
	}
	if f.CABundle != nil {
		add("ca_bundle", *f.CABundle)
	}
	if f.ExpiresAt != nil {
		add("expires_at", *f.ExpiresAt)
	}
	if f.FailureReason != nil {
		add("failure_reason", *f.FailureReason)
	}
	if t.From == model.OrderIssued && t.To != model.OrderIssued {
		sets = append(sets, "expired_at = expires_at", "expires_at = NULL", "certificate = NULL", "ca_bundle = NULL")
	}

	where := "id = $1 AND status = $2"
	if t.FromAuthorityStatus != nil {
		args = append(args, *t.FromAuthorityStatus)
		where += fmt.Sprintf(" AND authority_status = $%d", len(args))
	}
	if t.RequireUnpaid {
		where += " AND payment_id IS NULL"
	}
	return `UPDATE certificate_orders SET ` + strings.Join(sets, ", ") + ` WHERE ` + where, args
}

// CompareAndTransition applies t and records its events in one transaction.
func (p *Postgres) CompareAndTransition(ctx context.Context, t Transition) (TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return NoChange, err
	}
	sql, args := transitionSQL(t)

	result := NoChange
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("update order %s: %w", t.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return orderExists(ctx, tx, t.OrderID)
		}
		if t.RestoreSubscriptionTo != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE certificate_subscriptions SET current_order_id = $2, updated_at = now()
				 WHERE current_order_id = $1`,
				t.OrderID, *t.RestoreSubscriptionTo); err != nil {
				return fmt.Errorf("restore subscription of order %s: %w", t.OrderID, err)
			}
		}
		for _, e := range t.Events {
			if _, err := insertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		result = Transitioned
		return nil
	})
	if err != nil {
		return NoChange, err
	}
	return result, nil
}

func orderExists(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id string) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM certificate_orders WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check order %s: %w", id, err)
	}
	return nil
}

// AttachPayment records the payment captured for a pending order. A second
// call with a different payment reports NoChange.
func (p *Postgres) AttachPayment(ctx context.Context, orderID, paymentID string) (TransitionResult, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE certificate_orders SET payment_id = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending' AND payment_id IS NULL`,
		orderID, paymentID)
	if err != nil {
		return NoChange, fmt.Errorf("attach payment to order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return NoChange, orderExists(ctx, p.db, orderID)
	}
	return Transitioned, nil
}

// RecordReissue stores a replacement CSR for an issued order.
func (p *Postgres) RecordReissue(ctx context.Context, orderID, csr string) (TransitionResult, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE certificate_orders SET csr = $2, reissue_requested_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'issued'`,
		orderID, csr)
	if err != nil {
		return NoChange, fmt.Errorf("record reissue for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return NoChange, orderExists(ctx, p.db, orderID)
	}
	return Transitioned, nil
}

// FindInFlight returns all processing orders, least recently touched first.
func (p *Postgres) FindInFlight(ctx context.Context) ([]model.CertificateOrder, error) {
	orders, err := p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM certificate_orders WHERE status = 'processing' ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("find in-flight orders: %w", err)
	}
	return orders, nil
}

// FindSubmittable returns pending orders with a captured payment that have
// not been touched since updatedBefore.
func (p *Postgres) FindSubmittable(ctx context.Context, updatedBefore time.Time) ([]model.CertificateOrder, error) {
	orders, err := p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM certificate_orders
		 WHERE status = 'pending' AND payment_id IS NOT NULL AND updated_at < $1
		 ORDER BY updated_at, id`, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("find submittable orders: %w", err)
	}
	return orders, nil
}

// FindUnpaid returns pending orders without a payment created before
// createdBefore.
func (p *Postgres) FindUnpaid(ctx context.Context, createdBefore time.Time) ([]model.CertificateOrder, error) {
	orders, err := p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM certificate_orders
		 WHERE status = 'pending' AND payment_id IS NULL AND created_at < $1
		 ORDER BY created_at, id`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("find unpaid orders: %w", err)
	}
	return orders, nil
}

func (p *Postgres) FindExpired(ctx context.Context, now time.Time) ([]model.CertificateOrder, error) {
	orders, err := p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM certificate_orders
		 WHERE status = 'issued' AND expires_at < $1 ORDER BY expires_at, id`, now)
	if err != nil {
		return nil, fmt.Errorf("find expired orders: %w", err)
	}
	return orders, nil
}

func (p *Postgres) FindExpiringBetween(ctx context.Context, from, to time.Time) ([]model.CertificateOrder, error) {
	orders, err := p.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM certificate_orders
		 WHERE status = 'issued' AND expires_at >= $1 AND expires_at < $2 ORDER BY expires_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("find expiring orders: %w", err)
	}
	return orders, nil
}

// FindExpiringWithAutoRenew returns issued orders expiring within the
// horizon whose active subscription has auto-renew enabled, soonest first.
func (p *Postgres) FindExpiringWithAutoRenew(ctx context.Context, withinDays int) ([]model.RenewalCandidate, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+prefixColumns("o", orderColumns)+`, `+prefixColumns("s", subscriptionColumns)+`
		 FROM certificate_orders o
		 JOIN certificate_subscriptions s ON s.current_order_id = o.id
		 WHERE o.status = 'issued'
		   AND o.expires_at <= now() + make_interval(days => $1)
		   AND s.status = 'active' AND s.auto_renew
		 ORDER BY o.expires_at, o.id`, withinDays)
	if err != nil {
		return nil, fmt.Errorf("find renewal candidates: %w", err)
	}
	defer rows.Close()

	var out []model.RenewalCandidate
	for rows.Next() {
		var c model.RenewalCandidate
		if err := rows.Scan(append(orderDest(&c.Order), subscriptionDest(&c.Subscription)...)...); err != nil {
			return nil, fmt.Errorf("scan renewal candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// prefixColumns qualifies a column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func (p *Postgres) GetProduct(ctx context.Context, id string) (*model.CertificateProduct, error) {
	var pr model.CertificateProduct
	err := p.db.QueryRow(ctx,
		`SELECT id, name, authority_product_id, price_cents, currency, validity_months, domain_count, wildcard, active, created_at
		 FROM certificate_products WHERE id = $1`, id,
	).Scan(&pr.ID, &pr.Name, &pr.AuthorityProductID, &pr.PriceCents, &pr.Currency, &pr.ValidityMonths,
		&pr.DomainCount, &pr.Wildcard, &pr.Active, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &pr, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, s *model.CertificateSubscription) error {
	err := p.db.QueryRow(ctx,
		`INSERT INTO certificate_subscriptions (id, owner_id, current_order_id, billing_agreement_id, status,
			auto_renew, next_billing_at, billing_interval)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		s.ID, s.OwnerID, s.CurrentOrderID, s.BillingAgreementID, s.Status, s.AutoRenew, s.NextBillingAt, s.BillingInterval,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateSubscription
	}
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) getSubscription(ctx context.Context, where string, arg any) (*model.CertificateSubscription, error) {
	s, err := scanSubscription(p.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM certificate_subscriptions WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (*model.CertificateSubscription, error) {
	return p.getSubscription(ctx, "id = $1", id)
}

func (p *Postgres) GetSubscriptionByBillingAgreement(ctx context.Context, billingAgreementID string) (*model.CertificateSubscription, error) {
	return p.getSubscription(ctx, "billing_agreement_id = $1", billingAgreementID)
}

func (p *Postgres) GetSubscriptionByOrder(ctx context.Context, orderID string) (*model.CertificateSubscription, error) {
	return p.getSubscription(ctx, "current_order_id = $1", orderID)
}

// TransitionSubscription moves a subscription between statuses if it is
// still in the expected status.
func (p *Postgres) TransitionSubscription(ctx context.Context, id string, from, to model.SubscriptionStatus) (TransitionResult, error) {
	if !model.CanTransitionSubscription(from, to) {
		return NoChange, fmt.Errorf("%w: subscription %s -> %s", ErrIllegalTransition, from, to)
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE certificate_subscriptions SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return NoChange, fmt.Errorf("update subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSubscription(ctx, id); err != nil {
			return NoChange, err
		}
		return NoChange, nil
	}
	return Transitioned, nil
}

// CompleteRenewal moves the renewal order to processing and points the
// subscription at it, advancing the next billing date. Either both writes
// apply or neither does.
func (p *Postgres) CompleteRenewal(ctx context.Context, c RenewalCommit) (TransitionResult, error) {
	result := NoChange
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE certificate_orders SET status = 'processing', external_order_id = $2, authority_status = $3, updated_at = now()
			 WHERE id = $1 AND status = 'pending'`,
			c.OrderID, c.ExternalOrderID, c.AuthorityStatus)
		if err != nil {
			return fmt.Errorf("update renewal order %s: %w", c.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return orderExists(ctx, tx, c.OrderID)
		}

		tag, err = tx.Exec(ctx,
			`UPDATE certificate_subscriptions SET current_order_id = $2, next_billing_at = $3, updated_at = now()
			 WHERE id = $1 AND current_order_id = $4 AND status <> 'cancelled'`,
			c.SubscriptionID, c.OrderID, c.NextBillingAt, c.PreviousOrderID)
		if err != nil {
			return fmt.Errorf("relink subscription %s: %w", c.SubscriptionID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSubscriptionMoved
		}

		for _, e := range c.Events {
			if _, err := insertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		result = Transitioned
		return nil
	})
	if err != nil {
		return NoChange, err
	}
	return result, nil
}

func insertEvent(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}, e model.LifecycleEvent) (bool, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return false, fmt.Errorf("encode event data: %w", err)
	}
	if e.Data == nil {
		data = []byte("{}")
	}
	tag, err := q.Exec(ctx,
		`INSERT INTO lifecycle_events (id, order_id, owner_id, kind, from_status, to_status, recipient,
			domain_name, data, dedupe_key)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		e.ID, e.OrderID, e.OwnerID, e.Kind, e.FromStatus, e.ToStatus, e.Recipient, e.DomainName, data, e.DedupeKey)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordEvent stores an event outside a transition. It returns false when an
// event with the same dedupe key already exists.
func (p *Postgres) RecordEvent(ctx context.Context, e model.LifecycleEvent) (bool, error) {
	return insertEvent(ctx, p.db, e)
}

func (p *Postgres) ListEventsByOrder(ctx context.Context, orderID string) ([]model.LifecycleEvent, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+eventColumns+` FROM lifecycle_events WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list events for order %s: %w", orderID, err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]model.LifecycleEvent, error) {
	defer rows.Close()
	var events []model.LifecycleEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ClaimEvents leases up to limit due events for delivery. Claimed events
// are invisible to other dispatchers until the lease runs out.
func (p *Postgres) ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]model.LifecycleEvent, error) {
	rows, err := p.db.Query(ctx,
		`UPDATE lifecycle_events SET attempts = attempts + 1, locked_until = now() + make_interval(secs => $2)
		 WHERE id IN (
			SELECT id FROM lifecycle_events
			WHERE kind IS NOT NULL AND delivered_at IS NULL AND dead_at IS NULL
			  AND next_attempt_at <= now()
			  AND (locked_until IS NULL OR locked_until < now())
			ORDER BY next_attempt_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED)
		 RETURNING `+eventColumns, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	return collectEvents(rows)
}

func (p *Postgres) MarkEventDelivered(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE lifecycle_events SET delivered_at = now(), locked_until = NULL, last_error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event %s delivered: %w", id, err)
	}
	return nil
}

// MarkChannelDelivered records that one channel accepted the event. The
// event stays claimable until MarkEventDelivered.
func (p *Postgres) MarkChannelDelivered(ctx context.Context, id, channel string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE lifecycle_events SET delivered_channels = array_append(delivered_channels, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(delivered_channels))`, id, channel)
	if err != nil {
		return fmt.Errorf("mark event %s delivered on %s: %w", id, channel, err)
	}
	return nil
}

func (p *Postgres) RescheduleEvent(ctx context.Context, id, lastError string, at time.Time) error {
	_, err := p.db.Exec(ctx,
		`UPDATE lifecycle_events SET next_attempt_at = $2, last_error = $3, locked_until = NULL WHERE id = $1`,
		id, at, lastError)
	if err != nil {
		return fmt.Errorf("reschedule event %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) DeadLetterEvent(ctx context.Context, id, lastError string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE lifecycle_events SET dead_at = now(), last_error = $2, locked_until = NULL WHERE id = $1`,
		id, lastError)
	if err != nil {
		return fmt.Errorf("dead-letter event %s: %w", id, err)
	}
	return nil
}

// InsertNotification stores an in-app notification. Redelivery of the same
// event is a no-op.
func (p *Postgres) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO notifications (id, owner_id, order_id, event_id, kind, subject, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (event_id) DO NOTHING`,
		n.ID, n.OwnerID, n.OrderID, n.EventID, n.Kind, n.Subject, n.Body)
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (p *Postgres) ListNotifications(ctx context.Context, ownerID string, limit int) ([]model.Notification, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, owner_id, order_id, event_id, kind, subject, body, read_at, created_at
		 FROM notifications WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.OrderID, &n.EventID, &n.Kind, &n.Subject, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
