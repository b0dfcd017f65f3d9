// Package square is the payment provider client: card charges, charges
// against a subscription's card on file, and subscription pause, resume and
// cancel.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/metrics"
)

const (
	DefaultBaseURL = "https://connect.squareup.com"
	apiVersion     = "2025-01-23"

	opCharge      = "charge"
	opGetSub      = "get_subscription"
	opPauseSub    = "pause_subscription"
	opResumeSub   = "resume_subscription"
	opCancelSub   = "cancel_subscription"
	maxErrorBytes = 64 << 10
)

// Payment statuses reported by the provider.
const (
	PaymentApproved  = "APPROVED"
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentCanceled  = "CANCELED"
	PaymentFailed    = "FAILED"
)

// ErrPaymentDeclined is the semantic rejection returned for declined charges.
var ErrPaymentDeclined = fmt.Errorf("payment declined: %w", faults.ErrSemanticRejection)

type Config struct {
	BaseURL     string
	AccessToken string
	LocationID  string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// Transient failures are retried with exponential backoff up to
	// MaxAttempts. Every mutating call carries an idempotency key or is a
	// state change the provider applies once.
	MaxAttempts uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With().Str("component", "square").Logger(),
	}
}

// ChargeRequest charges a payment source once. IdempotencyKey makes
// repeated attempts for the same purchase collapse into one payment.
type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	SourceID       string
	CustomerID     string
	IdempotencyKey string
	ReferenceID    string
	Note           string
}

// Payment is the provider's record of a charge.
type Payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// Completed reports whether the funds were captured.
func (p Payment) Completed() bool { return p.Status == PaymentCompleted }

// Subscription is the subset of a provider subscription the shop reads.
type Subscription struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CustomerID string `json:"customer_id"`
	CardID     string `json:"card_id"`
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	SourceID       string `json:"source_id"`
	IdempotencyKey string `json:"idempotency_key"`
	AmountMoney    money  `json:"amount_money"`
	LocationID     string `json:"location_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Note           string `json:"note,omitempty"`
	Autocomplete   bool   `json:"autocomplete"`
}

// Charge creates a payment.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (Payment, error) {
	body := createPaymentRequest{
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    money{Amount: req.AmountCents, Currency: strings.ToUpper(req.Currency)},
		LocationID:     c.cfg.LocationID,
		CustomerID:     req.CustomerID,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
		Autocomplete:   true,
	}
	var resp struct {
		Payment Payment `json:"payment"`
	}
	if err := c.do(ctx, opCharge, http.MethodPost, "/v2/payments", body, &resp); err != nil {
		return Payment{}, err
	}
	return resp.Payment, nil
}

// ChargeSubscription charges the card on file of a subscription.
func (c *Client) ChargeSubscription(ctx context.Context, subscriptionID string, amountCents int64, currency, idempotencyKey string) (Payment, error) {
	sub, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return Payment{}, err
	}
	if sub.CardID == "" {
		return Payment{}, &APIError{Operation: opCharge, Message: "subscription has no card on file", kind: ErrPaymentDeclined}
	}
	return c.Charge(ctx, ChargeRequest{
		AmountCents:    amountCents,
		Currency:       currency,
		SourceID:       sub.CardID,
		CustomerID:     sub.CustomerID,
		IdempotencyKey: idempotencyKey,
		ReferenceID:    subscriptionID,
	})
}

func (c *Client) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	var resp struct {
		Subscription Subscription `json:"subscription"`
	}
	if err := c.do(ctx, opGetSub, http.MethodGet, "/v2/subscriptions/"+url.PathEscape(id), nil, &resp); err != nil {
		return Subscription{}, err
	}
	return resp.Subscription, nil
}

func (c *Client) PauseSubscription(ctx context.Context, id string) error {
	return c.do(ctx, opPauseSub, http.MethodPost, "/v2/subscriptions/"+url.PathEscape(id)+"/pause", map[string]any{}, nil)
}

func (c *Client) ResumeSubscription(ctx context.Context, id string) error {
	return c.do(ctx, opResumeSub, http.MethodPost, "/v2/subscriptions/"+url.PathEscape(id)+"/resume", map[string]any{}, nil)
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	return c.do(ctx, opCancelSub, http.MethodPost, "/v2/subscriptions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	backoff := retry.WithMaxRetries(c.cfg.MaxAttempts-1,
		retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.BaseBackoff)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.send(ctx, op, method, path, body, out)
		if faults.Retryable(err) {
			c.logger.Debug().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient payment provider failure")
			return retry.RetryableError(err)
		}
		return err
	})
	metrics.PaymentRequests.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		c.logger.Warn().Err(err).Str("operation", op).Msg("payment provider call failed")
	}
	return err
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Operation: op, Message: err.Error(), kind: faults.ErrTransient}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return newAPIError(op, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), kind: faults.ErrTransient}
		}
	}
	return nil
}

// ErrorDetail is one entry of the provider's errors array.
type ErrorDetail struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// APIError is a failed call to the provider. It matches one of the faults
// classes with errors.Is.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Errors     []ErrorDetail
	kind       error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("square %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("square %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Code returns the first provider error code, if any.
func (e *APIError) Code() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Code
}

func newAPIError(op string, status int, raw []byte) *APIError {
	var body struct {
		Errors []ErrorDetail `json:"errors"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &APIError{Operation: op, StatusCode: status, Errors: body.Errors, Message: http.StatusText(status)}
	if len(body.Errors) > 0 {
		e.Message = body.Errors[0].Code
		if body.Errors[0].Detail != "" {
			e.Message += ": " + body.Errors[0].Detail
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.kind = faults.ErrAuthenticationExpired
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		e.kind = faults.ErrTransient
	case status == http.StatusPaymentRequired || (len(body.Errors) > 0 && body.Errors[0].Category == "PAYMENT_METHOD_ERROR"):
		e.kind = ErrPaymentDeclined
	default:
		e.kind = faults.ErrSemanticRejection
	}
	return e
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, faults.ErrTransient):
		return "transient"
	case errors.Is(err, ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, faults.ErrSemanticRejection):
		return "rejected"
	default:
		return "error"
	}
}
