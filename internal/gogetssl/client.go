// Package gogetssl is the client for the GoGetSSL reseller API.
//
// Every call carries a request timeout and goes through a shared rate
// limiter. Transient failures (network errors, timeouts, 408, 429 and 5xx)
// are retried with exponential backoff up to MaxAttempts. A 401 or 403
// invalidates the cached credential and the call is retried once with a
// fresh one. Any other 4xx, or a 200 carrying an error envelope, is a
// semantic rejection and returns immediately.
package gogetssl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/metrics"
)

const (
	opAuth    = "auth"
	opSubmit  = "submit"
	opStatus  = "status"
	opReissue = "reissue"
	opList    = "list"

	maxResponseBytes = 4 << 20
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds each HTTP request, not the whole retried call.
	Timeout time.Duration
	// RateLimit is requests per second across the client. Zero disables it.
	RateLimit     float64
	CredentialTTL time.Duration
	MaxAttempts   uint64
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	cfg     Config
	http    *http.Client
	cache   CredentialCache
	limiter *rate.Limiter
	auth    singleflight.Group
	logger  zerolog.Logger
	now     func() time.Time
}

func NewClient(cfg Config, cache CredentialCache, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 50 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cache == nil {
		cache = NewMemoryCredentialCache()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		cache:   cache,
		limiter: limiter,
		logger:  logger.With().Str("component", "gogetssl").Logger(),
		now:     time.Now,
	}
}

// Submit places an order and returns the authority's order ID.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.WebserverType == "" {
		req.WebserverType = "other"
	}
	var resp submitResponse
	if err := c.call(ctx, opSubmit, http.MethodPost, "/orders/", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", &APIError{Operation: opSubmit, StatusCode: http.StatusOK, Message: "response carried no order id", kind: faults.ErrTransient}
	}
	return string(resp.OrderID), nil
}

// Status fetches the current authority view of an order.
func (c *Client) Status(ctx context.Context, externalOrderID string) (OrderDetails, error) {
	var details OrderDetails
	path := "/orders/" + url.PathEscape(externalOrderID) + "/"
	if err := c.call(ctx, opStatus, http.MethodGet, path, nil, nil, &details); err != nil {
		return OrderDetails{}, err
	}
	return details, nil
}

// Reissue asks the authority to reissue an order against a new CSR.
func (c *Client) Reissue(ctx context.Context, externalOrderID, csr, approverEmail string) error {
	path := "/orders/" + url.PathEscape(externalOrderID) + "/reissue/"
	return c.call(ctx, opReissue, http.MethodPost, path, nil, reissueRequest{CSR: csr, ApproverEmail: approverEmail}, nil)
}

// ListOrders returns one page of orders and the total count.
func (c *Client) ListOrders(ctx context.Context, opts ListOptions) ([]OrderDetails, int, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var resp listResponse
	if err := c.call(ctx, opList, http.MethodGet, "/orders/", q, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Orders, int(resp.Count), nil
}

// ListAllOrders pages through every order matching status.
func (c *Client) ListAllOrders(ctx context.Context, status string, pageSize int) ([]OrderDetails, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []OrderDetails
	for offset := 0; ; offset += pageSize {
		page, total, err := c.ListOrders(ctx, ListOptions{Status: status, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize || (total > 0 && len(all) >= total) {
			return all, nil
		}
	}
}

// ClearCredential drops the cached credential so the next call
// authenticates again.
func (c *Client) ClearCredential(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	backoff := retry.WithMaxRetries(c.cfg.MaxAttempts-1,
		retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.BaseBackoff)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.authenticated(ctx, op, method, path, query, body, out)
		if faults.Retryable(err) {
			c.logger.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient authority failure")
			return retry.RetryableError(err)
		}
		return err
	})

	metrics.AuthorityRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.AuthorityRequests.WithLabelValues(op, outcome(err)).Inc()
	return err
}

// authenticated sends one request, refreshing the credential once on 401/403.
func (c *Client) authenticated(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	cred, err := c.credential(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, op, method, path, query, body, out, cred.Key)
	if !errors.Is(err, faults.ErrAuthenticationExpired) {
		return err
	}

	c.logger.Info().Str("operation", op).Msg("credential refused, refreshing")
	if ierr := c.cache.Invalidate(ctx, cred); ierr != nil {
		c.logger.Warn().Err(ierr).Msg("invalidate credential")
	}
	cred, err = c.credential(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, method, path, query, body, out, cred.Key)
}

// credential returns a valid cached credential or authenticates. Concurrent
// callers share a single authentication.
func (c *Client) credential(ctx context.Context) (Credential, error) {
	if cred, ok := c.cached(ctx); ok {
		return cred, nil
	}

	ch := c.auth.DoChan("auth", func() (any, error) {
		authCtx := context.WithoutCancel(ctx)
		if cred, ok := c.cached(authCtx); ok {
			return cred, nil
		}
		cred, err := c.authenticate(authCtx)
		if err != nil {
			return Credential{}, err
		}
		if err := c.cache.Set(authCtx, cred); err != nil {
			c.logger.Warn().Err(err).Msg("store credential")
		}
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (c *Client) cached(ctx context.Context) (Credential, bool) {
	cred, ok, err := c.cache.Get(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read credential cache")
		return Credential{}, false
	}
	return cred, ok && cred.Valid(c.now())
}

func (c *Client) authenticate(ctx context.Context) (Credential, error) {
	var resp struct {
		Key string `json:"key"`
	}
	payload := map[string]string{"user": c.cfg.Username, "pass": c.cfg.Password}
	err := c.send(ctx, opAuth, http.MethodPost, "/auth/", nil, payload, &resp, "")
	metrics.AuthorityRequests.WithLabelValues(opAuth, outcome(err)).Inc()
	if err != nil {
		return Credential{}, err
	}
	if resp.Key == "" {
		return Credential{}, &APIError{Operation: opAuth, StatusCode: http.StatusOK, Message: "response carried no key", kind: faults.ErrAuthenticationExpired}
	}
	metrics.CredentialRefreshes.Inc()
	c.logger.Debug().Msg("authenticated with authority")
	return Credential{Key: resp.Key, ExpiresAt: c.now().Add(c.cfg.CredentialTTL)}, nil
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body, out any, key string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gogetssl %s: rate limit wait: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Operation: op, Message: err.Error(), kind: faults.ErrTransient}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "read body: " + err.Error(), kind: faults.ErrTransient}
	}

	if kind := classify(op, resp.StatusCode); kind != nil {
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status), kind: kind}
	}

	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error {
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: errorMessage(raw, "error"), kind: rejection(op)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), kind: faults.ErrTransient}
		}
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil {
		switch {
		case envelope.Description != "":
			return envelope.Description
		case envelope.Message != "":
			return envelope.Message
		}
	}
	return fallback
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, faults.ErrTransient):
		return "transient"
	case errors.Is(err, faults.ErrAuthenticationExpired):
		return "auth_expired"
	case errors.Is(err, faults.ErrSemanticRejection):
		return "rejected"
	default:
		return "error"
	}
}
