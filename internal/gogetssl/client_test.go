package gogetssl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/faults"
)

// fakeAuthority issues key-1, key-2, ... from /auth/ and hands every other
// request to route.
type fakeAuthority struct {
	authCalls  atomic.Int32
	authDelay  time.Duration
	routeCalls atomic.Int32
	route      func(w http.ResponseWriter, r *http.Request, call int)
}

func (f *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/" {
		n := f.authCalls.Add(1)
		if f.authDelay > 0 {
			time.Sleep(f.authDelay)
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": fmt.Sprintf("key-%d", n)})
		return
	}
	n := f.routeCalls.Add(1)
	f.route(w, r, int(n))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeAuthority) (*Client, *MemoryCredentialCache) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cache := NewMemoryCredentialCache()
	c := NewClient(Config{
		BaseURL:     srv.URL,
		Username:    "reseller",
		Password:    "secret",
		Timeout:     100 * time.Millisecond,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, cache, zerolog.Nop())
	return c, cache
}

func TestSubmit(t *testing.T) {
	var got map[string]any
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"order_id": 1682136, "success": true})
	}}
	c, _ := newTestClient(t, fake)

	id, err := c.Submit(context.Background(), SubmitRequest{
		ProductID:      "71",
		CSR:            "-----BEGIN CERTIFICATE REQUEST-----",
		ValidityPeriod: 12,
		ApproverEmail:  "admin@example.com",
		DNSNames:       []string{"example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1682136", id)
	assert.Equal(t, "other", got["webserver_type"])
	assert.Equal(t, float64(12), got["validity_period"])
	assert.Equal(t, []any{"example.com"}, got["dns_names"])
	assert.Equal(t, int32(1), fake.authCalls.Load())
}

func TestStatusDecodesDetails(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.Equal(t, "/orders/1001/", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"order_id":          "1001",
			"status":            "active",
			"domain":            "example.com",
			"crt_code":          "CERT",
			"ca_code":           "BUNDLE",
			"valid_from":        "2025-01-01",
			"valid_till":        "2026-01-01",
			"base_domain_count": "1",
			"single_san_count":  0,
		})
	}}
	c, _ := newTestClient(t, fake)

	d, err := c.Status(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "active", d.Status)
	assert.Equal(t, "CERT", d.Certificate)
	assert.Equal(t, "BUNDLE", d.CABundle)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), d.ValidTill.Time)
	assert.Equal(t, FlexInt(1), d.BaseDomainCount)
	assert.False(t, d.SANOnly())
}

func TestStatusRefreshesCredentialOnce(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, call int) {
		if call == 1 {
			assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": true, "message": "expired"})
			return
		}
		assert.Equal(t, "Bearer key-2", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"status": "processing"})
	}}
	c, cache := newTestClient(t, fake)

	d, err := c.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "processing", d.Status)
	assert.Equal(t, int32(2), fake.authCalls.Load())

	cred, ok, _ := cache.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "key-2", cred.Key)
}

func TestStatusAuthRefusedTwice(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusForbidden)
	}}
	c, _ := newTestClient(t, fake)

	_, err := c.Status(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrAuthenticationExpired)
	assert.False(t, faults.Retryable(err))
	assert.Equal(t, int32(2), fake.routeCalls.Load())
	assert.Equal(t, int32(2), fake.authCalls.Load())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, call int) {
		if call < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "active"})
	}}
	c, _ := newTestClient(t, fake)

	d, err := c.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "active", d.Status)
	assert.Equal(t, int32(3), fake.routeCalls.Load())
}

func TestTransientFailuresExhaustAttempts(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusTooManyRequests)
	}}
	c, _ := newTestClient(t, fake)

	_, err := c.Status(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransient)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(3), fake.routeCalls.Load())
}

func TestTimeoutIsTransient(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, _ int) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}}
	c, _ := newTestClient(t, fake)

	_, err := c.Status(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransient)
	assert.Equal(t, int32(3), fake.routeCalls.Load())
}

func TestSubmitRejection(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": true, "description": "CSR is invalid"})
	}}
	c, _ := newTestClient(t, fake)

	_, err := c.Submit(context.Background(), SubmitRequest{ProductID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionRejected)
	assert.ErrorIs(t, err, faults.ErrSemanticRejection)
	assert.Contains(t, err.Error(), "CSR is invalid")
	assert.Equal(t, int32(1), fake.routeCalls.Load())
}

func TestErrorEnvelopeOnSuccessStatus(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"error": true, "message": "order not found"})
	}}
	c, _ := newTestClient(t, fake)

	err := c.Reissue(context.Background(), "1", "csr", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrSemanticRejection)
	assert.NotErrorIs(t, err, ErrSubmissionRejected)
	assert.Equal(t, int32(1), fake.routeCalls.Load())
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, _ int) {
		cancel()
		<-r.Context().Done()
	}}
	c, _ := newTestClient(t, fake)

	_, err := c.Status(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, faults.Retryable(err))
	assert.Equal(t, int32(1), fake.routeCalls.Load())
}

func TestConcurrentCallersShareOneAuthentication(t *testing.T) {
	fake := &fakeAuthority{
		authDelay: 30 * time.Millisecond,
		route: func(w http.ResponseWriter, _ *http.Request, _ int) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "processing"})
		},
	}
	c, _ := newTestClient(t, fake)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Status(context.Background(), "1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.authCalls.Load())
}

func TestListAllOrdersPages(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		orders := []map[string]any{
			{"order_id": 1, "base_domain_count": 1},
			{"order_id": 2, "base_domain_count": 0, "single_san_count": 2},
		}
		if r.URL.Query().Get("offset") == "2" {
			orders = []map[string]any{{"order_id": 3, "base_domain_count": 1}}
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": 3})
	}}
	c, _ := newTestClient(t, fake)

	all, err := c.ListAllOrders(context.Background(), "active", 2)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int32(2), fake.routeCalls.Load())

	kept := ExcludeSANOnly(all)
	require.Len(t, kept, 2)
	assert.Equal(t, FlexString("1"), kept[0].OrderID)
	assert.Equal(t, FlexString("3"), kept[1].OrderID)
}

func TestClearCredential(t *testing.T) {
	fake := &fakeAuthority{route: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "active"})
	}}
	c, cache := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.Status(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, c.ClearCredential(ctx))
	_, ok, _ := cache.Get(ctx)
	assert.False(t, ok)

	_, err = c.Status(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.authCalls.Load())
}

func TestDateDecoding(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2026-01-01"`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{`"2026-01-01 10:30:00"`, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)},
		{`""`, time.Time{}},
		{`"0000-00-00"`, time.Time{}},
		{`null`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Date
			require.NoError(t, json.Unmarshal([]byte(tt.in), &d))
			assert.True(t, tt.want.Equal(d.Time))
		})
	}

	var d Date
	assert.Error(t, json.Unmarshal([]byte(`"next tuesday"`), &d))
	assert.Nil(t, Date{}.Ptr())
}
