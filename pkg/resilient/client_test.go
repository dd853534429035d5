package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, s *recordingSleeper, opts ...Option) *Client {
	t.Helper()
	policy := DefaultPolicy()
	policy.BaseDelay = 100 * time.Millisecond
	base := []Option{
		WithPolicy(policy),
		WithSleeper(s.sleep),
		WithClock(func() time.Time { return fixedNow }),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func getBuilder(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func decideSuccessField(resp *Response) (bool, error) {
	var body struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false, err
	}
	if body.Success == nil {
		return false, errors.New("missing success")
	}
	return *body.Success, nil
}

func timeoutTransport(calls *int32) http.RoundTripper {
	return roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(calls, 1)
		return nil, context.DeadlineExceeded
	})
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	c := newTestClient(t, s)
	res, err := c.Do(context.Background(), getBuilder(srv.URL))
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.delays)
	require.JSONEq(t, `{"ok":true}`, string(res.Response.Body))
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	c := newTestClient(t, s)
	res, err := c.Do(context.Background(), getBuilder(srv.URL))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Empty(t, s.delays)
	require.Equal(t, KindAuthenticationRejected, res.Err.Kind)
	require.Equal(t, http.StatusUnauthorized, res.Err.StatusCode)
}

func TestExhaustedServerErrorsAreRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	c := newTestClient(t, s)
	res, err := c.Do(context.Background(), getBuilder(srv.URL))
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, KindRemoteUnavailable, res.Err.Kind)
	require.Equal(t, CauseServerError, res.Err.Cause)
	require.Equal(t, 3, res.Attempts)
	require.Len(t, s.delays, 2)
}

func TestDoNeverDegrades(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "k", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-time.Hour), TTL: 24 * time.Hour}))

	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store), WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}))
	res, err := c.Do(context.Background(), getBuilder("http://license.invalid/"))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, int64(0), c.DegradedCount())
}

func TestVerifyDegradesToFreshCachedVerdict(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-time.Hour), TTL: 24 * time.Hour}))

	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store), WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}))
	res, err := c.Verify(context.Background(), "lic", getBuilder("http://license.invalid/"), decideSuccessField)
	require.NoError(t, err)
	require.Equal(t, OutcomeDegraded, res.Outcome)
	require.True(t, res.Valid)
	require.NotNil(t, res.Cached)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, int64(1), c.DegradedCount())
}

func TestVerifyRefusesExpiredCachedVerdict(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-25 * time.Hour), TTL: 24 * time.Hour}))

	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store), WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}))
	res, err := c.Verify(context.Background(), "lic", getBuilder("http://license.invalid/"), decideSuccessField)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.False(t, res.Valid)
	require.Equal(t, KindRemoteUnavailable, res.Err.Kind)
	require.Equal(t, CauseTimeout, res.Err.Cause)
	require.Equal(t, int64(0), c.DegradedCount())
}

func TestVerifyUsesConfiguredDegradedTTL(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-3 * time.Hour), TTL: 24 * time.Hour}))

	s := &recordingSleeper{}
	c := newTestClient(t, s,
		WithVerdictStore(store),
		WithDegradedTTL(2*time.Hour),
		WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}),
	)
	res, err := c.Verify(context.Background(), "lic", getBuilder("http://license.invalid/"), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Failed())
}

func TestVerifySuccessRefreshesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	store := NewMemoryStore()
	c := newTestClient(t, &recordingSleeper{}, WithVerdictStore(store))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.True(t, res.Valid)

	v, ok, err := store.Get(context.Background(), "lic")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, v.Valid)
	require.Equal(t, fixedNow, v.ObservedAt)
	require.Equal(t, DefaultDegradedTTL, v.TTL)
}

func TestVerifySuccessFalseCachesInvalidWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"success":false,"message":"suspended"}`))
	}))
	defer srv.Close()

	store := NewMemoryStore()
	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.False(t, res.Valid)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Empty(t, s.delays)

	v, ok, _ := store.Get(context.Background(), "lic")
	require.True(t, ok)
	require.False(t, v.Valid)
}

func TestVerifyRejectionDropsCachedVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow, TTL: time.Hour}))
	c := newTestClient(t, &recordingSleeper{}, WithVerdictStore(store))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, KindAuthenticationRejected, res.Err.Kind)

	_, ok, _ := store.Get(context.Background(), "lic")
	require.False(t, ok)
}

func TestVerifyRateLimitedKeepsCachedVerdict(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-3 * time.Hour), TTL: 24 * time.Hour}))
	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.Equal(t, OutcomeDegraded, res.Outcome)
	require.True(t, res.Valid)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, s.delays, 2)

	_, ok, _ := store.Get(context.Background(), "lic")
	require.True(t, ok)
}

func TestVerifyRateLimitedNotRetryableStillKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow, TTL: 24 * time.Hour}))
	policy := DefaultPolicy()
	policy.Retryable = map[Cause]bool{CauseTimeout: true}
	c := newTestClient(t, &recordingSleeper{}, WithVerdictStore(store), WithPolicy(policy))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, CauseRateLimited, res.Err.Cause)
	require.Equal(t, 1, res.Attempts)

	_, ok, _ := store.Get(context.Background(), "lic")
	require.True(t, ok)
}

func TestVerifyMalformedBodyLeavesCacheAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	store := NewMemoryStore()
	prior := CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-time.Minute), TTL: time.Hour}
	require.NoError(t, store.Set(context.Background(), "lic", prior))
	s := &recordingSleeper{}
	c := newTestClient(t, s, WithVerdictStore(store))
	res, err := c.Verify(context.Background(), "lic", getBuilder(srv.URL), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, KindMalformedResponse, res.Err.Kind)
	require.Equal(t, 1, res.Attempts)
	require.Empty(t, s.delays)

	v, ok, _ := store.Get(context.Background(), "lic")
	require.True(t, ok)
	require.Equal(t, prior, v)
}

func TestCancellationDuringBackoffNeverDegrades(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-time.Hour), TTL: 24 * time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c, err := New(
		WithSleeper(sleeper),
		WithClock(func() time.Time { return fixedNow }),
		WithVerdictStore(store),
		WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}),
	)
	require.NoError(t, err)

	res, err := c.Verify(ctx, "lic", getBuilder("http://license.invalid/"), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, KindCanceled, res.Err.Kind)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, int64(0), c.DegradedCount())

	v, ok, _ := store.Get(context.Background(), "lic")
	require.True(t, ok)
	require.Equal(t, fixedNow.Add(-time.Hour), v.ObservedAt)
}

func TestCanceledContextBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(t, &recordingSleeper{})
	res, err := c.Do(ctx, getBuilder("http://license.invalid/"))
	require.NoError(t, err)
	require.Equal(t, KindCanceled, res.Err.Kind)
	require.Equal(t, 0, res.Attempts)
}

func TestContractViolationsReturnErrors(t *testing.T) {
	_, err := New(WithPolicy(RetryPolicy{MaxAttempts: 0, AttemptTimeout: time.Second}))
	require.Error(t, err)

	c := newTestClient(t, &recordingSleeper{})
	_, err = c.Do(context.Background(), nil)
	require.Error(t, err)
	_, err = c.Verify(context.Background(), "", getBuilder("http://x/"), decideSuccessField)
	require.Error(t, err)
}

func TestEachAttemptRebuildsRequest(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("X-Attempt"))
		if len(seen) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := 0
	build := func(ctx context.Context) (*http.Request, error) {
		n++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Attempt", string(rune('0'+n)))
		return req, nil
	}
	c := newTestClient(t, &recordingSleeper{})
	res, err := c.Do(context.Background(), build)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.Equal(t, []string{"1", "2"}, seen)
}

func TestClassifyTransport(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		err   error
		cause Cause
	}{
		{"deadline", context.DeadlineExceeded, CauseTimeout},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, CauseConnRefused},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, CauseNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "license.invalid"}, CauseNetwork},
		{"other", errors.New("boom"), CauseUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, cause := classifyTransport(ctx, tc.err)
			require.Equal(t, tc.cause, cause)
		})
	}

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	kind, _ := classifyTransport(canceledCtx, context.Canceled)
	require.Equal(t, KindCanceled, kind)
}

func TestScheduleDoublesWithoutJitter(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, AttemptTimeout: time.Second}
	b := p.schedule()
	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 4*time.Second, b.NextBackOff())
}
