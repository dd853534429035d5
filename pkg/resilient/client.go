package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSucceeded
	OutcomeDegraded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// RequestFunc builds the request for one attempt. It is called again for every
// retry so that per-attempt headers (nonces, timestamps) are never reused.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// DecideFunc turns a 2xx response of a verification call into a verdict. An
// error means the body could not be understood.
type DecideFunc func(resp *Response) (bool, error)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is the tagged answer of a call. Err is set only when Outcome is
// OutcomeFailed.
type Result struct {
	Outcome  Outcome
	Valid    bool
	Response *Response
	Attempts int
	Cached   *CachedVerdict
	Err      *Error
}

func (r Result) Succeeded() bool { return r.Outcome == OutcomeSucceeded }
func (r Result) Degraded() bool  { return r.Outcome == OutcomeDegraded }
func (r Result) Failed() bool    { return r.Outcome == OutcomeFailed }

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithPolicy(p RetryPolicy) Option       { return func(c *Client) { c.policy = p } }
func WithVerdictStore(s VerdictStore) Option {
	return func(c *Client) { c.store = s }
}
func WithDegradedTTL(d time.Duration) Option { return func(c *Client) { c.degradedTTL = d } }
func WithSleeper(s Sleeper) Option           { return func(c *Client) { c.sleep = s } }
func WithClock(now func() time.Time) Option  { return func(c *Client) { c.now = now } }
func WithLogger(l *zap.Logger) Option        { return func(c *Client) { c.logger = l } }
func WithName(name string) Option            { return func(c *Client) { c.name = name } }

type Client struct {
	name        string
	http        *http.Client
	policy      RetryPolicy
	store       VerdictStore
	degradedTTL time.Duration
	sleep       Sleeper
	now         func() time.Time
	logger      *zap.Logger

	degraded atomic.Int64
}

func New(opts ...Option) (*Client, error) {
	c := &Client{
		name:        "resilient",
		http:        &http.Client{},
		policy:      DefaultPolicy(),
		degradedTTL: DefaultDegradedTTL,
		sleep:       sleepContext,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	if c.degradedTTL <= 0 {
		return nil, fmt.Errorf("resilient: degraded ttl must be positive")
	}
	if c.http == nil || c.sleep == nil || c.now == nil || c.logger == nil {
		return nil, fmt.Errorf("resilient: nil dependency")
	}
	c.logger = c.logger.With(zap.String("client", c.name))
	return c, nil
}

// DegradedCount is the number of answers served from cache since start.
func (c *Client) DegradedCount() int64 { return c.degraded.Load() }

func (c *Client) DegradedTTL() time.Duration { return c.degradedTTL }

// Store is the verdict store Verify reads and writes, or nil.
func (c *Client) Store() VerdictStore { return c.store }

// Do runs a non-verification call. It never degrades.
func (c *Client) Do(ctx context.Context, build RequestFunc) (Result, error) {
	if build == nil {
		return Result{}, fmt.Errorf("resilient: nil request builder")
	}
	resp, attempts, rerr := c.run(ctx, build)
	if rerr != nil {
		res := failed(rerr, attempts)
		res.Response = resp
		return res, nil
	}
	return Result{Outcome: OutcomeSucceeded, Valid: true, Response: resp, Attempts: attempts}, nil
}

// Verify runs a verification call keyed by key. A completed 2xx answer is
// decided by decide and written to the verdict store; a 4xx answer drops the
// stored verdict; exhausted retries fall back to a verdict younger than the
// degraded TTL.
func (c *Client) Verify(ctx context.Context, key string, build RequestFunc, decide DecideFunc) (Result, error) {
	if build == nil || decide == nil {
		return Result{}, fmt.Errorf("resilient: nil request builder or decider")
	}
	if key == "" {
		return Result{}, fmt.Errorf("resilient: empty verdict key")
	}
	resp, attempts, rerr := c.run(ctx, build)
	if rerr == nil {
		valid, err := decide(resp)
		if err != nil {
			e := &Error{Kind: KindMalformedResponse, Cause: CauseMalformed, StatusCode: resp.StatusCode, Attempts: attempts, Err: err}
			res := failed(e, attempts)
			res.Response = resp
			return res, nil
		}
		c.remember(ctx, key, valid)
		return Result{Outcome: OutcomeSucceeded, Valid: valid, Response: resp, Attempts: attempts}, nil
	}

	switch rerr.Kind {
	case KindAuthenticationRejected, KindRejected:
		if rerr.StatusCode >= 400 && rerr.StatusCode < 500 && rerr.Cause != CauseRateLimited {
			c.forget(ctx, key)
		}
		res := failed(rerr, attempts)
		res.Response = resp
		return res, nil
	case KindRemoteUnavailable:
		return c.degrade(ctx, key, rerr, attempts), nil
	default:
		return failed(rerr, attempts), nil
	}
}

func failed(e *Error, attempts int) Result {
	e.Attempts = attempts
	return Result{Outcome: OutcomeFailed, Attempts: attempts, Err: e}
}

func (c *Client) degrade(ctx context.Context, key string, cause *Error, attempts int) Result {
	if c.store == nil {
		return failed(cause, attempts)
	}
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("verdict store read failed", zap.Error(err))
		return failed(cause, attempts)
	}
	now := c.now()
	if !ok || !v.FreshWithin(now, c.degradedTTL) {
		c.logger.Warn("remote unavailable and no usable cached verdict",
			zap.Int("attempts", attempts),
			zap.String("cause", string(cause.Cause)),
			zap.Bool("cached", ok),
		)
		return failed(cause, attempts)
	}
	n := c.degraded.Add(1)
	c.logger.Warn("serving cached verdict, remote unavailable",
		zap.Bool("valid", v.Valid),
		zap.Duration("age", v.Age(now)),
		zap.Int("attempts", attempts),
		zap.String("cause", string(cause.Cause)),
		zap.Int64("degraded_total", n),
	)
	cached := v
	return Result{Outcome: OutcomeDegraded, Valid: v.Valid, Attempts: attempts, Cached: &cached}
}

func (c *Client) remember(ctx context.Context, key string, valid bool) {
	if c.store == nil {
		return
	}
	v := CachedVerdict{Valid: valid, ObservedAt: c.now(), TTL: c.degradedTTL}
	if err := c.store.Set(ctx, key, v); err != nil {
		c.logger.Warn("verdict store write failed", zap.Error(err))
	}
}

func (c *Client) forget(ctx context.Context, key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("verdict store delete failed", zap.Error(err))
	}
}

// run drives the attempt/backoff loop. It returns the first 2xx response, or
// the terminal failure together with the last response received, if any.
// Retryable failures that exhaust the budget come back as KindRemoteUnavailable.
func (c *Client) run(ctx context.Context, build RequestFunc) (*Response, int, *Error) {
	schedule := c.policy.schedule()
	var last *Error
	var lastResp *Response
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return lastResp, attempt - 1, canceled(ctx.Err())
		}
		resp, err := c.attempt(ctx, build)
		if err == nil {
			return resp, attempt, nil
		}
		lastResp = resp

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			var e *Error
			errors.As(perm.Err, &e)
			return resp, attempt, e
		}
		var e *Error
		errors.As(err, &e)
		last = e

		if attempt == c.policy.MaxAttempts {
			break
		}
		delay := schedule.NextBackOff()
		c.logger.Info("attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.String("cause", string(e.Cause)),
			zap.Int("status", e.StatusCode),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return lastResp, attempt, canceled(err)
		}
	}
	return lastResp, c.policy.MaxAttempts, &Error{
		Kind:       KindRemoteUnavailable,
		Cause:      last.Cause,
		StatusCode: last.StatusCode,
		Err:        last.Err,
	}
}

func canceled(err error) *Error {
	return &Error{Kind: KindCanceled, Cause: CauseCanceled, Err: err}
}

// attempt performs one bounded network call. Non-retryable failures are
// wrapped with backoff.Permanent.
func (c *Client) attempt(ctx context.Context, build RequestFunc) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()

	req, err := build(actx)
	if err != nil {
		return nil, backoff.Permanent(&Error{Kind: KindRejected, Cause: CauseRejected, Err: fmt.Errorf("build request: %w", err)})
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header.Clone(), Body: body}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	kind, cause := classifyStatus(resp.StatusCode)
	e := &Error{Kind: kind, Cause: cause, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	if c.policy.retryable(cause) {
		return resp, e
	}
	if kind == KindTransientNetwork {
		e.Kind = KindRejected
	}
	return resp, backoff.Permanent(e)
}

func (c *Client) transportError(parent context.Context, err error) error {
	kind, cause := classifyTransport(parent, err)
	e := &Error{Kind: kind, Cause: cause, Err: err}
	if kind == KindCanceled || !c.policy.retryable(cause) {
		return backoff.Permanent(e)
	}
	return e
}
