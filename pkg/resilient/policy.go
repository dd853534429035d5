package resilient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// DefaultRetryable is the set of causes retried when a policy leaves Retryable nil.
var DefaultRetryable = map[Cause]bool{
	CauseTimeout:     true,
	CauseConnRefused: true,
	CauseTLS:         true,
	CauseNetwork:     true,
	CauseServerError: true,
	CauseRateLimited: true,
}

type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Retryable      map[Cause]bool
}

func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("resilient: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("resilient: base delay must not be negative")
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("resilient: attempt timeout must be positive")
	}
	return nil
}

func (p RetryPolicy) retryable(c Cause) bool {
	set := p.Retryable
	if set == nil {
		set = DefaultRetryable
	}
	return set[c]
}

// schedule yields BaseDelay, 2*BaseDelay, 4*BaseDelay, ... capped at MaxDelay,
// without jitter. A fresh schedule is built per call.
func (p RetryPolicy) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < p.BaseDelay {
		b.MaxInterval = p.BaseDelay
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Nanosecond
	}
	b.Reset()
	return b
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
