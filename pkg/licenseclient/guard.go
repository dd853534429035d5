package licenseclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
)

type State string

const (
	StateUnconfigured State = "unconfigured"
	StateActive       State = "active"
	StateInactive     State = "inactive"
	StateDegraded     State = "degraded"
	StateUnreachable  State = "unreachable"
)

// Status is an operator-facing summary of the last check.
type Status struct {
	State     State        `json:"state"`
	Message   string       `json:"message,omitempty"`
	Data      *LicenseData `json:"data,omitempty"`
	CheckedAt *time.Time   `json:"checked_at,omitempty"`
	Degraded  int64        `json:"degraded_total"`
}

// Guard answers "may this installation take payments" for one set of
// credentials. A valid verdict younger than the fast-path TTL is trusted
// without a network call.
type Guard struct {
	client      *Client
	creds       Credentials
	fastPathTTL time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu        sync.Mutex
	last      Status
	lastData  *LicenseData
	checkedAt time.Time
}

func NewGuard(client *Client, creds Credentials, fastPathTTL time.Duration, logger *zap.Logger) *Guard {
	if fastPathTTL <= 0 {
		fastPathTTL = DefaultFastPathTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		client:      client,
		creds:       creds,
		fastPathTTL: fastPathTTL,
		now:         time.Now,
		logger:      logger,
		last:        Status{State: StateUnconfigured},
	}
}

func (g *Guard) Active(ctx context.Context) (bool, error) {
	if !g.creds.Complete() {
		return false, nil
	}
	if store := g.client.rc.Store(); store != nil {
		v, ok, err := store.Get(ctx, g.creds.CacheKey())
		if err != nil {
			g.logger.Warn("license cache read failed", zap.Error(err))
		} else if ok && v.Valid && v.FreshWithin(g.now(), g.fastPathTTL) {
			return true, nil
		}
	}
	v, err := g.Refresh(ctx)
	if err != nil {
		return false, err
	}
	return v.Valid && !v.Failed(), nil
}

// Refresh always asks the server, bypassing the fast path.
func (g *Guard) Refresh(ctx context.Context) (Verdict, error) {
	if !g.creds.Complete() {
		g.record(Status{State: StateUnconfigured})
		return Verdict{}, nil
	}
	v, err := g.client.Validate(ctx, g.creds)
	if err != nil {
		return Verdict{}, err
	}

	st := Status{Message: v.Message, Data: v.Data}
	switch {
	case v.Degraded():
		st.State = StateInactive
		if v.Valid {
			st.State = StateDegraded
		}
		g.logger.Warn("license server unreachable, using cached verdict", zap.Bool("valid", v.Valid))
	case v.Succeeded() && v.Valid:
		st.State = StateActive
	case v.Succeeded():
		st.State = StateInactive
		g.logger.Info("license rejected", zap.String("message", v.Message))
	case v.Err != nil && v.Err.Kind == resilient.KindRemoteUnavailable:
		st.State = StateUnreachable
		g.logger.Warn("license server unreachable and no usable cache", zap.Int("attempts", v.Attempts))
	default:
		st.State = StateInactive
		g.logger.Info("license check failed", zap.String("kind", string(v.Err.Kind)), zap.String("message", v.Message))
	}
	g.record(st)
	return v, nil
}

func (g *Guard) record(st Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st.Data != nil {
		g.lastData = st.Data
	} else if st.State == StateDegraded {
		st.Data = g.lastData
	}
	g.checkedAt = g.now()
	g.last = st
}

func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.last
	if !g.checkedAt.IsZero() {
		at := g.checkedAt
		st.CheckedAt = &at
	}
	st.Degraded = g.client.rc.DegradedCount()
	return st
}

// DefaultCheckInterval is used when RunPeriodic gets a non-positive interval.
const DefaultCheckInterval = 24 * time.Hour

// RunPeriodic refreshes the verdict every interval until ctx is done.
func (g *Guard) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		g.logger.Warn("non-positive license check interval; using default", zap.Duration("interval", interval), zap.Duration("default", DefaultCheckInterval))
		interval = DefaultCheckInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := g.Refresh(ctx); err != nil {
				g.logger.Error("periodic license check", zap.Error(err))
			}
		}
	}
}
