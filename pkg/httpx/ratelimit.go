package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// FixedWindowLimiter allows at most limit hits per key in each window.
// A nil limiter or a non-positive limit allows everything.
type FixedWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	byKey  map[string]windowState
	now    func() time.Time
}

type windowState struct {
	start time.Time
	count int
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		byKey:  map[string]windowState{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *FixedWindowLimiter) Allow(key string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.byKey[key]
	if cur.start.IsZero() || now.Sub(cur.start) >= l.window {
		l.byKey[key] = windowState{start: now, count: 1}
		l.sweep(now)
		return true
	}
	if cur.count >= l.limit {
		return false
	}
	cur.count++
	l.byKey[key] = cur
	return true
}

// sweep drops expired windows once the table grows. Caller holds mu.
func (l *FixedWindowLimiter) sweep(now time.Time) {
	if len(l.byKey) < 4096 {
		return
	}
	for k, st := range l.byKey {
		if now.Sub(st.start) >= l.window {
			delete(l.byKey, k)
		}
	}
}

// RateLimit rejects requests over the per-client-IP budget with reject.
func RateLimit(l *FixedWindowLimiter, scope string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now().UTC()
			if l != nil && l.now != nil {
				now = l.now()
			}
			if !l.Allow(scope+":"+ClientIP(r), now) {
				if reject == nil {
					WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
					return
				}
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the connection's remote address.
// Forwarded headers are ignored here; deployments behind a proxy rewrite
// RemoteAddr first with chi's middleware.RealIP.
func ClientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
