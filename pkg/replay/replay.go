// Package replay remembers message nonces for a window so a signed delivery
// cannot be accepted twice.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrEmptyNonce = errors.New("replay: nonce is empty")

type Guard interface {
	// Seen records nonce under scope for ttl and reports whether it had
	// already been recorded inside its window.
	Seen(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error)
}

func key(scope, nonce string) (string, error) {
	n := strings.TrimSpace(nonce)
	if n == "" {
		return "", ErrEmptyNonce
	}
	s := strings.ToLower(strings.TrimSpace(scope))
	if s == "" {
		return "nonce:" + n, nil
	}
	return "nonce:" + s + ":" + n, nil
}

type MemoryGuard struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{now: now, seen: make(map[string]time.Time)}
}

func (g *MemoryGuard) Seen(_ context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	k, err := key(scope, nonce)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for sk, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, sk)
		}
	}
	if _, ok := g.seen[k]; ok {
		return true, nil
	}
	g.seen[k] = now.Add(ttl)
	return false, nil
}

type RedisGuard struct {
	rdb redis.UniversalClient
}

func NewRedisGuard(rdb redis.UniversalClient) *RedisGuard {
	return &RedisGuard{rdb: rdb}
}

func (g *RedisGuard) Seen(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	k, err := key(scope, nonce)
	if err != nil {
		return false, err
	}
	ok, err := g.rdb.SetNX(ctx, k, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis setnx: %w", err)
	}
	return !ok, nil
}
