package replay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewMemoryGuard(func() time.Time { return now })
	ctx := context.Background()

	seen, err := g.Seen(ctx, "cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = g.Seen(ctx, "cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = g.Seen(ctx, "cert-2", "nonceA", time.Minute)
	require.NoError(t, err)
	require.False(t, seen, "scopes are independent")

	now = now.Add(2 * time.Minute)
	seen, err = g.Seen(ctx, "cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.False(t, seen, "window elapsed")

	_, err = g.Seen(ctx, "cert-1", "  ", time.Minute)
	require.ErrorIs(t, err, ErrEmptyNonce)
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	g := NewRedisGuard(rdb)
	ctx := context.Background()

	seen, err := g.Seen(ctx, "Cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)
	require.True(t, mr.Exists("nonce:cert-1:nonceA"))

	seen, err = g.Seen(ctx, "cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.True(t, seen)

	mr.FastForward(61 * time.Second)
	seen, err = g.Seen(ctx, "cert-1", "nonceA", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisGuardUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisGuard(rdb).Seen(context.Background(), "cert-1", "nonceA", time.Minute)
	require.Error(t, err)
}
