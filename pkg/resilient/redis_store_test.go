package resilient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "")
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "lic")
	require.NoError(t, err)
	require.False(t, ok)

	v := CachedVerdict{Valid: true, ObservedAt: fixedNow, TTL: time.Hour}
	require.NoError(t, store.Set(ctx, "lic", v))
	require.True(t, mr.Exists("verdict:lic"))

	got, ok, err := store.Get(ctx, "lic")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Valid)
	require.True(t, got.ObservedAt.Equal(fixedNow))

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.Get(ctx, "lic")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "p:")
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow, TTL: time.Hour}))
	require.NoError(t, store.Delete(ctx, "lic"))
	require.False(t, mr.Exists("p:lic"))
}

func TestRedisStoreBacksDegradedMode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "")
	require.NoError(t, store.Set(context.Background(), "lic", CachedVerdict{Valid: true, ObservedAt: fixedNow.Add(-time.Hour), TTL: 24 * time.Hour}))

	var calls int32
	c := newTestClient(t, &recordingSleeper{}, WithVerdictStore(store), WithHTTPClient(&http.Client{Transport: timeoutTransport(&calls)}))
	res, err := c.Verify(context.Background(), "lic", getBuilder("http://license.invalid/"), decideSuccessField)
	require.NoError(t, err)
	require.True(t, res.Degraded())
	require.True(t, res.Valid)
}
