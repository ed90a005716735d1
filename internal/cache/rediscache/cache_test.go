package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-search/internal/search"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := New(context.Background(), Config{Addr: mr.Addr(), KeyPrefix: "ps:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, mr := newTestCache(t)
	rating := 4.5
	payload := search.ResultPayload{
		Query:    "coffee",
		Location: "Austin, TX",
		Center:   search.Coordinates{Lat: 30.267, Lng: -97.743},
		Results:  []search.Listing{{Name: "Epoch", Rating: &rating, Reviews: 90}},
		Count:    1,
	}
	key := search.CacheKey("coffee", payload.Center)

	require.NoError(t, cache.Set(ctx, key, payload, 10*time.Minute))
	require.True(t, mr.Exists("ps:"+key), "key written under prefix")
	require.Equal(t, 10*time.Minute, mr.TTL("ps:"+key))

	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestRedisCacheExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, mr := newTestCache(t)
	require.NoError(t, cache.Set(ctx, "k", search.ResultPayload{Query: "tea", Results: []search.Listing{}}, time.Minute))

	mr.FastForward(time.Minute + time.Second)
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheMissAndCorruptValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, mr := newTestCache(t)

	_, ok, err := cache.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mr.Set("ps:broken", "{not json"))
	_, ok, err = cache.Get(ctx, "broken")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRedisCacheUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewWithClient(rdb, "")
	mr.Close()

	_, _, err := cache.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, cache.Set(context.Background(), "k", search.ResultPayload{}, time.Minute))
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
