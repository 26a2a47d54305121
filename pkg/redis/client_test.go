package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromUniversal(rdb), mr
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	for i, want := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, "tenant:a", 2, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, allowed, "call %d", i+1)
		assert.EqualValues(t, i+1, count)
	}
	ttl := mr.TTL("credits:rate_limit:tenant:a")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)

	mr.FastForward(2 * time.Second)
	allowed, count, err := client.FixedWindowAllow(ctx, "tenant:a", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, count, "new window starts from zero")
}

func TestFixedWindowAllowRearmsMissingTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	require.NoError(t, mr.Set("credits:rate_limit:tenant:b", "5"))

	_, count, err := client.FixedWindowAllow(ctx, "tenant:b", 10, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 6, count)
	assert.Greater(t, mr.TTL("credits:rate_limit:tenant:b"), time.Duration(0))
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	require.NoError(t, client.Set(ctx, "credits:lock:cron", "token-1", time.Minute))

	deleted, err := client.CompareAndDelete(ctx, "credits:lock:cron", "token-2")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("credits:lock:cron"))

	deleted, err = client.CompareAndDelete(ctx, "credits:lock:cron", "token-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("credits:lock:cron"))
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	k := client.IdempotencyKey("consume", "req-1")

	ok, err := client.SetNX(ctx, k, "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.SetNX(ctx, k, "pending", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Del(ctx, k))
	require.NoError(t, client.Del(ctx))
	_, err = client.Get(ctx, k)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClientErrors(t *testing.T) {
	var client *Client
	assert.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, err := (&Client{}).SetNX(context.Background(), "k", "v", time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	_, _, err = (&Client{}).FixedWindowAllow(context.Background(), "s", 1, time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeyLayout(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "credits:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "credits:rate_limit:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "credits:counter:hits", client.CounterKey("hits"))
	assert.Equal(t, "credits:lock:cron", client.LockKey(" cron "))
	assert.Equal(t, "credits:cache:tenants", client.CacheKey("tenants", ""))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6380/2", DB: 5, PoolSize: 7, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB, "db from the url wins")
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", Password: "pw", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
}
