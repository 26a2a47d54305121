package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowIncr bumps the counter and arms its expiry in one round trip. The
// PTTL check re-arms a key that somehow lost its TTL instead of letting it
// count forever.
var windowIncr = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// FixedWindowAllow counts one request against scope's current window and
// reports whether the count is still within limit.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if err := c.ready(); err != nil {
		return false, 0, err
	}
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	count, err := windowIncr.Run(ctx, c.rdb, []string{c.RateLimitKey(scope)}, ms).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// CompareAndDelete deletes key if its value equals token and reports whether
// it did. Lease holders use it so they never drop a lease taken over by
// someone else after theirs expired.
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := compareAndDelete.Run(ctx, c.rdb, []string{key}, token).Int64()
	return n == 1, err
}
