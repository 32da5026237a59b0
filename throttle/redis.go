// Package throttle implements auth.Limiter on top of Redis.
package throttle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter is a fixed-window counter: at most Limit calls per key within
// Window. The window starts with the first call for a key.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "auth:throttle"
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts the call and reports whether it is within the limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("redis limiter is not configured")
	}

	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= l.limit, nil
}

// Reset drops the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return errors.New("redis limiter is not configured")
	}
	return l.client.Del(ctx, l.key(key)).Err()
}

func (l *RedisLimiter) key(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "global"
	}
	return l.prefix + ":" + key
}
