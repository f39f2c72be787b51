// Package ratelimiter provides a Redis-backed sliding-window limiter for
// deployments that run more than one bot process against the same upstream
// quota.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:sw:"

// Stats is a point-in-time snapshot of a RedisSlidingLimiter.
type Stats struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
	Errors  int64 `json:"errors"`
}

// RedisSlidingLimiter keeps each key's request log in a sorted set scored by
// request time. Pruning, counting and recording happen atomically in one
// Lua script.
type RedisSlidingLimiter struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time

	allowed atomic.Int64
	denied  atomic.Int64
	errors  atomic.Int64
}

// NewRedisSlidingLimiter returns nil when rdb is nil.
func NewRedisSlidingLimiter(rdb *redis.Client) *RedisSlidingLimiter {
	if rdb == nil {
		return nil
	}
	return &RedisSlidingLimiter{
		redis:  rdb,
		script: redis.NewScript(luaSlidingWindowScript),
		now:    time.Now,
	}
}

// Scores are milliseconds. Entries with score <= now-window have left the
// window; a denied attempt is not recorded.
const luaSlidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  return { 0, count }
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return { 1, count + 1 }
`

// CheckLimit implements the sliding-window contract against Redis. On Redis
// errors it fails open: the request is allowed and the error returned for
// logging.
func (l *RedisSlidingLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.redis == nil || limit <= 0 {
		return true, nil
	}
	now := l.now()
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := l.script.Run(ctx, l.redis, []string{keyPrefix + key},
		now.UnixMilli(), windowMs, limit, ulid.Make().String()).Result()
	if err != nil {
		l.errors.Add(1)
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		l.errors.Add(1)
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, nil
	}
	if toInt64(vals[0]) != 1 {
		l.denied.Add(1)
		return false, nil
	}
	l.allowed.Add(1)
	return true, nil
}

// Reset drops the request log for key.
func (l *RedisSlidingLimiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, keyPrefix+key).Err()
}

// Stats returns a snapshot of the limiter counters.
func (l *RedisSlidingLimiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Allowed: l.allowed.Load(),
		Denied:  l.denied.Load(),
		Errors:  l.errors.Load(),
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
