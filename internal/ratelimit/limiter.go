package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:rl:"

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per key in a sliding window kept in a Redis sorted
// set. Without Redis, or when Redis fails, every request is allowed.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// slidingWindow trims entries older than the window, admits the request when
// under the limit, and reports the oldest surviving entry so callers know when
// a slot frees up.
//
//	KEYS[1] bucket
//	ARGV    window start, now, limit, ttl seconds (times in unix micros)
//	returns {count, allowed, oldest}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    count = count + 1
    allowed = 1
end
redis.call('EXPIRE', key, ttl)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end
return {count, allowed, oldest_score}
`)

// Check records a request against key and reports whether it fits within
// limit requests per window.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := time.Now()
	if l.rdb == nil {
		return LimitResult{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	res, err := slidingWindow.Run(ctx, l.rdb, []string{keyPrefix + key},
		now.Add(-window).UnixMicro(), now.UnixMicro(), limit, int64(window.Seconds())+1,
	).Int64Slice()
	if err != nil || len(res) < 3 {
		slog.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return LimitResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	return resultAt(now, window, limit, res[0], res[1] == 1, time.UnixMicro(res[2])), nil
}

// resultAt derives the caller-facing result from the window state. A slot
// frees up once the oldest entry ages out.
func resultAt(now time.Time, window time.Duration, limit, count int64, allowed bool, oldest time.Time) LimitResult {
	resetAt := oldest.Add(window)
	if resetAt.Before(now) {
		resetAt = now
	}
	r := LimitResult{
		Allowed:   allowed,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		r.RetryAfter = resetAt.Sub(now)
	}
	return r
}
