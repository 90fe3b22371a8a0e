package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisx "github.com/kirinyoku/reservo/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Sliding window over a sorted set of hit timestamps. Rejected hits are
// not recorded, so a client hammering the endpoint is not locked out longer
// than one window.
//
// KEYS[1] key, ARGV: now_ms, window_ms, limit, member.
// Returns {allowed, retry_ms}.
const luaSlidingWindow = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)

if redis.call('ZCARD', KEYS[1]) >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = math.max(0, window - (now - tonumber(oldest[2])))
  end
  return {0, retry}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, 0}
`

// SlidingWindowLimiter caps how many hits one subject may make per window.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script
	now    func() time.Time
}

func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindow),
		now:    time.Now,
	}
}

// Allow records a hit for subject and reports whether it fits the window.
// When it does not, retryAfter says when the oldest hit expires.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, subject string) (allowed bool, retryAfter time.Duration, err error) {
	const op = "redis.SlidingWindowLimiter.Allow"

	key := redisx.KeyRateLimit(l.scope, subject)
	nowMs := l.now().UnixMilli()
	winMs := l.window.Milliseconds()
	member := uuid.NewString()

	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{key},
		nowMs, winMs, l.limit, member,
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return false, 0, fmt.Errorf("%s: unexpected script result %v", op, res)
	}

	return toInt(arr[0]) == 1, time.Duration(toInt(arr[1])) * time.Millisecond, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
