package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, ARGV[1] - ARGV[2])
if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// SlidingWindowLimiter admits at most limit events per key within any
// rolling window. Each admitted event is recorded as a timestamped entry;
// stale entries are pruned on every attempt, so after the window fully
// elapses admission resets. State lives in Redis, keyed by logical
// identity (connection id, client IP), never per room.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisSlidingWindowLimiter creates a Redis-backed limiter.
func NewRedisSlidingWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bridgetalk:ratelimit"
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Allow reports whether the key is within quota, recording the attempt
// when admitted. On Redis failures it fails closed and returns false.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	nowMs := time.Now().UTC().UnixMilli()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := slidingWindowScript.Run(ctx, l.redisClient,
		[]string{l.redisPrefix + ":" + key},
		nowMs, l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		return false
	}
	return res == 1
}

// Reset discards the window for a key; called when a connection goes away.
func (l *SlidingWindowLimiter) Reset(key string) {
	if l == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.redisClient.Del(ctx, l.redisPrefix+":"+key).Err()
}
