package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var recurringThrottleScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements a distributed fixed-window rate limit keyed per
// user. Multiple instances of the service share the same counters, so the
// per-user cap holds across replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter with the given key prefix. A nil
// client yields a limiter that always grants capacity.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "recurring:throttle"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// Acquire consumes one slot of the user's window. It reports whether the
// operation may proceed and, when it may not, how long until the window
// resets. A misconfigured or absent limiter grants capacity unconditionally:
// throttling protects the store from burst load, but losing work to a limiter
// outage is worse than a burst.
func (r *RedisRateLimiter) Acquire(ctx context.Context, userID string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return true, 0, nil
	}

	normalizedUser := strings.TrimSpace(userID)
	if normalizedUser == "" {
		return true, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", r.prefix, normalizedUser)
	rawResult, err := recurringThrottleScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}

	allowed, retryAfter = throttleDecision(currentCount, ttlMs, limit, windowMs)
	return allowed, retryAfter, nil
}

// throttleDecision turns the script's {count, ttl} reply into the verdict.
// Counts up to the limit grant; anything past it waits for the window reset,
// never less than a second. A negative TTL (key expired between INCR and
// PTTL) falls back to the full window.
func throttleDecision(count, ttlMs int64, limit int, windowMs int64) (allowed bool, retryAfter time.Duration) {
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	if count <= int64(limit) {
		return true, 0
	}
	retryAfter = time.Duration(ttlMs) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}
