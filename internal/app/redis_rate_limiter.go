/**
 * @description
 * This file implements a fixed-window rate limiter backed by Redis. Counters are
 * kept per (scope, subject) key so callback floods and availability polling are
 * throttled per remote peer rather than globally, and the counter survives a
 * process restart because the window lives in Redis, not in memory.
 *
 * @notes
 * - INCR and PEXPIRE run as one Lua script; two racing requests can never both
 *   observe a fresh key and skip the expiry.
 * - A nil limiter, nil client or non-positive limit disables throttling, which
 *   keeps local development usable without a Redis instance.
 */

package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript bumps the counter and stamps the window expiry on first hit.
// It returns the running count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
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

// RedisRateLimiter throttles hot public endpoints, which attract aggressive
// polling in the minutes around sales opening.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "esupa:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: p}
}

// ConsumeRateLimit counts one hit for subject within scope and reports the running
// total plus the seconds until the window resets. The caller compares the count
// against its limit; this method never rejects by itself.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.prefix + ":" + scope + ":" + subject
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	hits, ok := reply[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", reply[0])
	}
	ttlMs, ok := reply[1].(int64)
	if !ok {
		return int(hits), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", reply[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(hits), retryAfter, nil
}
