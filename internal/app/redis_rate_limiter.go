/**
 * @description
 * Redis-backed transfer submission limiter. Each (scope, subject) pair gets a
 * counter key with a fixed expiry window; the INCR and PEXPIRE run inside a
 * Lua script so the counter and its window are set atomically across service
 * replicas.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script execution.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRateWindow floors the counting window; sub-second windows would make the
// Retry-After header meaningless.
const minRateWindow = time.Second

var rateWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
return {hits, remaining}
`)

// RateLimitResult reports one consumption against a windowed limit. When
// Allowed is false, RetryAfter says how long until the window resets, rounded
// up to whole seconds.
type RateLimitResult struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RedisTransferRateLimiter counts submissions per subject in fixed
// Redis-expiry windows shared across service replicas.
type RedisTransferRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTransferRateLimiter(client redis.UniversalClient, prefix string) *RedisTransferRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "hashpay:rate_limit"
	}
	return &RedisTransferRateLimiter{client: client, prefix: p}
}

// ConsumeRateLimit records one submission and decides whether it fits inside
// the limit. A nil client or a non-positive limit disables limiting; errors
// are returned for the caller to decide fail-open or fail-closed.
func (r *RedisTransferRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateLimitResult, error) {
	open := RateLimitResult{Allowed: true}

	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return open, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return open, nil
	}
	if window < minRateWindow {
		window = minRateWindow
	}

	key := r.prefix + ":" + scope + ":" + subject
	reply, err := rateWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return open, err
	}

	hits, remaining, err := parseRateReply(reply)
	if err != nil {
		return open, err
	}
	if remaining <= 0 {
		// PTTL returns a negative sentinel when the key has no expiry, which
		// can only happen if the key outlived the script's PEXPIRE.
		remaining = window
	}

	return RateLimitResult{
		Allowed:    hits <= limit,
		Count:      hits,
		RetryAfter: ceilToSecond(remaining),
	}, nil
}

// parseRateReply unpacks the {hits, remaining-ms} pair the Lua script returns.
func parseRateReply(reply interface{}) (int, time.Duration, error) {
	pair, ok := reply.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("malformed limiter reply: %T", reply)
	}
	hits, ok := pair[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("malformed limiter hit count: %T", pair[0])
	}
	remainingMs, ok := pair[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("malformed limiter ttl: %T", pair[1])
	}
	return int(hits), time.Duration(remainingMs) * time.Millisecond, nil
}

func ceilToSecond(d time.Duration) time.Duration {
	rounded := d.Truncate(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	if rounded < time.Second {
		rounded = time.Second
	}
	return rounded
}
