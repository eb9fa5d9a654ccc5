package memstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// FallbackMode decides rate-limit behaviour when the store is unavailable.
type FallbackMode string

const (
	FallbackAllow FallbackMode = "allow"
	FallbackDeny  FallbackMode = "deny"
)

// tokenBucketScript refills the bucket linearly with elapsed time, caps at
// the rate, and subtracts the requested amount when sufficient. Runs
// server-side so concurrent checks stay atomic.
//
// KEYS[1] bucket hash  ARGV: rate, period_seconds, requested, now_seconds
// Returns {allowed, remaining_millitokens}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil or last == nil then
	tokens = rate
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = math.min(rate, tokens + elapsed * (rate / period))
end

local allowed = 0
if tokens >= requested then
	tokens = tokens - requested
	allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", KEYS[1], math.ceil(period * 10))
return {allowed, math.floor(tokens * 1000)}
`)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool
	// Remaining tokens after the check (token bucket) or remaining quota in
	// the current window (fixed window).
	Remaining float64
	// RetryAfter estimates when one token will be available again. Zero
	// when allowed.
	RetryAfter time.Duration
	// Degraded is set when the store was unreachable and the fallback mode
	// decided the outcome.
	Degraded bool
}

// RateLimiter admits or denies operations against server-side counters.
// Token-bucket by default, fixed-window on request.
type RateLimiter struct {
	client   *Client
	fallback FallbackMode
	now      func() time.Time
}

// NewRateLimiter builds a limiter over the store client.
func NewRateLimiter(client *Client, fallback FallbackMode) *RateLimiter {
	if fallback != FallbackDeny {
		fallback = FallbackAllow
	}
	return &RateLimiter{client: client, fallback: fallback, now: time.Now}
}

// CheckTokenBucket admits when the bucket holds at least tokens. A request
// for more tokens than the rate can never be admitted.
func (r *RateLimiter) CheckTokenBucket(ctx context.Context, key string, rate float64, period time.Duration, tokens float64) (Decision, error) {
	if rate <= 0 || period <= 0 {
		return Decision{}, fmt.Errorf("rate limit %s: rate and period must be positive", key)
	}

	storeKey := "ratelimit:tb:" + key
	now := float64(r.now().UnixNano()) / float64(time.Second)

	var allowed bool
	var remaining float64
	err := r.client.do(ctx, "ratelimit_tb", func(ctx context.Context) error {
		vals, err := tokenBucketScript.Run(ctx, r.client.rdb, []string{storeKey},
			rate, period.Seconds(), tokens, now).Int64Slice()
		if err != nil {
			return err
		}
		allowed = vals[0] == 1
		remaining = float64(vals[1]) / 1000
		return nil
	})
	if err != nil {
		return r.fallbackDecision(ctx, key, err), nil
	}

	decision := Decision{Allowed: allowed, Remaining: remaining}
	if !allowed {
		// Time until the shortfall refills at rate/period tokens per second.
		shortfall := tokens - remaining
		decision.RetryAfter = time.Duration(shortfall / (rate / period.Seconds()) * float64(time.Second))
	}
	r.record(decision)
	return decision, nil
}

// CheckFixedWindow counts requests in the window floor(now/period) and
// admits until the count exceeds the rate.
func (r *RateLimiter) CheckFixedWindow(ctx context.Context, key string, rate int64, period time.Duration) (Decision, error) {
	if rate <= 0 || period <= 0 {
		return Decision{}, fmt.Errorf("rate limit %s: rate and period must be positive", key)
	}

	now := r.now()
	window := now.Unix() / int64(period.Seconds())
	storeKey := fmt.Sprintf("ratelimit:fw:%s:%d", key, window)

	var count int64
	err := r.client.do(ctx, "ratelimit_fw", func(ctx context.Context) error {
		n, err := r.client.rdb.Incr(ctx, storeKey).Result()
		if err != nil {
			return err
		}
		if n == 1 {
			if err := r.client.rdb.Expire(ctx, storeKey, period).Err(); err != nil {
				return err
			}
		}
		count = n
		return nil
	})
	if err != nil {
		return r.fallbackDecision(ctx, key, err), nil
	}

	decision := Decision{
		Allowed:   count <= rate,
		Remaining: math.Max(0, float64(rate-count)),
	}
	if !decision.Allowed {
		windowEnd := time.Unix((window+1)*int64(period.Seconds()), 0)
		decision.RetryAfter = windowEnd.Sub(now)
	}
	r.record(decision)
	return decision, nil
}

func (r *RateLimiter) fallbackDecision(ctx context.Context, key string, cause error) Decision {
	logging.Ctx(ctx, r.client.log).Warn().
		Str("key", key).
		Str("fallback", string(r.fallback)).
		Err(cause).
		Msg("rate limiter store unavailable, applying fallback")
	metrics.RateLimitDecisions.WithLabelValues("fallback_" + string(r.fallback)).Inc()
	return Decision{Allowed: r.fallback == FallbackAllow, Degraded: true}
}

func (r *RateLimiter) record(d Decision) {
	if d.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
	}
}
