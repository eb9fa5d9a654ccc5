package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/memstore"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// RateLimitedError tells the caller when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

// Limiter is the rate-limit surface the middleware needs. Satisfied by
// *memstore.RateLimiter.
type Limiter interface {
	CheckTokenBucket(ctx context.Context, key string, rate float64, period time.Duration, tokens float64) (memstore.Decision, error)
}

// WithCorrelation opens a correlation-identifier scope around the handler
// so every log line and audit event of one command shares an identifier.
func WithCorrelation() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *Command) (any, error) {
			if logging.CorrelationID(ctx) == "" {
				ctx = logging.WithCorrelationID(ctx, "")
			}
			return next(ctx, cmd)
		}
	}
}

// WithMetrics records per-command latency and outcome.
func WithMetrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *Command) (any, error) {
			start := time.Now()
			out, err := next(ctx, cmd)
			metrics.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
			status := "success"
			if err != nil {
				status = "failure"
			}
			metrics.CommandsTotal.WithLabelValues(cmd.Name, status).Inc()
			return out, err
		}
	}
}

// WithRateLimit admits each caller's commands through a token bucket keyed
// per command and caller. A denied command never reaches its handler.
func WithRateLimit(limiter Limiter, rate float64, period time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd *Command) (any, error) {
			key := cmd.Name + ":" + cmd.CallerKey
			decision, err := limiter.CheckTokenBucket(ctx, key, rate, period, 1)
			if err != nil {
				return nil, err
			}
			if !decision.Allowed {
				return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
			}
			return next(ctx, cmd)
		}
	}
}
