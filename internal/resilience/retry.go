package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumenlabs/lumen/internal/logging"
)

// RetryConfig tunes the backoff policy applied to transient failures.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	// Jitter randomises each delay by +/-10%.
	Jitter bool
}

// DefaultRetryConfig returns the standard policy: 100ms initial, 2s cap,
// doubling, three attempts, jitter on.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		MaxAttempts:  3,
		Jitter:       true,
	}
}

// IsTransient reports whether err is one of the retryable I/O failures:
// connection refused/reset, timeouts, and generic network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Executor runs operation thunks through a breaker plus retry policy. One
// executor guards one downstream store.
type Executor struct {
	breaker *Breaker
	retry   RetryConfig
}

// NewExecutor builds an executor around the given breaker.
func NewExecutor(breaker *Breaker, retry RetryConfig) *Executor {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	return &Executor{breaker: breaker, retry: retry}
}

// Breaker exposes the underlying breaker for health reporting and operator
// controls.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Do executes fn under the breaker and retry policy. CLOSED and HALF_OPEN
// admit the call; OPEN rejects with ErrCircuitOpen. Only transient errors
// retry; others fail immediately and record a breaker failure. The final
// failure after exhausting attempts also records a failure.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.DoAttempts(ctx, op, e.retry.MaxAttempts, fn)
}

// DoAttempts is Do with a per-call attempt override.
func (e *Executor) DoAttempts(ctx context.Context, op string, attempts int, fn func(ctx context.Context) error) error {
	if err := e.breaker.Allow(); err != nil {
		return err
	}
	if attempts <= 0 {
		attempts = 1
	}

	bo := e.newBackoff(ctx, attempts)
	err := backoff.Retry(func() error {
		if err := fn(ctx); err != nil {
			if IsTransient(err) {
				return err // retryable, backoff schedules another attempt
			}
			return backoff.Permanent(err)
		}
		return nil
	}, bo)

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		e.breaker.OnFailure()
		log := logging.WithComponent("resilience")
		log.Debug().
			Str("op", op).
			Err(err).
			Msg("operation failed after retries")
		return err
	}
	e.breaker.OnSuccess()
	return nil
}

func (e *Executor) newBackoff(ctx context.Context, attempts int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retry.InitialDelay
	bo.MaxInterval = e.retry.MaxDelay
	bo.Multiplier = e.retry.Multiplier
	bo.MaxElapsedTime = 0
	if e.retry.Jitter {
		bo.RandomizationFactor = 0.1
	} else {
		bo.RandomizationFactor = 0
	}
	// attempts total = 1 initial + (attempts-1) retries.
	capped := backoff.WithMaxRetries(bo, uint64(attempts-1))
	return backoff.WithContext(capped, ctx)
}
