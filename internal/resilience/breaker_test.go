package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func testBreaker(cfg BreakerConfig) *Breaker {
	b := NewBreaker("test", cfg)
	return b
}

func TestBreakerStartsClosed(t *testing.T) {
	b := testBreaker(DefaultBreakerConfig())
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	for i := 0; i < 2; i++ {
		b.OnFailure()
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %s, want closed", got)
	}
	b.OnFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %s, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed (consecutive failures interrupted)", got)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.OnFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before timeout = %v, want ErrCircuitOpen", err)
	}

	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want nil probe", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	// Two consecutive successes close it again.
	b.OnSuccess()
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after 1 success = %s, want half_open", got)
	}
	b.OnSuccess()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 successes = %s, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	b.OnFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}

func TestBreakerResetAndForceOpen(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	b.ForceOpen()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after reset = %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"deadline", context.DeadlineExceeded, true},
		{"domain error", errors.New("insufficient lumees"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExecutorRetriesTransient(t *testing.T) {
	e := NewExecutor(testBreaker(DefaultBreakerConfig()), RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	})

	calls := 0
	err := e.Do(context.Background(), "get", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecutorPermanentFailsImmediately(t *testing.T) {
	e := NewExecutor(testBreaker(DefaultBreakerConfig()), RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  5,
	})

	domainErr := errors.New("not a network problem")
	calls := 0
	err := e.Do(context.Background(), "set", func(ctx context.Context) error {
		calls++
		return domainErr
	})
	if !errors.Is(err, domainErr) {
		t.Fatalf("Do() = %v, want %v", err, domainErr)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-transient)", calls)
	}
}

func TestExecutorFailsFastWhenOpen(t *testing.T) {
	b := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	e := NewExecutor(b, RetryConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, MaxAttempts: 1})

	_ = e.Do(context.Background(), "get", func(ctx context.Context) error {
		return syscall.ECONNREFUSED
	})
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	calls := 0
	err := e.Do(context.Background(), "get", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do() = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Fatalf("thunk ran %d times while open, want 0", calls)
	}
}

func TestExecutorExhaustsAttempts(t *testing.T) {
	e := NewExecutor(testBreaker(DefaultBreakerConfig()), RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	})

	calls := 0
	err := e.Do(context.Background(), "get", func(ctx context.Context) error {
		calls++
		return syscall.ECONNRESET
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
