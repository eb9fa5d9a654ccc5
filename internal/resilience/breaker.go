// Package resilience wraps calls to flaky downstream stores with a
// three-state circuit breaker and an exponential-backoff retry policy.
//
// The breaker's own bookkeeping never raises into the caller: a failure to
// record a transition is logged and dropped.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker is OPEN and rejecting traffic.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the breaker's position in its state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes the state machine.
type BreakerConfig struct {
	// FailureThreshold consecutive failures move CLOSED -> OPEN.
	FailureThreshold int
	// SuccessThreshold consecutive successes move HALF_OPEN -> CLOSED.
	SuccessThreshold int
	// Timeout is how long the breaker stays OPEN before probing.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Breaker is a three-state circuit breaker. All mutations are serialised by
// a single mutex; transitions are logged with before/after states.
type Breaker struct {
	mu        sync.Mutex
	name      string
	cfg       BreakerConfig
	state     State
	failures  int
	successes int
	openedAt  time.Time
	log       zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewBreaker constructs a CLOSED breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	metrics.BreakerState.WithLabelValues(name).Set(stateValue(StateClosed))
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		log:   logging.WithComponent("breaker").With().Str("breaker", name).Logger(),
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. OPEN rejects with ErrCircuitOpen;
// an elapsed OPEN timeout transitions to HALF_OPEN and admits the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.transition(StateHalfOpen)
		} else {
			return ErrCircuitOpen
		}
	}
	return nil
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// OnFailure records a failed call and may trip the breaker.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to CLOSED with zero counts. Operator escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// ForceOpen trips the breaker regardless of counts. Operator escape hatch.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateOpen)
}

// transition moves to the target state and resets counters. Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(stateValue(to))
	if from != to {
		b.log.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("circuit breaker transition")
	}
}

// stateValue encodes states for the gauge: 0 closed, 1 half-open, 2 open.
func stateValue(s State) float64 {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	}
	return 0
}
