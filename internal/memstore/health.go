package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// healthWindowSize is the rolling sample window for latency percentiles.
const healthWindowSize = 100

// HealthSnapshot is a point-in-time view of the store's observed health.
type HealthSnapshot struct {
	State       metrics.HealthState `json:"state"`
	P50         time.Duration       `json:"p50"`
	P95         time.Duration       `json:"p95"`
	P99         time.Duration       `json:"p99"`
	ErrorRate   float64             `json:"error_rate"`
	SampleCount int                 `json:"sample_count"`
}

type probeResult struct {
	latency time.Duration
	ok      bool
}

// HealthMonitor pings the store on a timer and classifies it: UNHEALTHY on
// two consecutive failures, DEGRADED when p95 exceeds the warning latency,
// HEALTHY otherwise. Probes bypass the circuit breaker so the monitor keeps
// observing the store while the breaker is open.
type HealthMonitor struct {
	client      *Client
	interval    time.Duration
	warnLatency time.Duration

	mu          sync.Mutex
	window      []probeResult
	consecFails int
	state       metrics.HealthState

	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor builds a monitor over the client. interval defaults to
// 30s, warnLatency to 100ms.
func NewHealthMonitor(client *Client, interval, warnLatency time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if warnLatency <= 0 {
		warnLatency = 100 * time.Millisecond
	}
	return &HealthMonitor{
		client:      client,
		interval:    interval,
		warnLatency: warnLatency,
		state:       metrics.Healthy,
		log:         logging.WithComponent("memstore_health"),
	}
}

// Start launches the background probe loop.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop cancels the probe loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one PING, records the sample, and recomputes the state.
func (m *HealthMonitor) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := m.client.pingDirect(probeCtx)
	sample := probeResult{latency: time.Since(start), ok: err == nil}

	m.mu.Lock()
	m.window = append(m.window, sample)
	if len(m.window) > healthWindowSize {
		m.window = m.window[len(m.window)-healthWindowSize:]
	}
	if sample.ok {
		m.consecFails = 0
	} else {
		m.consecFails++
	}
	next := m.classify()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev != next {
		m.log.Warn().
			Str("from", string(prev)).
			Str("to", string(next)).
			Err(err).
			Msg("memstore health transition")
	}
	metrics.ReportComponent("memstore", next, "")
}

// classify derives the state from the window. Caller holds mu.
func (m *HealthMonitor) classify() metrics.HealthState {
	if m.consecFails >= 2 {
		return metrics.Unhealthy
	}
	if p95 := m.percentileLocked(0.95); p95 > m.warnLatency {
		return metrics.Degraded
	}
	return metrics.Healthy
}

// Snapshot returns the current state plus latency percentiles and error
// rate over the rolling window.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := HealthSnapshot{
		State:       m.state,
		SampleCount: len(m.window),
		P50:         m.percentileLocked(0.50),
		P95:         m.percentileLocked(0.95),
		P99:         m.percentileLocked(0.99),
	}
	if len(m.window) > 0 {
		failures := 0
		for _, s := range m.window {
			if !s.ok {
				failures++
			}
		}
		snap.ErrorRate = float64(failures) / float64(len(m.window))
	}
	return snap
}

// percentileLocked computes a latency percentile over successful samples.
// Caller holds mu.
func (m *HealthMonitor) percentileLocked(q float64) time.Duration {
	latencies := make([]time.Duration, 0, len(m.window))
	for _, s := range m.window {
		if s.ok {
			latencies = append(latencies, s.latency)
		}
	}
	if len(latencies) == 0 {
		return 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := int(q * float64(len(latencies)-1))
	return latencies[idx]
}
