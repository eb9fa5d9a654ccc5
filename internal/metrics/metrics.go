// Package metrics exposes the process-wide Prometheus collectors and the
// component health checker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// In-memory store metrics
	MemstoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_memstore_ops_total",
			Help: "Total number of in-memory store operations by op and status",
		},
		[]string{"op", "status"},
	)

	MemstoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_memstore_op_duration_seconds",
			Help:    "In-memory store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Distributed lock metrics
	LockAcquireWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_lock_acquire_wait_seconds",
			Help:    "Time spent waiting to acquire a distributed lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockHoldDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_lock_hold_duration_seconds",
			Help:    "Time a distributed lock was held before release",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_lock_acquire_timeouts_total",
			Help: "Total number of distributed lock acquisition timeouts",
		},
	)

	// Circuit breaker state (0 = closed, 1 = half_open, 2 = open)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumen_circuit_breaker_state",
			Help: "Circuit breaker state by breaker name (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// Cache metrics
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_cache_ops_total",
			Help: "Total number of cache operations by result",
		},
		[]string{"result"},
	)

	// Rate limiter metrics
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_ratelimit_decisions_total",
			Help: "Total number of rate-limit decisions by outcome",
		},
		[]string{"decision"},
	)

	// Dynamic config metrics
	ConfigRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_config_refreshes_total",
			Help: "Total number of dynamic config background refreshes",
		},
	)

	// Database metrics
	DBQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_db_queries_total",
			Help: "Total number of database operations by op and status",
		},
		[]string{"op", "status"},
	)

	DBTransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Audit metrics
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_audit_events_total",
			Help: "Total number of audit events by transaction type and status",
		},
		[]string{"type", "status"},
	)

	// Command dispatch metrics
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_command_duration_seconds",
			Help:    "Command handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_commands_total",
			Help: "Total number of dispatched commands by command and status",
		},
		[]string{"command", "status"},
	)
)

func init() {
	prometheus.MustRegister(MemstoreOpsTotal)
	prometheus.MustRegister(MemstoreOpDuration)
	prometheus.MustRegister(LockAcquireWait)
	prometheus.MustRegister(LockHoldDuration)
	prometheus.MustRegister(LockTimeouts)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(CacheOpsTotal)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(ConfigRefreshes)
	prometheus.MustRegister(DBQueriesTotal)
	prometheus.MustRegister(DBTransactionDuration)
	prometheus.MustRegister(AuditEventsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(CommandsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
