package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/eventbus"
	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// Event is the canonical shape of every state change. Timestamps are
// ISO-8601 UTC. Context is never empty; "unknown" is the fallback.
type Event struct {
	Timestamp       string         `json:"timestamp"`
	PlayerID        int64          `json:"player_id"`
	TransactionType string         `json:"transaction_type"`
	Details         map[string]any `json:"details"`
	Context         string         `json:"context"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Options tweak a single Log call.
type Options struct {
	// Context records the command/subsystem origin. Empty becomes "unknown".
	Context string
	// Meta carries optional correlation/guild/trace identifiers.
	Meta map[string]any
	// SkipValidation bypasses the transaction validator. Use only for
	// trusted internal emitters.
	SkipValidation bool
}

// Logger validates, normalises, and publishes audit events. Delivery is
// at-least-once within the process; consumers own idempotency.
type Logger struct {
	bus       *eventbus.Bus
	validator *TransactionValidator
	log       zerolog.Logger
	now       func() time.Time
}

// NewLogger builds the audit producer.
func NewLogger(bus *eventbus.Bus, validator *TransactionValidator) *Logger {
	return &Logger{
		bus:       bus,
		validator: validator,
		log:       logging.WithComponent("audit"),
		now:       time.Now,
	}
}

// Log validates details against the transaction type's schema, builds the
// canonical payload, and publishes it. A validation failure increments the
// failure metric and surfaces to the caller; nothing is published.
func (l *Logger) Log(ctx context.Context, playerID int64, transactionType string, details map[string]any, opts Options) error {
	if !opts.SkipValidation {
		if err := l.validator.Validate(transactionType, details); err != nil {
			metrics.AuditEventsTotal.WithLabelValues(transactionType, "rejected").Inc()
			return err
		}
	}

	origin := opts.Context
	if origin == "" {
		origin = "unknown"
	}

	meta := opts.Meta
	if cid := logging.CorrelationID(ctx); cid != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		if _, present := meta["correlation_id"]; !present {
			meta["correlation_id"] = cid
		}
	}

	event := &Event{
		Timestamp:       l.now().UTC().Format(time.RFC3339Nano),
		PlayerID:        playerID,
		TransactionType: transactionType,
		Details:         details,
		Context:         origin,
		Meta:            meta,
	}

	if err := l.bus.Publish(ctx, eventbus.TopicAuditLogged, event); err != nil {
		metrics.AuditEventsTotal.WithLabelValues(transactionType, "error").Inc()
		return err
	}
	metrics.AuditEventsTotal.WithLabelValues(transactionType, "published").Inc()
	return nil
}

// LogResourceChange emits a resource_change_<resource> event with before and
// after values.
func (l *Logger) LogResourceChange(ctx context.Context, playerID int64, resource string, delta, oldValue, newValue int64, source string, opts Options) error {
	details := map[string]any{
		"resource":  resource,
		"delta":     delta,
		"old_value": oldValue,
		"new_value": newValue,
		"source":    source,
	}
	return l.Log(ctx, playerID, "resource_change_"+resource, details, opts)
}

// LogMaidenChange emits a maiden_fused event.
func (l *Logger) LogMaidenChange(ctx context.Context, playerID int64, base string, tier, newTier int, opts Options) error {
	details := map[string]any{
		"base":     base,
		"tier":     tier,
		"new_tier": newTier,
	}
	return l.Log(ctx, playerID, "maiden_fused", details, opts)
}

// LogFusionAttempt emits a fusion_attempt event.
func (l *Logger) LogFusionAttempt(ctx context.Context, playerID int64, tier int, success bool, rate float64, opts Options) error {
	details := map[string]any{
		"tier":    tier,
		"success": success,
		"rate":    rate,
	}
	return l.Log(ctx, playerID, "fusion_attempt", details, opts)
}

// BatchEntry is one event in a LogBatch call.
type BatchEntry struct {
	PlayerID        int64
	TransactionType string
	Details         map[string]any
	Options         Options
}

// LogBatch emits each entry in order. The first failure stops the batch and
// returns; earlier entries stay published (at-least-once, not transactional).
func (l *Logger) LogBatch(ctx context.Context, entries []BatchEntry) error {
	for _, e := range entries {
		if err := l.Log(ctx, e.PlayerID, e.TransactionType, e.Details, e.Options); err != nil {
			return err
		}
	}
	return nil
}
