// Package eventbus provides in-process publish/subscribe with per-topic
// subscribers. Dispatch is sequential: one slow handler delays the rest but
// never reorders them, and one failing handler never blocks delivery to the
// others or surfaces to the publisher.
package eventbus

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
)

// Topic names an event stream on the bus.
type Topic string

// TopicAuditLogged is the canonical audit stream. Gameplay layers publish
// additional topics (daily_claimed, player.leveled_up, ...) that the core
// does not own.
const TopicAuditLogged Topic = "audit.transaction.logged"

// Handler consumes events published to a topic.
type Handler interface {
	// ID identifies the handler in logs.
	ID() string
	// Priority orders delivery within a topic, lowest first.
	Priority() int
	// Handle processes one event. Errors are logged and dropped.
	Handle(ctx context.Context, topic Topic, payload any) error
}

// HandlerFunc adapts a function to Handler with a fixed id and priority.
type HandlerFunc struct {
	Name string
	Prio int
	Fn   func(ctx context.Context, topic Topic, payload any) error
}

func (h HandlerFunc) ID() string    { return h.Name }
func (h HandlerFunc) Priority() int { return h.Prio }
func (h HandlerFunc) Handle(ctx context.Context, topic Topic, payload any) error {
	return h.Fn(ctx, topic, payload)
}

// Bus dispatches events to subscribers registered per topic.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]Handler
	log         zerolog.Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Topic][]Handler),
		log:         logging.WithComponent("eventbus"),
	}
}

// Subscribe registers a handler for a topic. Handlers are sorted by priority
// at publish time, so registration order does not matter.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
}

// Publish delivers payload to every subscriber of topic, awaiting each in
// sequence. Handler errors are logged, never returned. Publish returns early
// only when ctx is cancelled.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].Priority() < handlers[j].Priority()
	})

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.Handle(ctx, topic, payload); err != nil {
			logging.Ctx(ctx, b.log).Error().
				Str("handler", h.ID()).
				Str("topic", string(topic)).
				Err(err).
				Msg("subscriber failed")
		}
	}
	return nil
}

// Subscribers returns the handlers registered for a topic, for introspection.
func (b *Bus) Subscribers(topic Topic) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.subscribers[topic]))
	copy(out, b.subscribers[topic])
	return out
}
