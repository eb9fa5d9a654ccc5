// Package dispatch routes named commands through an explicit middleware
// chain. The chat-handler layer registers its handlers here; the chain
// gives every command rate limiting, a correlation-identifier scope, and
// per-command latency metrics without decorating individual handlers.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
)

// Command is one inbound request.
type Command struct {
	// Name selects the registered handler.
	Name string
	// CallerKey identifies the caller for rate limiting, typically the
	// external player identifier.
	CallerKey string
	// PlayerID is the resolved aggregate identifier, zero when unknown.
	PlayerID int64
	// Payload is the handler-specific argument.
	Payload any
}

// Handler executes one command.
type Handler func(ctx context.Context, cmd *Command) (any, error)

// Middleware wraps a handler with cross-cutting behaviour.
type Middleware func(next Handler) Handler

// UnknownCommandError reports a dispatch for a name nothing registered.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// Dispatcher holds the handler registry and the middleware chain.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	chain    []Middleware
	log      zerolog.Logger
}

// New builds a dispatcher. Middlewares apply outermost-first: the first
// argument sees the command before the rest.
func New(chain ...Middleware) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		chain:    chain,
		log:      logging.WithComponent("dispatch"),
	}
}

// Register installs or replaces the handler for a command name.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Dispatch runs the command through the chain and its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[cmd.Name]
	d.mu.RUnlock()
	if !ok {
		return nil, &UnknownCommandError{Name: cmd.Name}
	}

	for i := len(d.chain) - 1; i >= 0; i-- {
		h = d.chain[i](h)
	}
	return h(ctx, cmd)
}

// Commands returns the registered command names, for introspection.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}
