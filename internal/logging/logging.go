// Package logging configures the process-wide structured logger and carries
// the per-request correlation identifier through context.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Subsystems derive component-tagged
// child loggers from it via WithComponent.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPlayerID creates a child logger with a player_id field.
func WithPlayerID(playerID int64) zerolog.Logger {
	return Logger.With().Int64("player_id", playerID).Logger()
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying the given correlation
// identifier. Passing an empty id generates a fresh one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation identifier carried by ctx, or ""
// when the context has none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Ctx returns a logger annotated with the context's correlation identifier.
// Use this at every boundary that logs on behalf of a request. The pointer
// return mirrors zerolog's own log.Ctx so level methods chain directly.
func Ctx(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	if id := CorrelationID(ctx); id != "" {
		l := base.With().Str("correlation_id", id).Logger()
		return &l
	}
	return &base
}
