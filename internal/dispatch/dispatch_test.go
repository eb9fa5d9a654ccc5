package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/memstore"
)

func TestDispatchRoutesToHandler(t *testing.T) {
	d := New()
	d.Register("balance", func(ctx context.Context, cmd *Command) (any, error) {
		return cmd.PlayerID * 2, nil
	})

	out, err := d.Dispatch(context.Background(), &Command{Name: "balance", PlayerID: 21})
	require.NoError(t, err)
	require.EqualValues(t, 42, out)
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), &Command{Name: "nope"})
	var unknown *UnknownCommandError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "nope", unknown.Name)
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, cmd *Command) (any, error) {
				order = append(order, name)
				return next(ctx, cmd)
			}
		}
	}

	d := New(mw("outer"), mw("inner"))
	d.Register("x", func(ctx context.Context, cmd *Command) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})

	_, err := d.Dispatch(context.Background(), &Command{Name: "x"})
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestWithCorrelationAssignsIdentifier(t *testing.T) {
	var seen string
	d := New(WithCorrelation())
	d.Register("x", func(ctx context.Context, cmd *Command) (any, error) {
		seen = logging.CorrelationID(ctx)
		return nil, nil
	})

	_, err := d.Dispatch(context.Background(), &Command{Name: "x"})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
}

func TestWithCorrelationKeepsExistingIdentifier(t *testing.T) {
	var seen string
	d := New(WithCorrelation())
	d.Register("x", func(ctx context.Context, cmd *Command) (any, error) {
		seen = logging.CorrelationID(ctx)
		return nil, nil
	})

	ctx := logging.WithCorrelationID(context.Background(), "upstream-id")
	_, err := d.Dispatch(ctx, &Command{Name: "x"})
	require.NoError(t, err)
	require.Equal(t, "upstream-id", seen)
}

type stubLimiter struct {
	decision memstore.Decision
	err      error
	lastKey  string
}

func (s *stubLimiter) CheckTokenBucket(_ context.Context, key string, _ float64, _ time.Duration, _ float64) (memstore.Decision, error) {
	s.lastKey = key
	return s.decision, s.err
}

func TestWithRateLimitDenies(t *testing.T) {
	limiter := &stubLimiter{decision: memstore.Decision{Allowed: false, RetryAfter: 3 * time.Second}}
	d := New(WithRateLimit(limiter, 5, time.Minute))

	reached := false
	d.Register("spin", func(ctx context.Context, cmd *Command) (any, error) {
		reached = true
		return nil, nil
	})

	_, err := d.Dispatch(context.Background(), &Command{Name: "spin", CallerKey: "555"})
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, 3*time.Second, limited.RetryAfter)
	require.False(t, reached, "denied command must not reach its handler")
	require.Equal(t, "spin:555", limiter.lastKey)
}

func TestWithRateLimitAdmits(t *testing.T) {
	limiter := &stubLimiter{decision: memstore.Decision{Allowed: true}}
	d := New(WithRateLimit(limiter, 5, time.Minute))
	d.Register("spin", func(ctx context.Context, cmd *Command) (any, error) {
		return "ok", nil
	})

	out, err := d.Dispatch(context.Background(), &Command{Name: "spin", CallerKey: "555"})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestWithMetricsPassesThroughErrors(t *testing.T) {
	d := New(WithMetrics())
	boom := errors.New("boom")
	d.Register("x", func(ctx context.Context, cmd *Command) (any, error) {
		return nil, boom
	})

	_, err := d.Dispatch(context.Background(), &Command{Name: "x"})
	require.ErrorIs(t, err, boom)
}
