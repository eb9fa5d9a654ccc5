package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowsUntilEmpty(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	rl := NewRateLimiter(c, FallbackAllow)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	// rate=3 per minute; three requests pass, fourth denied.
	for i := 0; i < 3; i++ {
		d, err := rl.CheckTokenBucket(ctx, "cmd:7", 3, time.Minute, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should pass", i)
	}
	d, err := rl.CheckTokenBucket(ctx, "cmd:7", 3, time.Minute, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	rl := NewRateLimiter(c, FallbackAllow)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	// Drain the bucket.
	for i := 0; i < 3; i++ {
		_, err := rl.CheckTokenBucket(ctx, "cmd:7", 3, time.Minute, 1)
		require.NoError(t, err)
	}
	d, err := rl.CheckTokenBucket(ctx, "cmd:7", 3, time.Minute, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// 20 seconds refills one token at 3/minute.
	now = now.Add(21 * time.Second)
	d, err = rl.CheckTokenBucket(ctx, "cmd:7", 3, time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestTokenBucketRequestAboveRateAlwaysDenied(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	rl := NewRateLimiter(c, FallbackAllow)
	d, err := rl.CheckTokenBucket(context.Background(), "cmd:7", 5, time.Minute, 6)
	require.NoError(t, err)
	require.False(t, d.Allowed, "requesting more tokens than the rate can never be admitted")
}

func TestFixedWindow(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	rl := NewRateLimiter(c, FallbackAllow)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := rl.CheckFixedWindow(ctx, "daily:7", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := rl.CheckFixedWindow(ctx, "daily:7", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))

	// A new window resets the counter.
	now = now.Add(time.Minute)
	d, err = rl.CheckFixedWindow(ctx, "daily:7", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRateLimitFallbackWhenStoreDown(t *testing.T) {
	c, mr := newTestClient(t, Options{})
	mr.Close()

	allow := NewRateLimiter(c, FallbackAllow)
	d, err := allow.CheckTokenBucket(context.Background(), "cmd:7", 3, time.Minute, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.True(t, d.Degraded)

	c.exec.Breaker().Reset()
	deny := NewRateLimiter(c, FallbackDeny)
	d, err = deny.CheckTokenBucket(context.Background(), "cmd:7", 3, time.Minute, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.True(t, d.Degraded)
}

func TestRateLimitRejectsBadParameters(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	rl := NewRateLimiter(c, FallbackAllow)
	_, err := rl.CheckTokenBucket(context.Background(), "k", 0, time.Minute, 1)
	require.Error(t, err)
	_, err = rl.CheckFixedWindow(context.Background(), "k", 5, 0)
	require.Error(t, err)
}
