package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/lumen/internal/metrics"
)

func TestHealthMonitorHealthy(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	m := NewHealthMonitor(c, time.Minute, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		m.Probe(context.Background())
	}

	snap := m.Snapshot()
	require.Equal(t, metrics.Healthy, snap.State)
	require.Equal(t, 5, snap.SampleCount)
	require.Zero(t, snap.ErrorRate)
	require.GreaterOrEqual(t, snap.P95, snap.P50)
}

func TestHealthMonitorUnhealthyAfterConsecutiveFailures(t *testing.T) {
	c, mr := newTestClient(t, Options{})
	m := NewHealthMonitor(c, time.Minute, 100*time.Millisecond)

	m.Probe(context.Background())
	require.Equal(t, metrics.Healthy, m.Snapshot().State)

	mr.Close()
	m.Probe(context.Background())
	// One failure is not enough.
	require.NotEqual(t, metrics.Unhealthy, m.Snapshot().State)
	m.Probe(context.Background())
	require.Equal(t, metrics.Unhealthy, m.Snapshot().State)
	require.Greater(t, m.Snapshot().ErrorRate, 0.0)
}

func TestHealthMonitorWindowBounded(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	m := NewHealthMonitor(c, time.Minute, 100*time.Millisecond)

	for i := 0; i < healthWindowSize+20; i++ {
		m.Probe(context.Background())
	}
	require.Equal(t, healthWindowSize, m.Snapshot().SampleCount)
}

func TestHealthMonitorStartStop(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	m := NewHealthMonitor(c, 10*time.Millisecond, 100*time.Millisecond)

	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	require.GreaterOrEqual(t, m.Snapshot().SampleCount, 1)
}
