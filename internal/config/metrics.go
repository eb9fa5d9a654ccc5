package config

import (
	"sync"
	"time"
)

// Metrics is the thread-safe counter set for the dynamic config manager.
// Updates are O(1) under a single mutex; derived values are computed on
// demand in Snapshot.
type Metrics struct {
	mu sync.Mutex

	gets       int64
	sets       int64
	cacheHits  int64
	cacheMisses int64
	fallbacks  int64
	refreshes  int64
	errors     int64
	staleReads int64

	getTime time.Duration
	setTime time.Duration
}

// MetricsSnapshot is a point-in-time copy with derived values.
type MetricsSnapshot struct {
	Gets          int64         `json:"gets"`
	Sets          int64         `json:"sets"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	Fallbacks     int64         `json:"fallbacks_to_defaults"`
	Refreshes     int64         `json:"refreshes"`
	Errors        int64         `json:"errors"`
	StaleReads    int64         `json:"stale_reads"`
	HitRate       float64       `json:"hit_rate"`
	StaleReadRate float64       `json:"stale_read_rate"`
	AvgGetTime    time.Duration `json:"avg_get_time"`
	AvgSetTime    time.Duration `json:"avg_set_time"`
}

func (m *Metrics) recordGet(hit bool, fallback bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	m.getTime += elapsed
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
	if fallback {
		m.fallbacks++
	}
}

func (m *Metrics) recordSet(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.setTime += elapsed
}

func (m *Metrics) recordRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *Metrics) recordStaleRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleReads++
}

func (m *Metrics) errorCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors
}

// Snapshot returns a copy of the counters with derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Gets:        m.gets,
		Sets:        m.sets,
		CacheHits:   m.cacheHits,
		CacheMisses: m.cacheMisses,
		Fallbacks:   m.fallbacks,
		Refreshes:   m.refreshes,
		Errors:      m.errors,
		StaleReads:  m.staleReads,
	}
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		s.HitRate = float64(m.cacheHits) / float64(total)
	}
	if m.gets > 0 {
		s.StaleReadRate = float64(m.staleReads) / float64(m.gets)
		s.AvgGetTime = m.getTime / time.Duration(m.gets)
	}
	if m.sets > 0 {
		s.AvgSetTime = m.setTime / time.Duration(m.sets)
	}
	return s
}
