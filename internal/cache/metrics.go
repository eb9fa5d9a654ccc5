package cache

import (
	"sync"
	"time"
)

// Metrics is the process-wide cache counter set. O(1) updates under one
// mutex; derived values computed on demand.
type Metrics struct {
	mu sync.Mutex

	hits          int64
	misses        int64
	sets          int64
	invalidations int64
	errors        int64
	// compressions is reserved for large-payload compression.
	compressions int64

	getTime time.Duration
	setTime time.Duration
}

// Snapshot is a point-in-time copy with derived rates.
type Snapshot struct {
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Sets          int64         `json:"sets"`
	Invalidations int64         `json:"invalidations"`
	Errors        int64         `json:"errors"`
	Compressions  int64         `json:"compressions"`
	HitRate       float64       `json:"hit_rate"`
	AvgGetTime    time.Duration `json:"avg_get_time"`
	AvgSetTime    time.Duration `json:"avg_set_time"`
}

func (m *Metrics) recordHit(elapsed time.Duration) {
	m.mu.Lock()
	m.hits++
	m.getTime += elapsed
	m.mu.Unlock()
}

func (m *Metrics) recordMiss(elapsed time.Duration) {
	m.mu.Lock()
	m.misses++
	m.getTime += elapsed
	m.mu.Unlock()
}

func (m *Metrics) recordSet(elapsed time.Duration) {
	m.mu.Lock()
	m.sets++
	m.setTime += elapsed
	m.mu.Unlock()
}

func (m *Metrics) recordInvalidations(n int64) {
	m.mu.Lock()
	m.invalidations += n
	m.mu.Unlock()
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// SnapshotNow returns the counters with derived hit rate and averages.
func (m *Metrics) SnapshotNow() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Hits:          m.hits,
		Misses:        m.misses,
		Sets:          m.sets,
		Invalidations: m.invalidations,
		Errors:        m.errors,
		Compressions:  m.compressions,
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
		s.AvgGetTime = m.getTime / time.Duration(total)
	}
	if m.sets > 0 {
		s.AvgSetTime = m.setTime / time.Duration(m.sets)
	}
	return s
}

// Healthy applies the health predicate: error count below budget and hit
// rate at or above the floor. With no reads yet, the hit rate is treated
// as passing.
func (m *Metrics) Healthy(maxErrors int64, minHitRate float64) bool {
	s := m.SnapshotNow()
	if s.Errors >= maxErrors {
		return false
	}
	if s.Hits+s.Misses == 0 {
		return true
	}
	return s.HitRate >= minHitRate
}
