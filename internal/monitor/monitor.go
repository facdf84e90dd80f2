package monitor

import (
	"sort"
	"sync"
	"time"

	"lead-intelligence/internal/models"
)

const windowSize = 512

// OperationStats summarizes one operation over the rolling window.
type OperationStats struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	ErrorRate float64 `json:"error_rate"`
	P50MS     float64 `json:"p50_ms"`
	P95MS     float64 `json:"p95_ms"`
	Breaker   string  `json:"breaker_state"`
}

// Snapshot is a point-in-time view of pipeline health, suitable for
// broadcasting on the metrics topic.
type Snapshot struct {
	TakenAt         time.Time        `json:"taken_at"`
	EventsProcessed uint64           `json:"events_processed"`
	EventsFailed    uint64           `json:"events_failed"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	QueueDepth      int              `json:"queue_depth"`
	Operations      []OperationStats `json:"operations"`
}

type sample struct {
	latency time.Duration
	failed  bool
}

type opWindow struct {
	samples [windowSize]sample
	next    int
	filled  int
}

func (w *opWindow) add(s sample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % windowSize
	if w.filled < windowSize {
		w.filled++
	}
}

// PerformanceMonitor keeps a rolling window of adapter latencies and
// outcomes per operation plus pipeline-level counters. All methods are
// safe for concurrent use by the worker pool.
type PerformanceMonitor struct {
	mu      sync.Mutex
	windows map[models.OperationKind]*opWindow

	eventsProcessed uint64
	eventsFailed    uint64
	cacheHits       uint64
	cacheLookups    uint64

	breakers *BreakerSet
}

// NewPerformanceMonitor creates a monitor reporting breaker state from
// the given set.
func NewPerformanceMonitor(breakers *BreakerSet) *PerformanceMonitor {
	m := &PerformanceMonitor{
		windows:  make(map[models.OperationKind]*opWindow),
		breakers: breakers,
	}
	for _, op := range models.AllOperations {
		m.windows[op] = &opWindow{}
	}
	return m
}

// RecordOperation records one adapter call outcome.
func (m *PerformanceMonitor) RecordOperation(op models.OperationKind, latency time.Duration, failed bool) {
	m.mu.Lock()
	m.windows[op].add(sample{latency: latency, failed: failed})
	m.mu.Unlock()
}

// RecordEvent records a fully processed event and whether its record was
// served from cache.
func (m *PerformanceMonitor) RecordEvent(failed, cacheHit bool) {
	m.mu.Lock()
	m.eventsProcessed++
	if failed {
		m.eventsFailed++
	}
	m.cacheLookups++
	if cacheHit {
		m.cacheHits++
	}
	m.mu.Unlock()
}

// Snapshot computes the current rolling-window statistics.
func (m *PerformanceMonitor) Snapshot(queueDepth int) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		TakenAt:         time.Now().UTC(),
		EventsProcessed: m.eventsProcessed,
		EventsFailed:    m.eventsFailed,
		QueueDepth:      queueDepth,
	}
	if m.cacheLookups > 0 {
		snap.CacheHitRate = float64(m.cacheHits) / float64(m.cacheLookups)
	}

	for _, op := range models.AllOperations {
		w := m.windows[op]
		stats := OperationStats{
			Operation: op.String(),
			Samples:   w.filled,
		}
		if m.breakers != nil {
			stats.Breaker = m.breakers.State(op)
		}

		if w.filled > 0 {
			latencies := make([]time.Duration, 0, w.filled)
			failures := 0
			for i := 0; i < w.filled; i++ {
				s := w.samples[i]
				latencies = append(latencies, s.latency)
				if s.failed {
					failures++
				}
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			stats.ErrorRate = float64(failures) / float64(w.filled)
			stats.P50MS = percentileMS(latencies, 0.50)
			stats.P95MS = percentileMS(latencies, 0.95)
		}

		snap.Operations = append(snap.Operations, stats)
	}

	return snap
}

func percentileMS(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx].Microseconds()) / 1000.0
}
