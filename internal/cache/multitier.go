// Package cache implements the two-tier intelligence cache: a fast
// in-process tier backed by a shared Redis tier for cross-process
// warm-start. The in-process tier is authoritative for this process; the
// shared tier is written asynchronously and its failures are non-fatal.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lead-intelligence/internal/common/database"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/models"
)

// Key builds the canonical cache key for a tenant/lead pair.
func Key(tenantID, leadID string) string {
	return "intel:" + tenantID + ":" + leadID
}

// Options sizes the cache tiers and their freshness semantics. TTL expiry
// and the freshness window are independent checks; both must pass for a
// cached record to be served.
type Options struct {
	L1TTL           time.Duration
	L2TTL           time.Duration
	FreshnessWindow time.Duration
	L1MaxEntries    int
}

type entry struct {
	record   *models.IntelligenceRecord
	storedAt time.Time
}

type l2Write struct {
	key  string
	data []byte
}

// MultiTierCache owns the in-process tier and delegates to Redis for the
// shared tier. All L1 mutation happens under the mutex; shared-tier writes
// are handed off to a single supervised writer goroutine.
type MultiTierCache struct {
	mu     sync.RWMutex
	l1     map[string]*entry
	byLead map[string]map[string]struct{}

	opts   Options
	shared *database.RedisClient
	logger logger.Logger

	writes  chan l2Write
	writeWG sync.WaitGroup
	closed  bool

	now func() time.Time
}

// New creates a multi-tier cache. shared may be nil, in which case the
// cache degrades to L1-only (every shared-tier lookup is a miss).
func New(opts Options, shared *database.RedisClient, log logger.Logger) *MultiTierCache {
	c := &MultiTierCache{
		l1:     make(map[string]*entry),
		byLead: make(map[string]map[string]struct{}),
		opts:   opts,
		shared: shared,
		logger: log.WithFields(map[string]interface{}{"component": "multitier-cache"}),
		writes: make(chan l2Write, 256),
		now:    time.Now,
	}

	c.writeWG.Add(1)
	go c.l2Writer()

	return c
}

// Get returns a cached record if both the tier TTL and the freshness
// window allow it. freshness overrides the configured window when
// non-zero; degraded mode widens it to reduce compute pressure.
// Shared-tier hits are promoted back into the in-process tier.
func (c *MultiTierCache) Get(ctx context.Context, key string, freshness time.Duration) (*models.IntelligenceRecord, bool) {
	if freshness <= 0 {
		freshness = c.opts.FreshnessWindow
	}
	now := c.now()

	c.mu.RLock()
	e, ok := c.l1[key]
	c.mu.RUnlock()

	if ok {
		if now.Sub(e.storedAt) <= c.opts.L1TTL {
			if now.Sub(e.record.ComputedAt) <= freshness {
				metrics.CacheHits.WithLabelValues("l1").Inc()
				return e.record, true
			}
			// Stale for this window; a wider degraded-mode window may
			// still want it, so only TTL expiry drops the entry.
		} else {
			c.removeKey(key)
		}
	}
	metrics.CacheMisses.WithLabelValues("l1").Inc()

	if c.shared == nil {
		return nil, false
	}

	raw, err := c.shared.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("l2").Inc()
		return nil, false
	}

	var rec models.IntelligenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.logger.Warn("corrupt shared-tier entry dropped", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		metrics.CacheMisses.WithLabelValues("l2").Inc()
		return nil, false
	}

	if now.Sub(rec.ComputedAt) > freshness {
		metrics.CacheMisses.WithLabelValues("l2").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("l2").Inc()
	c.storeL1(key, &rec)
	return &rec, true
}

// Set writes the in-process tier synchronously and queues the shared-tier
// write. The shared tier only serves cross-process warm-start, so a
// dropped write is acceptable under pressure.
func (c *MultiTierCache) Set(ctx context.Context, key string, rec *models.IntelligenceRecord) {
	c.storeL1(key, rec)

	if c.shared == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Error("failed to serialize record for shared tier", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return
	}

	// Hold the read lock across the send so Close cannot close the
	// channel underneath it.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.writes <- l2Write{key: key, data: data}:
	default:
		c.logger.Warn("shared-tier write queue full, dropping write", map[string]interface{}{
			"key": key,
		})
	}
}

// Invalidate removes every cached record for the lead from both tiers.
func (c *MultiTierCache) Invalidate(ctx context.Context, leadID string) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.byLead[leadID]))
	for k := range c.byLead[leadID] {
		keys = append(keys, k)
		delete(c.l1, k)
	}
	delete(c.byLead, leadID)
	c.mu.Unlock()

	if c.shared != nil && len(keys) > 0 {
		if err := c.shared.Del(ctx, keys...); err != nil {
			c.logger.Warn("shared-tier invalidation failed", map[string]interface{}{
				"leadId": leadID,
				"error":  err,
			})
		}
	}
}

// Len reports the current entry count of the in-process tier.
func (c *MultiTierCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.l1)
}

// Close stops the shared-tier writer after draining queued writes.
func (c *MultiTierCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.writes)
	c.writeWG.Wait()
}

func (c *MultiTierCache) storeL1(key string, rec *models.IntelligenceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.l1[key] = &entry{record: rec, storedAt: c.now()}
	if c.byLead[rec.LeadID] == nil {
		c.byLead[rec.LeadID] = make(map[string]struct{})
	}
	c.byLead[rec.LeadID][key] = struct{}{}

	// Oldest stored_at goes first so hot leads survive bursts.
	for len(c.l1) > c.opts.L1MaxEntries {
		oldestKey := ""
		var oldest time.Time
		for k, e := range c.l1 {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey = k
				oldest = e.storedAt
			}
		}
		c.dropLocked(oldestKey)
		metrics.CacheEvictions.Inc()
	}
}

func (c *MultiTierCache) removeKey(key string) {
	c.mu.Lock()
	c.dropLocked(key)
	c.mu.Unlock()
}

func (c *MultiTierCache) dropLocked(key string) {
	e, ok := c.l1[key]
	if !ok {
		return
	}
	delete(c.l1, key)
	if keys, ok := c.byLead[e.record.LeadID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byLead, e.record.LeadID)
		}
	}
}

func (c *MultiTierCache) l2Writer() {
	defer c.writeWG.Done()

	for w := range c.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.shared.Set(ctx, w.key, w.data, c.opts.L2TTL); err != nil {
			c.logger.Warn("shared-tier write failed", map[string]interface{}{
				"key":   w.key,
				"error": err,
			})
		}
		cancel()
	}
}
