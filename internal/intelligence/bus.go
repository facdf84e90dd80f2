// Package intelligence is the core pipeline: the event bus accepts lead
// events, a bounded priority queue orders them, a worker pool drains them
// through the inference coordinator, and the resulting records flow to
// cache, broadcast, and archive.
package intelligence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"lead-intelligence/internal/broadcast"
	"lead-intelligence/internal/cache"
	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/common/observability"
	"lead-intelligence/internal/common/validation"
	"lead-intelligence/internal/models"
	"lead-intelligence/internal/monitor"
)

// PublishRequest is the intake surface of the bus.
type PublishRequest struct {
	LeadID    string                 `json:"leadId"`
	TenantID  string                 `json:"tenantId"`
	EventType models.EventType       `json:"eventType"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
}

// Archiver is the slice of the archive layer the bus needs.
type Archiver interface {
	Enqueue(rec *models.IntelligenceRecord)
}

// BusOptions tunes the worker pool and the degradation behavior.
type BusOptions struct {
	WorkerCount int
	// FreshnessWindow is the normal serve-from-cache window.
	FreshnessWindow time.Duration
	// DegradedMultiplier widens the window while any breaker is open, so
	// stale-but-sane records absorb load the models cannot take.
	DegradedMultiplier int
	// MetricsInterval is the period of the health snapshot broadcast.
	MetricsInterval time.Duration
	// SoftBudget is the target compute latency per event; exceeding it
	// is logged, not failed.
	SoftBudget time.Duration
}

// Bus accepts events, orders them by priority, and processes them with a
// fixed worker pool. Publish never blocks on processing: at capacity it
// rejects immediately.
type Bus struct {
	queue       *PriorityQueue
	coordinator *Coordinator
	cache       *cache.MultiTierCache
	fanout      *broadcast.Fanout
	registry    *broadcast.Registry
	archiver    Archiver
	breakers    *monitor.BreakerSet
	perf        *monitor.PerformanceMonitor
	obs         *observability.Observability
	opts        BusOptions
	logger      logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBus wires the pipeline together. archiver and obs may be nil.
func NewBus(
	queue *PriorityQueue,
	coordinator *Coordinator,
	cache *cache.MultiTierCache,
	fanout *broadcast.Fanout,
	registry *broadcast.Registry,
	archiver Archiver,
	breakers *monitor.BreakerSet,
	perf *monitor.PerformanceMonitor,
	obs *observability.Observability,
	opts BusOptions,
	log logger.Logger,
) *Bus {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 50
	}
	if opts.DegradedMultiplier <= 0 {
		opts.DegradedMultiplier = 3
	}
	return &Bus{
		queue:       queue,
		coordinator: coordinator,
		cache:       cache,
		fanout:      fanout,
		registry:    registry,
		archiver:    archiver,
		breakers:    breakers,
		perf:        perf,
		obs:         obs,
		opts:        opts,
		logger:      log.WithFields(map[string]interface{}{"component": "event-bus"}),
	}
}

// Publish validates and enqueues one event, returning its assigned ID.
// Rejection reasons are ValidationFailed, CapacityExceeded, QueueClosed.
func (b *Bus) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if req.LeadID == "" {
		return "", commonerrors.NewValidationError("leadId is required")
	}
	if req.TenantID == "" {
		return "", commonerrors.NewValidationError("tenantId is required")
	}
	switch req.EventType {
	case models.EventLeadCreated, models.EventLeadUpdated, models.EventMessageReceived,
		models.EventScoreRefresh, models.EventChurnCheck, models.EventMatchRequest:
	default:
		return "", commonerrors.NewValidationError("unknown eventType: " + string(req.EventType))
	}
	if err := validation.ValidatePayload(string(req.EventType), req.Payload); err != nil {
		return "", commonerrors.NewValidationError(err.Error())
	}

	event := &models.LeadEvent{
		EventID:            uuid.New().String(),
		LeadID:             req.LeadID,
		TenantID:           req.TenantID,
		EventType:          req.EventType,
		Payload:            req.Payload,
		Priority:           models.ParsePriority(req.Priority),
		CreatedAt:          time.Now().UTC(),
		RequiredOperations: models.RequiredOperations(req.EventType),
	}

	if err := b.queue.Enqueue(event); err != nil {
		return "", err
	}

	metrics.EventsPublished.WithLabelValues(string(event.EventType), event.Priority.String()).Inc()
	return event.EventID, nil
}

// Start launches the worker pool and the periodic stats broadcast.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		b.cancel = cancel

		for i := 0; i < b.opts.WorkerCount; i++ {
			b.wg.Add(1)
			go b.worker(runCtx, i)
		}

		if b.opts.MetricsInterval > 0 {
			b.wg.Add(1)
			go b.statsLoop(runCtx)
		}

		b.logger.Info("event bus started", map[string]interface{}{
			"workers": b.opts.WorkerCount,
		})
	})
}

// Stop closes intake and waits for in-flight events to finish.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.queue.Close()
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.logger.Info("event bus stopped", nil)
	})
}

func (b *Bus) worker(ctx context.Context, id int) {
	defer b.wg.Done()

	for {
		event, err := b.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		b.processEvent(ctx, event)
	}
}

func (b *Bus) processEvent(ctx context.Context, event *models.LeadEvent) {
	start := time.Now()
	pctx := &models.ProcessingContext{
		EventID:   event.EventID,
		LeadID:    event.LeadID,
		Priority:  event.Priority,
		StartedAt: start,
	}

	key := cache.Key(event.TenantID, event.LeadID)
	freshness := b.opts.FreshnessWindow
	degradedServe := b.breakers.AnyOpen()
	if degradedServe {
		freshness = freshness * time.Duration(b.opts.DegradedMultiplier)
	}

	if rec, ok := b.cache.Get(ctx, key, freshness); ok {
		pctx.CacheHits++
		b.publishRecord(ctx, event, rec)
		b.recordOutcome(ctx, event, start, "cache_hit", false, true)
		return
	}
	pctx.CacheMisses++

	rec, err := b.coordinator.Process(ctx, event, pctx)
	if err != nil {
		// Every operation failed; publish the low-confidence fallback
		// so subscribers still see the event, but keep it out of the
		// cache where it would mask a later recovery.
		if rec == nil {
			rec = FallbackRecord(event, pctx)
		}
		b.publishRecord(ctx, event, rec)
		b.recordOutcome(ctx, event, start, "degraded", true, false)
		return
	}

	b.cache.Set(ctx, key, rec)
	b.publishRecord(ctx, event, rec)

	if b.archiver != nil {
		b.archiver.Enqueue(rec)
	}

	status := "ok"
	if rec.Degraded {
		status = "partial"
	}

	if b.opts.SoftBudget > 0 {
		if elapsed := time.Since(start); elapsed > b.opts.SoftBudget {
			b.logger.Debug("soft latency target exceeded", map[string]interface{}{
				"eventId":   event.EventID,
				"elapsedMs": float64(elapsed.Microseconds()) / 1000.0,
				"targetMs":  float64(b.opts.SoftBudget.Microseconds()) / 1000.0,
			})
		}
	}

	b.recordOutcome(ctx, event, start, status, false, false)
}

func (b *Bus) publishRecord(ctx context.Context, event *models.LeadEvent, rec *models.IntelligenceRecord) {
	env := &broadcast.Envelope{
		Topic:     broadcast.TopicIntelligence,
		TenantID:  event.TenantID,
		LeadID:    event.LeadID,
		EventID:   event.EventID,
		Timestamp: time.Now().UTC(),
		Data:      rec,
	}

	result, err := b.fanout.Broadcast(ctx, env)
	if err != nil {
		b.logger.Error("broadcast failed", map[string]interface{}{
			"eventId": event.EventID,
			"error":   err,
		})
		return
	}
	if result.Failed > 0 {
		b.logger.Warn("partial broadcast delivery", map[string]interface{}{
			"eventId":    event.EventID,
			"targeted":   result.Targeted,
			"successful": result.Successful,
			"failed":     result.Failed,
		})
	}
}

func (b *Bus) recordOutcome(ctx context.Context, event *models.LeadEvent, start time.Time, status string, failed, cacheHit bool) {
	elapsed := time.Since(start)
	metrics.EventsProcessed.WithLabelValues(string(event.EventType), status).Inc()
	metrics.ProcessingDuration.WithLabelValues(string(event.EventType)).Observe(elapsed.Seconds())
	b.perf.RecordEvent(failed, cacheHit)
	if b.obs != nil {
		b.obs.RecordEventProcessed(ctx, status)
		b.obs.RecordEventDuration(ctx, elapsed, status)
	}
}

// statsLoop pushes a pipeline health snapshot to every tenant with a
// metrics subscription.
func (b *Bus) statsLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.perf.Snapshot(b.queue.Len())
			for _, tenant := range b.registry.Tenants() {
				env := &broadcast.Envelope{
					Topic:     broadcast.TopicMetrics,
					TenantID:  tenant,
					Timestamp: time.Now().UTC(),
					Data:      snap,
				}
				if _, err := b.fanout.Broadcast(ctx, env); err != nil {
					b.logger.Warn("stats broadcast failed", map[string]interface{}{
						"tenantId": tenant,
						"error":    err,
					})
				}
			}
		}
	}
}

// Stats exposes the current pipeline health snapshot.
func (b *Bus) Stats() monitor.Snapshot {
	return b.perf.Snapshot(b.queue.Len())
}
