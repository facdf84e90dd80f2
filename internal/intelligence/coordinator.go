package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"lead-intelligence/internal/adapters"
	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/models"
	"lead-intelligence/internal/monitor"
)

const defaultMaxMatches = 5

// CoordinatorOptions bounds a coordination round.
type CoordinatorOptions struct {
	// HardCeiling caps the whole round; any operation still running at
	// the deadline is abandoned.
	HardCeiling time.Duration
	// PerOpTimeout caps each individual adapter call.
	PerOpTimeout map[models.OperationKind]time.Duration
	// EngagementDecay is how long since the last message before the
	// recency part of the engagement signal reaches zero.
	EngagementDecay time.Duration
}

// Coordinator fans one event out to the inference adapters in parallel
// and merges whatever came back into a single intelligence record. An
// operation failing is recovered as an absent field, never a failed
// event; the round as a whole fails only when nothing at all could run.
type Coordinator struct {
	adapters adapters.Set
	breakers *monitor.BreakerSet
	perf     *monitor.PerformanceMonitor
	opts     CoordinatorOptions
	logger   logger.Logger
}

// NewCoordinator wires the coordinator to its adapters and breakers.
func NewCoordinator(set adapters.Set, breakers *monitor.BreakerSet, perf *monitor.PerformanceMonitor, opts CoordinatorOptions, log logger.Logger) *Coordinator {
	return &Coordinator{
		adapters: set,
		breakers: breakers,
		perf:     perf,
		opts:     opts,
		logger:   log.WithFields(map[string]interface{}{"component": "inference-coordinator"}),
	}
}

type roundResults struct {
	score   *models.ScoreResult
	churn   *models.ChurnResult
	matches []models.MatchResult
}

// Process runs the event's required operations concurrently and returns
// the merged record. The returned record is complete and publishable even
// when every operation failed; Degraded marks that case.
func (c *Coordinator) Process(ctx context.Context, event *models.LeadEvent, pctx *models.ProcessingContext) (*models.IntelligenceRecord, error) {
	start := time.Now()

	roundCtx, cancel := context.WithTimeout(ctx, c.opts.HardCeiling)
	defer cancel()

	ops := event.RequiredOperations
	if len(ops) == 0 {
		ops = models.RequiredOperations(event.EventType)
	}

	var results roundResults
	g, gctx := errgroup.WithContext(roundCtx)
	succeeded := make([]bool, len(ops))

	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			opStart := time.Now()
			err := c.runOperation(gctx, op, event, &results)
			latency := time.Since(opStart)

			metrics.AdapterDuration.WithLabelValues(op.String()).Observe(latency.Seconds())
			c.perf.RecordOperation(op, latency, err != nil)

			if err != nil {
				metrics.AdapterFailures.WithLabelValues(op.String(), errorCode(err)).Inc()
				c.logger.Warn("inference operation failed", map[string]interface{}{
					"operation": op.String(),
					"eventId":   event.EventID,
					"leadId":    event.LeadID,
					"error":     err,
				})
				// Recovered here: the merge treats it as not computed.
				return nil
			}

			succeeded[i] = true
			return nil
		})
	}

	// Goroutines always return nil; Wait only observes ctx plumbing.
	_ = g.Wait()

	anySucceeded := false
	for i := range succeeded {
		if succeeded[i] {
			anySucceeded = true
			pctx.CompletedOperations = append(pctx.CompletedOperations, ops[i])
		}
	}

	rec := c.merge(event, &results, pctx)
	rec.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	if !anySucceeded {
		rec.Degraded = true
		return rec, commonerrors.NewCoordinatorFailedError(fmt.Errorf("all %d operations failed", len(ops)))
	}
	if len(pctx.CompletedOperations) < len(ops) {
		rec.Degraded = true
	}
	return rec, nil
}

func (c *Coordinator) runOperation(ctx context.Context, op models.OperationKind, event *models.LeadEvent, results *roundResults) error {
	timeout, ok := c.opts.PerOpTimeout[op]
	if !ok {
		timeout = 500 * time.Millisecond
	}

	out, err := c.breakers.Execute(op, func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		switch op {
		case models.OpScoring:
			return c.adapters.Scoring.Score(opCtx, event.LeadID, featuresFromPayload(event.Payload))
		case models.OpChurn:
			return c.adapters.Churn.Predict(opCtx, event.LeadID, featuresFromPayload(event.Payload))
		case models.OpMatching:
			prefs, maxResults := matchParamsFromPayload(event.Payload)
			return c.adapters.Matching.Match(opCtx, event.LeadID, prefs, maxResults)
		default:
			return nil, commonerrors.NewAdapterUnavailableError(op.String(), nil)
		}
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return commonerrors.NewBreakerOpenError(op.String())
		}
		return err
	}

	// Each operation writes a distinct slot, so no lock is needed.
	switch op {
	case models.OpScoring:
		results.score = out.(*models.ScoreResult)
	case models.OpChurn:
		results.churn = out.(*models.ChurnResult)
	case models.OpMatching:
		results.matches = out.([]models.MatchResult)
	}
	return nil
}

// merge folds the partial results into a complete record. Missing signals
// fall back to a neutral 0.5 so the health score is always defined.
func (c *Coordinator) merge(event *models.LeadEvent, results *roundResults, pctx *models.ProcessingContext) *models.IntelligenceRecord {
	rec := &models.IntelligenceRecord{
		LeadID:          event.LeadID,
		TenantID:        event.TenantID,
		ComputedAt:      time.Now().UTC(),
		LeadScore:       results.score,
		ChurnPrediction: results.churn,
		PropertyMatches: results.matches,
		CacheHitRate:    pctx.CacheHitRate(),
	}

	var signals []float64
	if results.score != nil {
		signals = append(signals, models.Clamp01(results.score.Score))
	}
	if results.churn != nil {
		signals = append(signals, 1.0-models.Clamp01(results.churn.Probability))
	}
	if eng, ok := c.engagementSignal(event.Payload); ok {
		rec.EngagementScore = &eng
		signals = append(signals, eng)
	}

	if len(signals) == 0 {
		rec.OverallHealthScore = 0.5
		rec.ConfidenceScore = 0.25
	} else {
		sum := 0.0
		for _, s := range signals {
			sum += s
		}
		rec.OverallHealthScore = models.Clamp01(sum / float64(len(signals)))
		rec.ConfidenceScore = models.Clamp01(float64(len(signals)) / 3.0)
	}

	rec.PriorityLevel = models.HealthPriorityLevel(rec.OverallHealthScore)
	return rec
}

// FallbackRecord builds the low-confidence record published when no
// inference could run at all. Consumers can tell it apart by the Degraded
// flag and the sub-0.3 confidence.
func FallbackRecord(event *models.LeadEvent, pctx *models.ProcessingContext) *models.IntelligenceRecord {
	rec := &models.IntelligenceRecord{
		LeadID:             event.LeadID,
		TenantID:           event.TenantID,
		ComputedAt:         time.Now().UTC(),
		OverallHealthScore: 0.5,
		ConfidenceScore:    0.25,
		PriorityLevel:      models.HealthPriorityLevel(0.5),
		Degraded:           true,
		CacheHitRate:       pctx.CacheHitRate(),
	}
	return rec
}

func featuresFromPayload(payload map[string]interface{}) map[string]float64 {
	features := make(map[string]float64)
	raw, ok := payload["features"].(map[string]interface{})
	if !ok {
		return features
	}
	for k, v := range raw {
		if f, ok := toFloat(v); ok {
			features[k] = f
		}
	}
	return features
}

func matchParamsFromPayload(payload map[string]interface{}) (models.MatchPreferences, int) {
	prefs := models.MatchPreferences{}
	maxResults := defaultMaxMatches

	if raw, ok := payload["preferences"].(map[string]interface{}); ok {
		if locs, ok := raw["locations"].([]interface{}); ok {
			for _, l := range locs {
				if s, ok := l.(string); ok {
					prefs.Locations = append(prefs.Locations, s)
				}
			}
		}
		if v, ok := toFloat(raw["priceMin"]); ok {
			prefs.PriceMin = int(v)
		}
		if v, ok := toFloat(raw["priceMax"]); ok {
			prefs.PriceMax = int(v)
		}
		if v, ok := toFloat(raw["bedrooms"]); ok {
			prefs.Bedrooms = int(v)
		}
		if s, ok := raw["propertyTag"].(string); ok {
			prefs.PropertyTag = s
		}
	}
	if v, ok := toFloat(payload["maxResults"]); ok && v > 0 {
		maxResults = int(v)
	}
	return prefs, maxResults
}

// engagementSignal prefers an explicit score from the event source and
// otherwise derives one from message activity: volume saturating at ten
// messages, recency decaying linearly to zero over the decay window.
func (c *Coordinator) engagementSignal(payload map[string]interface{}) (float64, bool) {
	if v, ok := toFloat(payload["engagementScore"]); ok {
		return models.Clamp01(v), true
	}

	msgs, ok := payload["messages"].([]interface{})
	if !ok || len(msgs) == 0 {
		return 0, false
	}

	volume := float64(len(msgs)) / 10.0
	if volume > 1 {
		volume = 1
	}

	recency := 1.0
	if newest, ok := newestMessageTime(msgs); ok && c.opts.EngagementDecay > 0 {
		age := time.Since(newest)
		if age >= c.opts.EngagementDecay {
			recency = 0
		} else if age > 0 {
			recency = 1 - age.Seconds()/c.opts.EngagementDecay.Seconds()
		}
	}

	return models.Clamp01(0.5*volume + 0.5*recency), true
}

func newestMessageTime(msgs []interface{}) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, m := range msgs {
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := entry["sentAt"].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if !found || ts.After(newest) {
			newest = ts
			found = true
		}
	}
	return newest, found
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func errorCode(err error) string {
	var se *commonerrors.StandardError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return "internal"
}
