package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
)

// Topic names carried in broadcast envelopes.
const (
	TopicIntelligence = "intelligence"
	TopicMetrics      = "metrics"
)

// Envelope is the wire frame delivered to every subscriber.
type Envelope struct {
	Topic     string      `json:"topic"`
	TenantID  string      `json:"tenant_id"`
	LeadID    string      `json:"lead_id,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Result reports fanout outcome. Targeted = Successful + Failed always
// holds; a partial failure is not an error.
type Result struct {
	Targeted   int `json:"targeted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Fanout delivers envelopes to matching subscriptions concurrently,
// bounded by MaxConcurrency, with a per-send timeout. Connections whose
// transport reports closure are pruned from the registry.
type Fanout struct {
	registry       *Registry
	sendTimeout    time.Duration
	maxConcurrency int
	logger         logger.Logger
}

// NewFanout creates a fanout over the given registry.
func NewFanout(registry *Registry, sendTimeout time.Duration, maxConcurrency int, log logger.Logger) *Fanout {
	if maxConcurrency <= 0 {
		maxConcurrency = 64
	}
	return &Fanout{
		registry:       registry,
		sendTimeout:    sendTimeout,
		maxConcurrency: maxConcurrency,
		logger:         log.WithFields(map[string]interface{}{"component": "broadcast-fanout"}),
	}
}

// Broadcast serializes the envelope once and sends it to every matching
// subscription. Each connection gets its own timeout; one failure never
// affects another delivery.
func (f *Fanout) Broadcast(ctx context.Context, env *Envelope) (Result, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return Result{}, err
	}

	subs := f.registry.Match(env.TenantID, env.Topic, env.LeadID)
	result := Result{Targeted: len(subs)}
	metrics.BroadcastTargeted.Add(float64(len(subs)))
	if len(subs) == 0 {
		return result, nil
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		slots  = make(chan struct{}, f.maxConcurrency)
		pruned []*Subscription
	)

	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		slots <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
			defer cancel()

			err := sub.Transport.Send(sendCtx, payload)

			mu.Lock()
			if err != nil {
				result.Failed++
				if commonerrors.HasCode(err, commonerrors.ErrCodeConnectionClosed) {
					pruned = append(pruned, sub)
				}
			} else {
				result.Successful++
			}
			mu.Unlock()

			if err != nil {
				metrics.BroadcastFailed.Inc()
				f.logger.Warn("broadcast delivery failed", map[string]interface{}{
					"subscriptionId": sub.ID,
					"tenantId":       sub.TenantID,
					"topic":          env.Topic,
					"error":          err,
				})
			} else {
				metrics.BroadcastDelivered.Inc()
			}
		}()
	}

	wg.Wait()

	for _, sub := range pruned {
		f.registry.Unsubscribe(sub.TenantID, sub.ID)
	}

	return result, nil
}
