// Package broadcast manages tenant-scoped subscriptions and fans
// intelligence updates out to their connections. Delivery is best-effort:
// a slow or dead connection never blocks the pipeline or its siblings.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
)

// Transport is the delivery side of a subscription. Implementations wrap
// whatever carries the bytes to the consumer; Send must respect the
// context deadline and return an error once the connection is gone.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Subscription ties a transport to the topics and leads it wants.
// An empty LeadFilters slice means all leads for the tenant.
type Subscription struct {
	ID          string
	TenantID    string
	Topics      map[string]struct{}
	LeadFilters map[string]struct{}
	Transport   Transport
	CreatedAt   time.Time
}

func (s *Subscription) wantsTopic(topic string) bool {
	_, ok := s.Topics[topic]
	return ok
}

func (s *Subscription) wantsLead(leadID string) bool {
	if len(s.LeadFilters) == 0 {
		return true
	}
	_, ok := s.LeadFilters[leadID]
	return ok
}

// Registry indexes subscriptions by tenant for fanout lookup.
type Registry struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]*Subscription
	logger   logger.Logger
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		byTenant: make(map[string]map[string]*Subscription),
		logger:   log.WithFields(map[string]interface{}{"component": "subscription-registry"}),
	}
}

// Subscribe registers a transport for a tenant and returns the
// subscription ID used to unsubscribe later.
func (r *Registry) Subscribe(tenantID string, topics, leadFilters []string, transport Transport) (string, error) {
	if tenantID == "" || transport == nil || len(topics) == 0 {
		return "", commonerrors.NewSubscriptionInvalidError("tenantId, transport and at least one topic are required")
	}

	sub := &Subscription{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Topics:      make(map[string]struct{}, len(topics)),
		LeadFilters: make(map[string]struct{}, len(leadFilters)),
		Transport:   transport,
		CreatedAt:   time.Now().UTC(),
	}
	for _, t := range topics {
		sub.Topics[t] = struct{}{}
	}
	for _, l := range leadFilters {
		sub.LeadFilters[l] = struct{}{}
	}

	r.mu.Lock()
	if r.byTenant[tenantID] == nil {
		r.byTenant[tenantID] = make(map[string]*Subscription)
	}
	r.byTenant[tenantID][sub.ID] = sub
	r.mu.Unlock()

	r.logger.Info("subscription registered", map[string]interface{}{
		"subscriptionId": sub.ID,
		"tenantId":       tenantID,
		"topics":         topics,
		"leadFilters":    len(leadFilters),
	})
	return sub.ID, nil
}

// Unsubscribe removes the subscription and closes its transport.
func (r *Registry) Unsubscribe(tenantID, subscriptionID string) {
	r.mu.Lock()
	var sub *Subscription
	if subs, ok := r.byTenant[tenantID]; ok {
		sub = subs[subscriptionID]
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(r.byTenant, tenantID)
		}
	}
	r.mu.Unlock()

	if sub != nil {
		_ = sub.Transport.Close()
		r.logger.Info("subscription removed", map[string]interface{}{
			"subscriptionId": subscriptionID,
			"tenantId":       tenantID,
		})
	}
}

// Match returns the tenant's subscriptions interested in the topic and
// lead. leadID may be empty for topics that are not lead-scoped.
func (r *Registry) Match(tenantID, topic, leadID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.byTenant[tenantID] {
		if !sub.wantsTopic(topic) {
			continue
		}
		if leadID != "" && !sub.wantsLead(leadID) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// Tenants lists every tenant with at least one live subscription.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTenant))
	for t := range r.byTenant {
		out = append(out, t)
	}
	return out
}

// Count reports the number of live subscriptions for a tenant.
func (r *Registry) Count(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTenant[tenantID])
}
