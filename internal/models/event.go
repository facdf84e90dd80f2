// internal/models/event.go
package models

import (
	"time"
)

// EventType classifies incoming lead-activity events.
type EventType string

const (
	EventLeadCreated     EventType = "lead-created"
	EventLeadUpdated     EventType = "lead-updated"
	EventMessageReceived EventType = "message-received"
	EventScoreRefresh    EventType = "score-refresh"
	EventChurnCheck      EventType = "churn-check"
	EventMatchRequest    EventType = "match-request"
)

// Priority orders events in the intake queue. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps the wire value onto a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// OperationKind identifies one inference operation the coordinator can run.
type OperationKind int

const (
	OpScoring OperationKind = iota
	OpChurn
	OpMatching
)

func (k OperationKind) String() string {
	switch k {
	case OpScoring:
		return "scoring"
	case OpChurn:
		return "churn"
	case OpMatching:
		return "matching"
	default:
		return "unknown"
	}
}

// AllOperations lists every inference operation, in dispatch order.
var AllOperations = []OperationKind{OpScoring, OpChurn, OpMatching}

// RequiredOperations returns the inference operations an event type demands.
// A score refresh only re-runs scoring; a new lead runs the full set.
func RequiredOperations(et EventType) []OperationKind {
	switch et {
	case EventScoreRefresh:
		return []OperationKind{OpScoring}
	case EventChurnCheck:
		return []OperationKind{OpChurn}
	case EventMatchRequest:
		return []OperationKind{OpMatching}
	case EventMessageReceived:
		return []OperationKind{OpScoring, OpChurn}
	default:
		return []OperationKind{OpScoring, OpChurn, OpMatching}
	}
}

// LeadEvent is the immutable intake record. It is created on publish and
// consumed exactly once by a pipeline worker.
type LeadEvent struct {
	EventID            string                 `json:"eventId"`
	LeadID             string                 `json:"leadId"`
	TenantID           string                 `json:"tenantId"`
	EventType          EventType              `json:"eventType"`
	Payload            map[string]interface{} `json:"payload,omitempty"`
	Priority           Priority               `json:"priority"`
	CreatedAt          time.Time              `json:"createdAt"`
	RequiredOperations []OperationKind        `json:"requiredOperations"`
}

// ProcessingContext is per-event scratch state owned exclusively by the
// worker processing the event. It is never shared across workers.
type ProcessingContext struct {
	EventID             string
	LeadID              string
	Priority            Priority
	StartedAt           time.Time
	CacheHits           int
	CacheMisses         int
	CompletedOperations []OperationKind
}

// CacheHitRate reports the fraction of cache lookups that hit, in [0,1].
func (p *ProcessingContext) CacheHitRate() float64 {
	total := p.CacheHits + p.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(p.CacheHits) / float64(total)
}
