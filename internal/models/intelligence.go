// internal/models/intelligence.go
package models

import (
	"time"
)

// ScoreResult is the scoring model's output for one lead.
type ScoreResult struct {
	Score      float64 `json:"score"` // [0,1]
	Confidence string  `json:"confidence"`
	Tier       string  `json:"tier"`
}

// ChurnResult is the churn model's output for one lead.
type ChurnResult struct {
	Probability        float64  `json:"probability"` // [0,1]
	RiskLevel          string   `json:"riskLevel"`
	RecommendedActions []string `json:"recommendedActions,omitempty"`
}

// MatchPreferences narrows the property search for the matching model.
type MatchPreferences struct {
	Locations   []string `json:"locations,omitempty"`
	PriceMin    int      `json:"priceMin,omitempty"`
	PriceMax    int      `json:"priceMax,omitempty"`
	Bedrooms    int      `json:"bedrooms,omitempty"`
	PropertyTag string   `json:"propertyTag,omitempty"`
}

// MatchResult is one property match returned by the matching model.
type MatchResult struct {
	PropertyID string  `json:"propertyId"`
	Address    string  `json:"address,omitempty"`
	MatchScore float64 `json:"matchScore"` // [0,1]
	Reason     string  `json:"reason,omitempty"`
}

// IntelligenceRecord is the merged output of all inference operations for
// one lead at one point in time. Operation fields are optional: "not
// computed" is a valid state, not an error. Once published the record is
// treated as read-only by cache and broadcast consumers.
type IntelligenceRecord struct {
	LeadID             string        `json:"leadId"`
	TenantID           string        `json:"tenantId"`
	ComputedAt         time.Time     `json:"computedAt"`
	LeadScore          *ScoreResult  `json:"leadScore,omitempty"`
	ChurnPrediction    *ChurnResult  `json:"churnPrediction,omitempty"`
	PropertyMatches    []MatchResult `json:"propertyMatches,omitempty"`
	EngagementScore    *float64      `json:"engagementScore,omitempty"`
	OverallHealthScore float64       `json:"overallHealthScore"` // [0,1]
	ConfidenceScore    float64       `json:"confidenceScore"`    // [0,1]
	PriorityLevel      string        `json:"priorityLevel"`
	Degraded           bool          `json:"degraded,omitempty"`
	ProcessingTimeMS   float64       `json:"processingTimeMs"`
	CacheHitRate       float64       `json:"cacheHitRate"`
}

// HealthPriorityLevel buckets a health score into an urgency level.
// Ties break toward the lower urgency bucket.
func HealthPriorityLevel(health float64) string {
	switch {
	case health > 0.8:
		return "critical"
	case health > 0.6:
		return "high"
	case health > 0.4:
		return "medium"
	default:
		return "low"
	}
}

// Clamp01 bounds a probability-valued signal into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
