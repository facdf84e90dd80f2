// Package adapters holds the narrow contracts to the external inference
// services. Each adapter is call + timeout + typed result; failure modes
// are AdapterUnavailable and AdapterTimeout, both recovered locally by the
// coordinator as an absent field in the intelligence record.
package adapters

import (
	"context"

	"lead-intelligence/internal/models"
)

// ScoringAdapter calls the lead-scoring model service.
type ScoringAdapter interface {
	Score(ctx context.Context, leadID string, features map[string]float64) (*models.ScoreResult, error)
}

// ChurnAdapter calls the churn-prediction model service.
type ChurnAdapter interface {
	Predict(ctx context.Context, leadID string, features map[string]float64) (*models.ChurnResult, error)
}

// MatchingAdapter calls the property-matching model service.
type MatchingAdapter interface {
	Match(ctx context.Context, leadID string, prefs models.MatchPreferences, maxResults int) ([]models.MatchResult, error)
}

// Set bundles the three adapters for injection into the coordinator.
type Set struct {
	Scoring  ScoringAdapter
	Churn    ChurnAdapter
	Matching MatchingAdapter
}
