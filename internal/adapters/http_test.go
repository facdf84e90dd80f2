package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-intelligence/internal/common/config"
	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/models"
)

// ==========================
// Test Helpers
// ==========================

func adapterConfig(baseURL string) config.AdapterConfig {
	return config.AdapterConfig{BaseURL: baseURL, Timeout: 200}
}

func jsonHandler(t *testing.T, wantPath string, response interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ==========================
// Scoring Adapter Tests
// ==========================

func TestHTTPScoringAdapter_Score(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/v1/score", map[string]interface{}{
		"score":      0.87,
		"confidence": "high",
		"tier":       "hot",
	}))
	defer srv.Close()

	adapter := NewHTTPScoringAdapter(adapterConfig(srv.URL))
	result, err := adapter.Score(context.Background(), "lead-1", map[string]float64{"recency": 0.9})
	require.NoError(t, err)

	assert.InDelta(t, 0.87, result.Score, 1e-9)
	assert.Equal(t, "high", result.Confidence)
	assert.Equal(t, "hot", result.Tier)
}

func TestHTTPScoringAdapter_ClampsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/v1/score", map[string]interface{}{"score": 1.8}))
	defer srv.Close()

	adapter := NewHTTPScoringAdapter(adapterConfig(srv.URL))
	result, err := adapter.Score(context.Background(), "lead-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)
}

// ==========================
// Churn Adapter Tests
// ==========================

func TestHTTPChurnAdapter_Predict(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/v1/predict", map[string]interface{}{
		"probability":        0.35,
		"riskLevel":          "medium",
		"recommendedActions": []string{"call-back"},
	}))
	defer srv.Close()

	adapter := NewHTTPChurnAdapter(adapterConfig(srv.URL))
	result, err := adapter.Predict(context.Background(), "lead-1", nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.35, result.Probability, 1e-9)
	assert.Equal(t, "medium", result.RiskLevel)
	assert.Equal(t, []string{"call-back"}, result.RecommendedActions)
}

// ==========================
// Matching Adapter Tests
// ==========================

func TestHTTPMatchingAdapter_Match(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/v1/match", map[string]interface{}{
		"matches": []map[string]interface{}{
			{"propertyId": "p1", "matchScore": 0.9, "address": "12 Oak St"},
			{"propertyId": "p2", "matchScore": 0.6},
		},
	}))
	defer srv.Close()

	adapter := NewHTTPMatchingAdapter(adapterConfig(srv.URL))
	matches, err := adapter.Match(context.Background(), "lead-1", models.MatchPreferences{
		Locations: []string{"downtown"},
		PriceMax:  500000,
	}, 5)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "p1", matches[0].PropertyID)
	assert.Equal(t, "12 Oak St", matches[0].Address)
}

// ==========================
// Failure Mapping Tests
// ==========================

func TestAdapters_ErrorTaxonomy(t *testing.T) {
	t.Run("non-200 maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		adapter := NewHTTPScoringAdapter(adapterConfig(srv.URL))
		_, err := adapter.Score(context.Background(), "lead-1", nil)
		require.Error(t, err)
		assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeAdapterUnavailable))
	})

	t.Run("connection refused maps to unavailable", func(t *testing.T) {
		adapter := NewHTTPChurnAdapter(adapterConfig("http://127.0.0.1:1"))
		_, err := adapter.Predict(context.Background(), "lead-1", nil)
		require.Error(t, err)
		assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeAdapterUnavailable))
	})

	t.Run("slow service maps to timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()

		adapter := NewHTTPMatchingAdapter(adapterConfig(srv.URL))
		_, err := adapter.Match(context.Background(), "lead-1", models.MatchPreferences{}, 5)
		require.Error(t, err)
		assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeAdapterTimeout))
	})

	t.Run("malformed body maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		adapter := NewHTTPScoringAdapter(adapterConfig(srv.URL))
		_, err := adapter.Score(context.Background(), "lead-1", nil)
		require.Error(t, err)
		assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeAdapterUnavailable))
	})
}
