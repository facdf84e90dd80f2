// internal/adapters/http.go
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"time"

	"lead-intelligence/internal/common/config"
	stderrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/http"
	"lead-intelligence/internal/models"
)

// HTTPScoringAdapter calls the scoring service over HTTP JSON.
type HTTPScoringAdapter struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewHTTPScoringAdapter(cfg config.AdapterConfig) *HTTPScoringAdapter {
	timeout := config.GetDuration(cfg.Timeout)
	return &HTTPScoringAdapter{
		client:  http.NewClient(timeout),
		baseURL: cfg.BaseURL,
		timeout: timeout,
	}
}

func (a *HTTPScoringAdapter) Score(ctx context.Context, leadID string, features map[string]float64) (*models.ScoreResult, error) {
	var out models.ScoreResult
	body := map[string]interface{}{"leadId": leadID, "features": features}
	if err := a.post(ctx, "/v1/score", body, &out); err != nil {
		return nil, err
	}
	out.Score = models.Clamp01(out.Score)
	return &out, nil
}

func (a *HTTPScoringAdapter) post(ctx context.Context, path string, body, out interface{}) error {
	return postJSON(ctx, a.client, a.baseURL+path, a.timeout, "scoring", body, out)
}

// HTTPChurnAdapter calls the churn service over HTTP JSON.
type HTTPChurnAdapter struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewHTTPChurnAdapter(cfg config.AdapterConfig) *HTTPChurnAdapter {
	timeout := config.GetDuration(cfg.Timeout)
	return &HTTPChurnAdapter{
		client:  http.NewClient(timeout),
		baseURL: cfg.BaseURL,
		timeout: timeout,
	}
}

func (a *HTTPChurnAdapter) Predict(ctx context.Context, leadID string, features map[string]float64) (*models.ChurnResult, error) {
	var out models.ChurnResult
	body := map[string]interface{}{"leadId": leadID, "features": features}
	if err := postJSON(ctx, a.client, a.baseURL+"/v1/predict", a.timeout, "churn", body, &out); err != nil {
		return nil, err
	}
	out.Probability = models.Clamp01(out.Probability)
	return &out, nil
}

// HTTPMatchingAdapter calls the property-matching service over HTTP JSON.
type HTTPMatchingAdapter struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewHTTPMatchingAdapter(cfg config.AdapterConfig) *HTTPMatchingAdapter {
	timeout := config.GetDuration(cfg.Timeout)
	return &HTTPMatchingAdapter{
		client:  http.NewClient(timeout),
		baseURL: cfg.BaseURL,
		timeout: timeout,
	}
}

func (a *HTTPMatchingAdapter) Match(ctx context.Context, leadID string, prefs models.MatchPreferences, maxResults int) ([]models.MatchResult, error) {
	var out struct {
		Matches []models.MatchResult `json:"matches"`
	}
	body := map[string]interface{}{"leadId": leadID, "preferences": prefs, "maxResults": maxResults}
	if err := postJSON(ctx, a.client, a.baseURL+"/v1/match", a.timeout, "matching", body, &out); err != nil {
		return nil, err
	}
	for i := range out.Matches {
		out.Matches[i].MatchScore = models.Clamp01(out.Matches[i].MatchScore)
	}
	return out.Matches, nil
}

// postJSON performs one adapter round trip, mapping transport failures onto
// the pipeline error taxonomy.
func postJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, operation string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return stderrors.NewAdapterUnavailableError(operation, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(callCtx, nethttp.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return stderrors.NewAdapterUnavailableError(operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return stderrors.NewAdapterTimeoutError(operation, timeout)
		}
		return stderrors.NewAdapterUnavailableError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return stderrors.NewAdapterUnavailableError(operation, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stderrors.NewAdapterUnavailableError(operation, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return stderrors.NewAdapterUnavailableError(operation, err)
	}
	return nil
}
