package estimate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for planner client failures.
var (
	ErrPlannerUnreachable = errors.New("planner unreachable")
	ErrPlannerRejected    = errors.New("planner rejected request")
)

// HTTPClient implements CostEstimator and StabilityPlanner against the
// planning service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a planner HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Estimate(ctx context.Context, definitionID uuid.UUID, modelIDs []string, samplePercentage, samplesPerScenario int) (*CostEstimate, error) {
	body := map[string]any{
		"definition_id":        definitionID,
		"model_ids":            modelIDs,
		"sample_percentage":    samplePercentage,
		"samples_per_scenario": samplesPerScenario,
	}
	var estimate CostEstimate
	if err := c.post(ctx, "/api/v1/estimate", body, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

func (c *HTTPClient) Plan(ctx context.Context, definitionID uuid.UUID, modelIDs []string) (*SamplingPlan, error) {
	body := map[string]any{
		"definition_id": definitionID,
		"model_ids":     modelIDs,
	}
	var plan SamplingPlan
	if err := c.post(ctx, "/api/v1/plan", body, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlannerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrPlannerRejected, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding planner response: %w", err)
	}
	return nil
}
