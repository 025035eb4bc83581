// Package estimate declares the external planning services consumed by
// the orchestrators. Both are pure black boxes: token-statistics cost
// estimation and stability planning live in separate services.
package estimate

import (
	"context"

	"github.com/google/uuid"
)

// ModelCost is one model's share of a cost estimate.
type ModelCost struct {
	ModelID  string  `json:"model_id"`
	TotalUsd float64 `json:"total_usd"`
}

// CostEstimate is the projected cost of launching a run.
type CostEstimate struct {
	TotalUsd float64     `json:"total_usd"`
	PerModel []ModelCost `json:"per_model"`
}

// CostEstimator projects the cost of running a definition against a
// model set. Pure function of historical token statistics.
type CostEstimator interface {
	Estimate(ctx context.Context, definitionID uuid.UUID, modelIDs []string, samplePercentage, samplesPerScenario int) (*CostEstimate, error)
}

// SamplingPlan is the stability planner's verdict. TotalJobs == 0 means
// the sequence is stable and sampling should stop.
type SamplingPlan struct {
	TotalJobs int `json:"total_jobs"`
}

// StabilityPlanner decides whether an experiment needs another sampling
// round.
type StabilityPlanner interface {
	Plan(ctx context.Context, definitionID uuid.UUID, modelIDs []string) (*SamplingPlan, error)
}
