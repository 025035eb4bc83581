package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AnalysisStatusCurrent    = "current"
	AnalysisStatusSuperseded = "superseded"
)

const (
	AnalysisKindTrialStats = "trial_stats"
)

// AnalysisResult is the versioned output of statistical processing for one
// run and one analysis kind. At most one result per (run, kind) is current;
// writing a new current result demotes the previous one to superseded.
type AnalysisResult struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	RunID     uuid.UUID  `db:"run_id"     json:"run_id"`
	Kind      string     `db:"kind"       json:"kind"`
	Status    string     `db:"status"     json:"status"`
	Stats     TrialStats `db:"stats"      json:"stats"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// TrialStats is the statistics payload stored on an analysis result.
// For real runs it is produced by the stats workers; for aggregate runs
// it is the merged view computed by the aggregate engine.
type TrialStats struct {
	DecisionScaleMax int                   `json:"decision_scale_max"`
	PerModel         map[string]ModelStats `json:"per_model"`
	Contested        []ContestedScenario   `json:"contested_scenarios,omitempty"`
}

// ModelStats holds one model's statistics within a run.
type ModelStats struct {
	SampleSize int `json:"sample_size"`

	// Decisions maps scenario id to the raw decision codes observed for
	// that scenario, one entry per transcript.
	Decisions map[string][]float64 `json:"decisions,omitempty"`

	// Distribution tallies one vote per scenario at the scenario's mean
	// decision code, rounded and clamped to the decision scale.
	Distribution map[int]int `json:"distribution,omitempty"`

	// WinRates holds pairwise prioritization outcomes keyed by the
	// compared pair (e.g. "privacy|convenience").
	WinRates map[string]WinRateStats `json:"win_rates,omitempty"`
}

// WinRateStats holds prioritization counts and the derived win rate for
// one (model, compared-pair) combination.
type WinRateStats struct {
	Prioritized   int     `json:"prioritized"`
	Deprioritized int     `json:"deprioritized"`
	Neutral       int     `json:"neutral"`
	WinRate       float64 `json:"win_rate"`

	// Aggregate-only fields: mean and 95% confidence interval of the
	// per-run win rates that were merged.
	RunMean *float64 `json:"run_mean,omitempty"`
	CILower *float64 `json:"ci_lower,omitempty"`
	CIUpper *float64 `json:"ci_upper,omitempty"`
}

// ContestedScenario is a scenario with high decision variance across runs.
type ContestedScenario struct {
	ScenarioID string  `json:"scenario_id"`
	Variance   float64 `json:"variance"`
}
