package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPending     = "pending"
	RunStatusRunning     = "running"
	RunStatusPaused      = "paused"
	RunStatusSummarizing = "summarizing"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusCancelled   = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ActiveRunStatuses are the statuses that count as "still going" when
// checking for an equivalent duplicate run.
var ActiveRunStatuses = []string{
	RunStatusPending, RunStatusRunning, RunStatusPaused, RunStatusSummarizing,
}

// ValidPriority reports whether p is an accepted run priority.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// ModelFingerprint normalizes a model set for equivalence comparison:
// case-insensitive, order-independent.
func ModelFingerprint(modelIDs []string) string {
	normalized := make([]string, len(modelIDs))
	for i, id := range modelIDs {
		normalized[i] = strings.ToLower(strings.TrimSpace(id))
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ",")
}

// RunConfig is the frozen configuration snapshot taken at launch time.
// Later edits to the definition never change what a run represents.
type RunConfig struct {
	Models            []string        `json:"models"`
	SamplePercentage  int             `json:"sample_percentage"`
	SampleSeed        *int64          `json:"sample_seed,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
	Priority          string          `json:"priority"`
	FinalTrial        bool            `json:"final_trial"`
	PreambleVersionID *uuid.UUID      `json:"preamble_version_id,omitempty"`
	DefinitionVersion int             `json:"definition_version"`
	DefinitionContent json.RawMessage `json:"definition_content"`
}

// RunProgress tracks job completion for a run.
// Invariant: Completed + Failed <= Total.
type RunProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Run is one execution attempt of a definition against a set of models.
// Aggregate runs are synthetic: they hold merged statistics for several
// real runs and never produce probe jobs themselves.
type Run struct {
	ID              uuid.UUID   `db:"id"               json:"id"`
	DefinitionID    uuid.UUID   `db:"definition_id"    json:"definition_id"`
	ExperimentID    *uuid.UUID  `db:"experiment_id"    json:"experiment_id,omitempty"`
	Status          string      `db:"status"           json:"status"`
	Config          RunConfig   `db:"config"           json:"config"`
	Progress        RunProgress `db:"progress"         json:"progress"`
	IsAggregate     bool        `db:"is_aggregate"     json:"is_aggregate"`
	SourceRunIDs    []uuid.UUID `db:"source_run_ids"   json:"source_run_ids,omitempty"`
	TranscriptCount int         `db:"transcript_count" json:"transcript_count"`
	CreatedBy       uuid.UUID   `db:"created_by"       json:"created_by"`
	DeletedAt       *time.Time  `db:"deleted_at"       json:"deleted_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"       json:"updated_at"`
}
