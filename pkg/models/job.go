package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job is one (scenario, model) probe unit belonging to a run. Jobs are
// created at launch time and are immutable afterwards except for their
// status and failure outcome.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	RunID        uuid.UUID  `db:"run_id"        json:"run_id"`
	ScenarioID   uuid.UUID  `db:"scenario_id"   json:"scenario_id"`
	ModelID      string     `db:"model_id"      json:"model_id"`
	QueueName    string     `db:"queue_name"    json:"queue_name"`
	Status       string     `db:"status"        json:"status"`
	ErrorCode    *string    `db:"error_code"    json:"error_code,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	Retryable    *bool      `db:"retryable"     json:"retryable,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
