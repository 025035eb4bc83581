// Package queue is the job-queue port. Delivery is at-least-once; worker
// concurrency per named queue is enforced by the queue consumers, never
// by the enqueuing side.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProbePayload is the message enqueued for one (scenario, model) probe.
type ProbePayload struct {
	JobID       uuid.UUID `json:"job_id"`
	RunID       uuid.UUID `json:"run_id"`
	ScenarioID  uuid.UUID `json:"scenario_id"`
	ModelID     string    `json:"model_id"`
	Temperature *float64  `json:"temperature,omitempty"`
	Priority    string    `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue enqueues probe jobs onto named queues.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload ProbePayload) (uuid.UUID, error)
}
