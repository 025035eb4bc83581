// Package launch turns "run this definition against these models" into a
// persisted run plus a deterministic set of queued probe jobs.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/internal/audit"
	"github.com/probelab/trialbench/internal/fault"
	"github.com/probelab/trialbench/internal/queue"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
)

// QueueRouter resolves the queue that serves a model's provider.
type QueueRouter interface {
	QueueNameFor(ctx context.Context, modelID string) (string, error)
}

// Params describes one run launch request.
type Params struct {
	DefinitionID      uuid.UUID
	Models            []string
	SamplePercentage  int    // 0 means 100
	SampleSeed        *int64 // nil means a fresh random seed
	Temperature       *float64
	Priority          string // "" means normal
	FinalTrial        bool
	ExperimentID      *uuid.UUID
	PreambleVersionID *uuid.UUID
	UserID            uuid.UUID
}

// Result is what a successful launch returns.
type Result struct {
	Run      *models.Run
	JobCount int
}

// Orchestrator creates runs and fans their jobs out onto provider queues.
type Orchestrator struct {
	store  store.Store
	router QueueRouter
	queue  queue.Queue
	audit  audit.Sink
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.Store, router QueueRouter, q queue.Queue, sink audit.Sink) *Orchestrator {
	return &Orchestrator{store: st, router: router, queue: q, audit: sink}
}

// Launch validates the request, deterministically samples scenarios,
// persists the run with its jobs and progress in one transaction, then
// enqueues one payload per (scenario, model) pair. An enqueue failure
// rolls the run back via compensating cleanup so no half-launched run
// survives.
func (o *Orchestrator) Launch(ctx context.Context, p Params) (*Result, error) {
	if p.SamplePercentage == 0 {
		p.SamplePercentage = 100
	}
	if p.Priority == "" {
		p.Priority = models.PriorityNormal
	}

	if len(p.Models) == 0 {
		return nil, fault.Validation("models list is empty")
	}
	if p.SamplePercentage < 1 || p.SamplePercentage > 100 {
		return nil, fault.Validation("sample percentage %d out of range [1,100]", p.SamplePercentage)
	}
	if !models.ValidPriority(p.Priority) {
		return nil, fault.Validation("unknown priority %q", p.Priority)
	}

	def, err := o.store.GetDefinition(ctx, p.DefinitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotFound("definition %s", p.DefinitionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}

	if p.ExperimentID != nil {
		if _, err := o.store.GetExperiment(ctx, *p.ExperimentID); errors.Is(err, store.ErrNotFound) {
			return nil, fault.NotFound("experiment %s", *p.ExperimentID)
		} else if err != nil {
			return nil, fmt.Errorf("load experiment: %w", err)
		}
	}

	scenarioIDs, err := o.store.ListScenarioIDs(ctx, p.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	if len(scenarioIDs) == 0 {
		return nil, fault.Validation("definition %s has no eligible scenarios", p.DefinitionID)
	}

	seed := int64(0)
	if p.SampleSeed != nil {
		seed = *p.SampleSeed
	} else {
		seed = rand.Int63()
		p.SampleSeed = &seed
	}
	selected := SampleScenarios(scenarioIDs, p.SamplePercentage, seed)

	// Resolve queue routing before the first write so routing failures
	// never leave partial state behind.
	queueByModel := make(map[string]string, len(p.Models))
	for _, modelID := range p.Models {
		queueName, err := o.router.QueueNameFor(ctx, modelID)
		if err != nil {
			return nil, fmt.Errorf("route model %s: %w", modelID, err)
		}
		queueByModel[modelID] = queueName
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:           uuid.New(),
		DefinitionID: p.DefinitionID,
		ExperimentID: p.ExperimentID,
		Status:       models.RunStatusPending,
		Config: models.RunConfig{
			Models:            p.Models,
			SamplePercentage:  p.SamplePercentage,
			SampleSeed:        p.SampleSeed,
			Temperature:       p.Temperature,
			Priority:          p.Priority,
			FinalTrial:        p.FinalTrial,
			PreambleVersionID: p.PreambleVersionID,
			DefinitionVersion: def.Version,
			DefinitionContent: def.Content,
		},
		Progress:  models.RunProgress{Total: len(selected) * len(p.Models)},
		CreatedBy: p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jobs := make([]*models.Job, 0, len(selected)*len(p.Models))
	for _, scenarioID := range selected {
		for _, modelID := range p.Models {
			jobs = append(jobs, &models.Job{
				ID:         uuid.New(),
				RunID:      run.ID,
				ScenarioID: scenarioID,
				ModelID:    modelID,
				QueueName:  queueByModel[modelID],
				Status:     models.JobStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}

	err = o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		if err := tx.CreateJobs(ctx, jobs); err != nil {
			return fmt.Errorf("create jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.enqueueAll(ctx, run, jobs); err != nil {
		if cleanupErr := o.store.DeleteRun(ctx, run.ID); cleanupErr != nil {
			slog.Error("cleanup after enqueue failure also failed",
				"run_id", run.ID, "error", cleanupErr)
		}
		return nil, fmt.Errorf("%w: enqueue run %s: %v", fault.ErrTransient, run.ID, err)
	}

	o.audit.Record(ctx, "run.launch", p.UserID, run.ID, "run", map[string]any{
		"definition_id":     p.DefinitionID,
		"models":            p.Models,
		"sample_percentage": p.SamplePercentage,
		"job_count":         len(jobs),
		"final_trial":       p.FinalTrial,
	})

	slog.Info("run launched",
		"run_id", run.ID,
		"definition_id", p.DefinitionID,
		"models", len(p.Models),
		"scenarios", len(selected),
		"jobs", len(jobs))

	return &Result{Run: run, JobCount: len(jobs)}, nil
}

func (o *Orchestrator) enqueueAll(ctx context.Context, run *models.Run, jobs []*models.Job) error {
	for _, job := range jobs {
		payload := queue.ProbePayload{
			JobID:       job.ID,
			RunID:       run.ID,
			ScenarioID:  job.ScenarioID,
			ModelID:     job.ModelID,
			Temperature: run.Config.Temperature,
			Priority:    run.Config.Priority,
			EnqueuedAt:  time.Now().UTC(),
		}
		if _, err := o.queue.Enqueue(ctx, job.QueueName, payload); err != nil {
			return fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
	}
	return nil
}
