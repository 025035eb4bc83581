// Package adaptive decides whether an experiment needs another sampling
// round after its aggregate view is rebuilt. The whole controller is
// best-effort: nothing here may fail the aggregate update that triggered
// it.
package adaptive

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/internal/estimate"
	"github.com/probelab/trialbench/internal/launch"
	"github.com/probelab/trialbench/internal/store"
)

// recentTrialWindow bounds how many final-trial runs are inspected.
const recentTrialWindow = 10

// Controller continues final-trial sequences until the stability planner
// reports them stable.
type Controller struct {
	store   store.Store
	planner estimate.StabilityPlanner
	orch    *launch.Orchestrator
}

// NewController creates a Controller.
func NewController(st store.Store, planner estimate.StabilityPlanner, orch *launch.Orchestrator) *Controller {
	return &Controller{store: st, planner: planner, orch: orch}
}

// AfterAggregate runs the continuation in a background goroutine
// detached from the caller's context. Panics are recovered and logged;
// errors never propagate to the aggregate-update caller.
func (c *Controller) AfterAggregate(_ context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in adaptive sampling controller",
					"definition_id", definitionID, "error", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.continueSampling(ctx, definitionID, preambleVersionID, definitionVersion)
	}()
}

func (c *Controller) continueSampling(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int) {
	trials, err := c.store.ListFinalTrialRuns(ctx, definitionID, preambleVersionID, definitionVersion, recentTrialWindow)
	if err != nil {
		slog.Error("list final trial runs failed", "definition_id", definitionID, "error", err)
		return
	}
	if len(trials) == 0 {
		return
	}

	// Newest first; the latest trial's model set drives the next round.
	latest := trials[0]

	plan, err := c.planner.Plan(ctx, definitionID, latest.Config.Models)
	if err != nil {
		slog.Error("stability plan failed", "definition_id", definitionID, "error", err)
		return
	}
	if plan.TotalJobs == 0 {
		slog.Info("sampling sequence stable", "definition_id", definitionID)
		return
	}

	result, err := c.orch.Launch(ctx, launch.Params{
		DefinitionID:      definitionID,
		Models:            latest.Config.Models,
		Temperature:       latest.Config.Temperature,
		FinalTrial:        true,
		ExperimentID:      latest.ExperimentID,
		PreambleVersionID: preambleVersionID,
		UserID:            latest.CreatedBy,
	})
	if err != nil {
		slog.Error("adaptive relaunch failed", "definition_id", definitionID, "error", err)
		return
	}
	slog.Info("adaptive sampling round launched",
		"definition_id", definitionID,
		"run_id", result.Run.ID,
		"planned_jobs", plan.TotalJobs,
		"queued_jobs", result.JobCount)
}
