// Package batch launches trial runs across every current definition in a
// domain, with budget capping and de-duplication against runs that are
// already active.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/probelab/trialbench/internal/audit"
	"github.com/probelab/trialbench/internal/estimate"
	"github.com/probelab/trialbench/internal/fault"
	"github.com/probelab/trialbench/internal/launch"
	"github.com/probelab/trialbench/internal/lineage"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
)

// batchSize is how many definitions are processed per round.
const batchSize = 25

// launchConcurrency caps simultaneous launches within one round.
const launchConcurrency = 8

// Launcher fans trial launches out across a domain.
type Launcher struct {
	store     store.Store
	orch      *launch.Orchestrator
	estimator estimate.CostEstimator
	audit     audit.Sink
}

// NewLauncher creates a Launcher.
func NewLauncher(st store.Store, orch *launch.Orchestrator, est estimate.CostEstimator, sink audit.Sink) *Launcher {
	return &Launcher{store: st, orch: orch, estimator: est, audit: sink}
}

// LaunchOutcome reports one definition's fate within a batch.
type LaunchOutcome struct {
	DefinitionID uuid.UUID  `json:"definition_id"`
	RunID        *uuid.UUID `json:"run_id,omitempty"`
	Models       []string   `json:"models,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// TrialSummary is the structured result of a domain batch launch. Partial
// failure never raises an error; callers read the counts.
type TrialSummary struct {
	DomainID         uuid.UUID       `json:"domain_id"`
	TotalDefinitions int             `json:"total_definitions"`
	Targeted         int             `json:"targeted"`
	Started          int             `json:"started"`
	Failed           int             `json:"failed"`
	SkippedForBudget int             `json:"skipped_for_budget"`
	ProjectedCostUsd float64         `json:"projected_cost_usd"`
	Outcomes         []LaunchOutcome `json:"outcomes"`
}

// Success reports whether every targeted definition launched.
func (s *TrialSummary) Success() bool {
	return s.Failed == 0
}

// RunTrialsForDomain resolves the latest definition per lineage in the
// domain and launches one run per definition against the active model
// set. The whole batch is blocked when any target already has an
// equivalent active run, so duplicate fan-out is all-or-nothing.
func (l *Launcher) RunTrialsForDomain(ctx context.Context, domainID, userID uuid.UUID, temperature *float64, maxBudgetUsd *float64) (*TrialSummary, error) {
	if userID == uuid.Nil {
		return nil, fault.Validation("authenticated caller required")
	}
	if maxBudgetUsd != nil && *maxBudgetUsd <= 0 {
		return nil, fault.Validation("budget cap must be positive, got %.2f", *maxBudgetUsd)
	}

	if _, err := l.store.GetDomain(ctx, domainID); errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotFound("domain %s", domainID)
	} else if err != nil {
		return nil, fmt.Errorf("load domain: %w", err)
	}

	definitions, err := l.store.ListDomainDefinitions(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain definitions: %w", err)
	}

	resolver := lineage.NewResolver(definitions)
	if err := resolver.HydrateAncestors(ctx, l.store); err != nil {
		return nil, err
	}
	targets := resolver.LatestPerLineage(definitions)

	modelIDs, err := l.activeModelSet(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.guardAgainstDuplicates(ctx, targets, modelIDs, temperature); err != nil {
		return nil, err
	}

	summary := &TrialSummary{
		DomainID:         domainID,
		TotalDefinitions: len(definitions),
		Targeted:         len(targets),
	}

	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		l.runBatch(ctx, targets[start:end], modelIDs, temperature, maxBudgetUsd, userID, summary)
	}

	l.audit.Record(ctx, "domain.trials", userID, domainID, "domain", map[string]any{
		"total":              summary.TotalDefinitions,
		"targeted":           summary.Targeted,
		"started":            summary.Started,
		"failed":             summary.Failed,
		"skipped_for_budget": summary.SkippedForBudget,
		"projected_cost_usd": summary.ProjectedCostUsd,
	})

	slog.Info("domain trials finished",
		"domain_id", domainID,
		"targeted", summary.Targeted,
		"started", summary.Started,
		"failed", summary.Failed,
		"skipped_for_budget", summary.SkippedForBudget)

	return summary, nil
}

// activeModelSet prefers provider-marked default models, falling back to
// all active models.
func (l *Launcher) activeModelSet(ctx context.Context) ([]string, error) {
	active, err := l.store.ListActiveModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active models: %w", err)
	}
	if len(active) == 0 {
		return nil, fault.NotFound("no active models configured")
	}

	var defaults, all []string
	for _, m := range active {
		all = append(all, m.ID)
		if m.IsDefault {
			defaults = append(defaults, m.ID)
		}
	}
	if len(defaults) > 0 {
		return defaults, nil
	}
	return all, nil
}

// guardAgainstDuplicates blocks the whole batch when any target already
// has an active equivalent run (same normalized model set, same
// temperature).
func (l *Launcher) guardAgainstDuplicates(ctx context.Context, targets []*models.Definition, modelIDs []string, temperature *float64) error {
	fingerprint := models.ModelFingerprint(modelIDs)
	var blocked []string
	for _, def := range targets {
		_, err := l.store.FindActiveRun(ctx, def.ID, fingerprint, temperature)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("check active run for %s: %w", def.ID, err)
		}
		blocked = append(blocked, def.ID.String())
	}
	if len(blocked) > 0 {
		return fault.Conflict("equivalent runs already active for definitions: %s",
			strings.Join(blocked, ", "))
	}
	return nil
}

// runBatch applies the budget cap sequentially (so the running total is
// deterministic), then launches the included definitions concurrently.
// Every launch settles: one failure never aborts its siblings.
func (l *Launcher) runBatch(ctx context.Context, batch []*models.Definition, modelIDs []string, temperature, maxBudgetUsd *float64, userID uuid.UUID, summary *TrialSummary) {
	var included []*models.Definition
	for _, def := range batch {
		if maxBudgetUsd == nil {
			included = append(included, def)
			continue
		}
		est, err := l.estimator.Estimate(ctx, def.ID, modelIDs, 100, 1)
		if err != nil {
			summary.Failed++
			summary.Outcomes = append(summary.Outcomes, LaunchOutcome{
				DefinitionID: def.ID,
				Error:        fmt.Sprintf("cost estimate: %v", err),
			})
			slog.Warn("cost estimate failed", "definition_id", def.ID, "error", err)
			continue
		}
		if summary.ProjectedCostUsd+est.TotalUsd > *maxBudgetUsd {
			summary.SkippedForBudget++
			slog.Info("definition skipped for budget",
				"definition_id", def.ID,
				"estimate_usd", est.TotalUsd,
				"running_total_usd", summary.ProjectedCostUsd)
			continue
		}
		summary.ProjectedCostUsd += est.TotalUsd
		included = append(included, def)
	}

	outcomes := make([]LaunchOutcome, len(included))
	g := &errgroup.Group{}
	g.SetLimit(launchConcurrency)
	for i, def := range included {
		g.Go(func() error {
			result, err := l.orch.Launch(ctx, launch.Params{
				DefinitionID: def.ID,
				Models:       modelIDs,
				Temperature:  temperature,
				UserID:       userID,
			})
			if err != nil {
				outcomes[i] = LaunchOutcome{DefinitionID: def.ID, Error: err.Error()}
				slog.Error("trial launch failed",
					"definition_id", def.ID,
					"domain_id", def.DomainID,
					"error", err)
				return nil
			}
			runID := result.Run.ID
			outcomes[i] = LaunchOutcome{DefinitionID: def.ID, RunID: &runID, Models: modelIDs}
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range outcomes {
		if outcome.Error != "" {
			summary.Failed++
		} else {
			summary.Started++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
}

// RetryDomainTrialCell relaunches a single (definition, model) cell of a
// domain's trial grid.
func (l *Launcher) RetryDomainTrialCell(ctx context.Context, domainID, definitionID uuid.UUID, modelID string, temperature *float64, userID uuid.UUID) (*launch.Result, error) {
	if userID == uuid.Nil {
		return nil, fault.Validation("authenticated caller required")
	}

	def, err := l.store.GetDefinition(ctx, definitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotFound("definition %s", definitionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def.DomainID != domainID {
		return nil, fault.Validation("definition %s does not belong to domain %s", definitionID, domainID)
	}

	model, err := l.store.GetModel(ctx, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotFound("model %s", modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if !model.Active {
		return nil, fault.Validation("model %s is not active", modelID)
	}

	fingerprint := models.ModelFingerprint([]string{modelID})
	if existing, err := l.store.FindActiveRun(ctx, definitionID, fingerprint, temperature); err == nil {
		return nil, fault.Conflict("run %s already active for definition %s and model %s",
			existing.ID, definitionID, modelID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check active run: %w", err)
	}

	result, err := l.orch.Launch(ctx, launch.Params{
		DefinitionID: definitionID,
		Models:       []string{modelID},
		Temperature:  temperature,
		UserID:       userID,
	})
	if err != nil {
		return nil, err
	}

	l.audit.Record(ctx, "domain.trial_cell_retry", userID, result.Run.ID, "run", map[string]any{
		"domain_id":     domainID,
		"definition_id": definitionID,
		"model_id":      modelID,
	})
	return result, nil
}
