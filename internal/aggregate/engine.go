// Package aggregate merges statistics from independently completed runs
// into one synthetic aggregate run per (definition, preamble version).
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/internal/fault"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
)

// Continuation is invoked after a successful aggregate update. It is
// best-effort: implementations log their own failures and never return
// them.
type Continuation interface {
	AfterAggregate(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int)
}

// Engine rebuilds aggregate runs under a per-definition advisory lock.
type Engine struct {
	store        store.Store
	continuation Continuation
}

// NewEngine creates an Engine. continuation may be nil.
func NewEngine(st store.Store, continuation Continuation) *Engine {
	return &Engine{store: st, continuation: continuation}
}

// LockKey hashes a definition id onto the advisory lock keyspace.
// Two definitions colliding on the same key serialize against each other
// spuriously; that costs latency, never correctness. Collisions at
// FNV-64a over 64 bits are accepted as a known limitation.
func LockKey(definitionID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte(definitionID.String()))
	return int64(h.Sum64())
}

// UpdateAggregate merges the current trial statistics of every completed
// compatible run into the definition's singleton aggregate run, then
// rotates the aggregate's current analysis result.
//
// The whole read-merge-write sequence holds a transaction-scoped
// advisory lock keyed by the definition, so at most one aggregate
// rebuild per definition is in flight. A held lock aborts with
// ErrConflict and no retry is scheduled here: the next completed-run
// event re-triggers aggregation upstream.
func (e *Engine) UpdateAggregate(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int) error {
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		acquired, err := tx.TryAdvisoryLock(ctx, LockKey(definitionID))
		if err != nil {
			return err
		}
		if !acquired {
			return fault.Conflict("aggregate update already in progress for definition %s", definitionID)
		}
		return e.rebuild(ctx, tx, definitionID, preambleVersionID, definitionVersion)
	})
	if err != nil {
		return err
	}

	if e.continuation != nil {
		e.continuation.AfterAggregate(ctx, definitionID, preambleVersionID, definitionVersion)
	}
	return nil
}

func (e *Engine) rebuild(ctx context.Context, tx store.Store, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int) error {
	runs, err := tx.ListCompletedSourceRuns(ctx, definitionID, preambleVersionID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		slog.Info("no compatible runs to aggregate", "definition_id", definitionID)
		return nil
	}

	var (
		sources         []models.TrialStats
		sourceRunIDs    []uuid.UUID
		transcriptCount int
	)
	for _, run := range runs {
		result, err := tx.GetCurrentAnalysisResult(ctx, run.ID, models.AnalysisKindTrialStats)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		sources = append(sources, result.Stats)
		sourceRunIDs = append(sourceRunIDs, run.ID)
		transcriptCount += run.Progress.Completed
	}
	if len(sources) == 0 {
		slog.Info("no current analysis results to aggregate", "definition_id", definitionID)
		return nil
	}

	merged := MergeStats(sources)

	aggRun, err := e.upsertAggregateRun(ctx, tx, runs, definitionID, preambleVersionID, definitionVersion, sourceRunIDs, transcriptCount)
	if err != nil {
		return err
	}

	result := &models.AnalysisResult{
		ID:        uuid.New(),
		RunID:     aggRun.ID,
		Kind:      models.AnalysisKindTrialStats,
		Status:    models.AnalysisStatusCurrent,
		Stats:     merged,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.CreateAnalysisResult(ctx, result); err != nil {
		return err
	}

	slog.Info("aggregate updated",
		"definition_id", definitionID,
		"aggregate_run_id", aggRun.ID,
		"source_runs", len(sourceRunIDs),
		"transcripts", transcriptCount)
	return nil
}

// upsertAggregateRun creates the singleton aggregate run for the
// (definition, preamble version) pair, or refreshes its source list in
// place. A second aggregate run for the same pair is never created; the
// partial unique index backs this up at the schema level.
func (e *Engine) upsertAggregateRun(ctx context.Context, tx store.Store, sourceRuns []*models.Run, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion int, sourceRunIDs []uuid.UUID, transcriptCount int) (*models.Run, error) {
	existing, err := tx.GetAggregateRun(ctx, definitionID, preambleVersionID)
	if err == nil {
		if err := tx.UpdateAggregateRunSources(ctx, existing.ID, sourceRunIDs, transcriptCount); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	modelSet := map[string]bool{}
	var modelIDs []string
	for _, run := range sourceRuns {
		for _, id := range run.Config.Models {
			if !modelSet[id] {
				modelSet[id] = true
				modelIDs = append(modelIDs, id)
			}
		}
	}

	now := time.Now().UTC()
	aggRun := &models.Run{
		ID:           uuid.New(),
		DefinitionID: definitionID,
		Status:       models.RunStatusCompleted,
		Config: models.RunConfig{
			Models:            modelIDs,
			SamplePercentage:  100,
			Priority:          models.PriorityNormal,
			PreambleVersionID: preambleVersionID,
			DefinitionVersion: definitionVersion,
		},
		IsAggregate:     true,
		SourceRunIDs:    sourceRunIDs,
		TranscriptCount: transcriptCount,
		CreatedBy:       sourceRuns[0].CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.CreateRun(ctx, aggRun); err != nil {
		return nil, fmt.Errorf("create aggregate run: %w", err)
	}
	return aggRun, nil
}
