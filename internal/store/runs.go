package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/probelab/trialbench/pkg/models"
)

const runColumns = `id, definition_id, experiment_id, status, config,
	progress_total, progress_completed, progress_failed,
	is_aggregate, final_trial, source_run_ids, transcript_count,
	created_by, deleted_at, created_at, updated_at`

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	var configRaw []byte
	var finalTrial bool
	err := row.Scan(&r.ID, &r.DefinitionID, &r.ExperimentID, &r.Status, &configRaw,
		&r.Progress.Total, &r.Progress.Completed, &r.Progress.Failed,
		&r.IsAggregate, &finalTrial, &r.SourceRunIDs, &r.TranscriptCount,
		&r.CreatedBy, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configRaw, &r.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	r.Config.FinalTrial = finalTrial
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	configRaw, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO runs (id, definition_id, experiment_id, status, config,
		   progress_total, progress_completed, progress_failed,
		   is_aggregate, final_trial, preamble_version_id, definition_version,
		   model_fingerprint, temperature, source_run_ids, transcript_count,
		   created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		run.ID, run.DefinitionID, run.ExperimentID, run.Status, configRaw,
		run.Progress.Total, run.Progress.Completed, run.Progress.Failed,
		run.IsAggregate, run.Config.FinalTrial, run.Config.PreambleVersionID, run.Config.DefinitionVersion,
		models.ModelFingerprint(run.Config.Models), run.Config.Temperature,
		run.SourceRunIDs, run.TranscriptCount,
		run.CreatedBy, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// DeleteRun hard-deletes a run and (via cascade) its jobs. Used as the
// compensating cleanup when enqueueing fails mid-launch.
func (s *PostgresStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, status)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveRun looks for a still-active run of the definition with the
// same normalized model set and temperature.
func (s *PostgresStore) FindActiveRun(ctx context.Context, definitionID uuid.UUID, modelFingerprint string, temperature *float64) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE definition_id = $1 AND model_fingerprint = $2
		   AND temperature IS NOT DISTINCT FROM $3
		   AND status = ANY($4) AND NOT is_aggregate AND deleted_at IS NULL
		 LIMIT 1`,
		definitionID, modelFingerprint, temperature, models.ActiveRunStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active run: %w", err)
	}
	return r, nil
}

// ListCompletedSourceRuns returns completed, non-deleted, non-aggregate
// runs of the definition whose snapshot preamble version matches (null
// matches null).
func (s *PostgresStore) ListCompletedSourceRuns(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID) ([]*models.Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE definition_id = $1 AND preamble_version_id IS NOT DISTINCT FROM $2
		   AND status = $3 AND NOT is_aggregate AND deleted_at IS NULL
		 ORDER BY created_at`,
		definitionID, preambleVersionID, models.RunStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed source runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *PostgresStore) GetAggregateRun(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE definition_id = $1 AND preamble_version_id IS NOT DISTINCT FROM $2
		   AND is_aggregate AND deleted_at IS NULL`,
		definitionID, preambleVersionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateAggregateRunSources(ctx context.Context, id uuid.UUID, sourceRunIDs []uuid.UUID, transcriptCount int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET source_run_ids = $2, transcript_count = $3, updated_at = NOW()
		 WHERE id = $1 AND is_aggregate AND deleted_at IS NULL`,
		id, sourceRunIDs, transcriptCount)
	if err != nil {
		return fmt.Errorf("update aggregate run sources: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFinalTrialRuns returns the most recent completed final-trial runs
// for the (definition, preamble, version) combination, newest first.
func (s *PostgresStore) ListFinalTrialRuns(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion, limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE definition_id = $1 AND preamble_version_id IS NOT DISTINCT FROM $2
		   AND definition_version = $3 AND final_trial AND status = $4
		   AND NOT is_aggregate AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $5`,
		definitionID, preambleVersionID, definitionVersion, models.RunStatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list final trial runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]*models.Run, error) {
	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) CreateJobs(ctx context.Context, jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(
			`INSERT INTO jobs (id, run_id, scenario_id, model_id, queue_name, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			j.ID, j.RunID, j.ScenarioID, j.ModelID, j.QueueName, j.Status, j.CreatedAt, j.UpdatedAt)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range jobs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create jobs: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, runID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, run_id, scenario_id, model_id, queue_name, status,
		   error_code, error_message, retryable, completed_at, created_at, updated_at
		 FROM jobs WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.RunID, &j.ScenarioID, &j.ModelID, &j.QueueName, &j.Status,
			&j.ErrorCode, &j.ErrorMessage, &j.Retryable, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// RecordJobOutcome transitions a pending job to succeeded or failed and
// bumps the owning run's progress counters in the same transaction.
func (s *PostgresStore) RecordJobOutcome(ctx context.Context, id uuid.UUID, status string, opts ...JobOutcomeOption) error {
	if status != models.JobStatusSucceeded && status != models.JobStatusFailed {
		return fmt.Errorf("invalid job outcome %q", status)
	}
	params := &jobOutcomeParams{}
	for _, opt := range opts {
		opt(params)
	}

	return s.WithTx(ctx, func(tx Store) error {
		txs := tx.(*PostgresStore)
		now := time.Now().UTC()

		var runID uuid.UUID
		err := txs.db.QueryRow(ctx,
			`UPDATE jobs SET status = $2, error_code = $3, error_message = $4, retryable = $5,
			   completed_at = $6, updated_at = $6
			 WHERE id = $1 AND status = $7
			 RETURNING run_id`,
			id, status, params.ErrorCode, params.ErrorMessage, params.Retryable, now,
			models.JobStatusPending).Scan(&runID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("record job outcome: %w", err)
		}

		column := "progress_completed"
		if status == models.JobStatusFailed {
			column = "progress_failed"
		}
		_, err = txs.db.Exec(ctx,
			`UPDATE runs SET `+column+` = `+column+` + 1, updated_at = NOW() WHERE id = $1`, runID)
		if err != nil {
			return fmt.Errorf("bump run progress: %w", err)
		}
		return nil
	})
}
