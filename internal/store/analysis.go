package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/probelab/trialbench/pkg/models"
)

// CreateAnalysisResult writes a new current result for (run, kind) and
// demotes any prior current result to superseded in one transaction.
// History is append-only; only the live pointer moves.
func (s *PostgresStore) CreateAnalysisResult(ctx context.Context, result *models.AnalysisResult) error {
	statsRaw, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("encode analysis stats: %w", err)
	}
	return s.WithTx(ctx, func(tx Store) error {
		txs := tx.(*PostgresStore)
		_, err := txs.db.Exec(ctx,
			`UPDATE analysis_results SET status = $3
			 WHERE run_id = $1 AND kind = $2 AND status = $4`,
			result.RunID, result.Kind, models.AnalysisStatusSuperseded, models.AnalysisStatusCurrent)
		if err != nil {
			return fmt.Errorf("supersede analysis result: %w", err)
		}
		_, err = txs.db.Exec(ctx,
			`INSERT INTO analysis_results (id, run_id, kind, status, stats, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			result.ID, result.RunID, result.Kind, models.AnalysisStatusCurrent, statsRaw, result.CreatedAt)
		if err != nil {
			return fmt.Errorf("create analysis result: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetCurrentAnalysisResult(ctx context.Context, runID uuid.UUID, kind string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	var statsRaw []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, run_id, kind, status, stats, created_at
		 FROM analysis_results WHERE run_id = $1 AND kind = $2 AND status = $3`,
		runID, kind, models.AnalysisStatusCurrent,
	).Scan(&r.ID, &r.RunID, &r.Kind, &r.Status, &statsRaw, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current analysis result: %w", err)
	}
	if err := json.Unmarshal(statsRaw, &r.Stats); err != nil {
		return nil, fmt.Errorf("decode analysis stats: %w", err)
	}
	return &r, nil
}

// --- Audit ---

func (s *PostgresStore) InsertAuditRecord(ctx context.Context, rec *models.AuditRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_records (id, action, actor_id, entity_id, entity_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Action, rec.ActorID, rec.EntityID, rec.EntityType, rec.Metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}
