package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/probelab/trialbench/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every store
// method runs unchanged inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when scoped to a transaction
	db   querier
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// WithTx runs fn against a transaction-scoped copy of the store. Nested
// calls reuse the enclosing transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&PostgresStore{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts pg_try_advisory_xact_lock(key). The lock
// releases automatically at transaction end (commit or abort), so crash
// recovery never requires manual unlocking.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := s.db.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return acquired, nil
}

// --- Domains & Experiments ---

func (s *PostgresStore) GetDomain(ctx context.Context, id uuid.UUID) (*models.Domain, error) {
	var d models.Domain
	err := s.db.QueryRow(ctx,
		`SELECT id, name, deleted_at, created_at, updated_at FROM domains WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&d.ID, &d.Name, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	var e models.Experiment
	err := s.db.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM experiments WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return &e, nil
}

// --- Definitions & Scenarios ---

const definitionColumns = `id, domain_id, parent_id, name, version, content, deleted_at, created_at, updated_at`

func scanDefinition(row pgx.Row) (*models.Definition, error) {
	var d models.Definition
	err := row.Scan(&d.ID, &d.DomainID, &d.ParentID, &d.Name, &d.Version, &d.Content,
		&d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error) {
	d, err := scanDefinition(s.db.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetDefinitionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Definition, error) {
	if len(ids) == 0 {
		return []*models.Definition{}, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get definitions by ids: %w", err)
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (s *PostgresStore) ListDomainDefinitions(ctx context.Context, domainID uuid.UUID) ([]*models.Definition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM definitions
		 WHERE domain_id = $1 AND deleted_at IS NULL ORDER BY created_at`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain definitions: %w", err)
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func collectDefinitions(rows pgx.Rows) ([]*models.Definition, error) {
	var defs []*models.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) ListScenarioIDs(ctx context.Context, definitionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM scenarios WHERE definition_id = $1 AND deleted_at IS NULL ORDER BY id`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("list scenario ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scenario id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Providers & Models ---

func (s *PostgresStore) GetProvider(ctx context.Context, name string) (*models.Provider, error) {
	var p models.Provider
	err := s.db.QueryRow(ctx,
		`SELECT name, enabled, max_parallel_requests, requests_per_minute, queue_name, created_at, updated_at
		 FROM providers WHERE name = $1`, name,
	).Scan(&p.Name, &p.Enabled, &p.MaxParallelRequests, &p.RequestsPerMinute, &p.QueueName,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetModel(ctx context.Context, id string) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRow(ctx,
		`SELECT id, provider_name, active, is_default, created_at, updated_at
		 FROM ai_models WHERE id = $1`, id,
	).Scan(&m.ID, &m.ProviderName, &m.Active, &m.IsDefault, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListActiveModels(ctx context.Context) ([]*models.Model, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, provider_name, active, is_default, created_at, updated_at
		 FROM ai_models WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active models: %w", err)
	}
	defer rows.Close()

	var list []*models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.ProviderName, &m.Active, &m.IsDefault, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
