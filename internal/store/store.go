package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// WithTx runs fn against a transaction-scoped store. A nested call
	// reuses the enclosing transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// TryAdvisoryLock attempts a transaction-scoped advisory lock on key.
	// The lock is released automatically when the transaction ends. Only
	// meaningful inside WithTx.
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)

	GetDomain(ctx context.Context, id uuid.UUID) (*models.Domain, error)
	GetExperiment(ctx context.Context, id uuid.UUID) (*models.Experiment, error)

	GetDefinition(ctx context.Context, id uuid.UUID) (*models.Definition, error)
	GetDefinitionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Definition, error)
	ListDomainDefinitions(ctx context.Context, domainID uuid.UUID) ([]*models.Definition, error)
	ListScenarioIDs(ctx context.Context, definitionID uuid.UUID) ([]uuid.UUID, error)

	GetProvider(ctx context.Context, name string) (*models.Provider, error)
	GetModel(ctx context.Context, id string) (*models.Model, error)
	ListActiveModels(ctx context.Context) ([]*models.Model, error)

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string) error
	FindActiveRun(ctx context.Context, definitionID uuid.UUID, modelFingerprint string, temperature *float64) (*models.Run, error)
	ListCompletedSourceRuns(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID) ([]*models.Run, error)
	GetAggregateRun(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID) (*models.Run, error)
	UpdateAggregateRunSources(ctx context.Context, id uuid.UUID, sourceRunIDs []uuid.UUID, transcriptCount int) error
	ListFinalTrialRuns(ctx context.Context, definitionID uuid.UUID, preambleVersionID *uuid.UUID, definitionVersion, limit int) ([]*models.Run, error)

	CreateJobs(ctx context.Context, jobs []*models.Job) error
	ListJobs(ctx context.Context, runID uuid.UUID) ([]*models.Job, error)
	RecordJobOutcome(ctx context.Context, id uuid.UUID, status string, opts ...JobOutcomeOption) error

	CreateAnalysisResult(ctx context.Context, result *models.AnalysisResult) error
	GetCurrentAnalysisResult(ctx context.Context, runID uuid.UUID, kind string) (*models.AnalysisResult, error)

	InsertAuditRecord(ctx context.Context, rec *models.AuditRecord) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

type jobOutcomeParams struct {
	ErrorCode    *string
	ErrorMessage *string
	Retryable    *bool
}

type JobOutcomeOption func(*jobOutcomeParams)

func WithJobError(code, msg string, retryable bool) JobOutcomeOption {
	return func(p *jobOutcomeParams) {
		p.ErrorCode = &code
		p.ErrorMessage = &msg
		p.Retryable = &retryable
	}
}
