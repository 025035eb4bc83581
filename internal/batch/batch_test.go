package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/internal/audit"
	"github.com/probelab/trialbench/internal/batch"
	"github.com/probelab/trialbench/internal/estimate"
	"github.com/probelab/trialbench/internal/fault"
	"github.com/probelab/trialbench/internal/launch"
	"github.com/probelab/trialbench/internal/queue"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements the store methods the batch launcher and its
// orchestrator exercise. Everything else panics via the embedded nil.
type fakeStore struct {
	store.Store

	mu          sync.Mutex
	domains     map[uuid.UUID]*models.Domain
	definitions map[uuid.UUID]*models.Definition
	byDomain    map[uuid.UUID][]*models.Definition
	scenarios   map[uuid.UUID][]uuid.UUID
	activeRuns  map[uuid.UUID]*models.Run // definitionID -> active run
	activeSet   []*models.Model
	aiModels    map[string]*models.Model

	createdRuns []*models.Run
	failCreate  map[uuid.UUID]bool // definitionIDs whose run creation fails
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		domains:     map[uuid.UUID]*models.Domain{},
		definitions: map[uuid.UUID]*models.Definition{},
		byDomain:    map[uuid.UUID][]*models.Definition{},
		scenarios:   map[uuid.UUID][]uuid.UUID{},
		activeRuns:  map[uuid.UUID]*models.Run{},
		aiModels:    map[string]*models.Model{},
		failCreate:  map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) GetDomain(_ context.Context, id uuid.UUID) (*models.Domain, error) {
	if d, ok := f.domains[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListDomainDefinitions(_ context.Context, domainID uuid.UUID) ([]*models.Definition, error) {
	return f.byDomain[domainID], nil
}

func (f *fakeStore) GetDefinitionsByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Definition, error) {
	var out []*models.Definition
	for _, id := range ids {
		if d, ok := f.definitions[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDefinition(_ context.Context, id uuid.UUID) (*models.Definition, error) {
	if d, ok := f.definitions[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetModel(_ context.Context, id string) (*models.Model, error) {
	if m, ok := f.aiModels[id]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListActiveModels(_ context.Context) ([]*models.Model, error) {
	return f.activeSet, nil
}

func (f *fakeStore) ListScenarioIDs(_ context.Context, defID uuid.UUID) ([]uuid.UUID, error) {
	return f.scenarios[defID], nil
}

func (f *fakeStore) FindActiveRun(_ context.Context, defID uuid.UUID, _ string, _ *float64) (*models.Run, error) {
	if run, ok := f.activeRuns[defID]; ok {
		return run, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) WithTx(_ context.Context, fn func(store.Store) error) error {
	return fn(f)
}

func (f *fakeStore) CreateRun(_ context.Context, run *models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate[run.DefinitionID] {
		return errors.New("insert failed")
	}
	f.createdRuns = append(f.createdRuns, run)
	return nil
}

func (f *fakeStore) CreateJobs(context.Context, []*models.Job) error { return nil }
func (f *fakeStore) DeleteRun(context.Context, uuid.UUID) error      { return nil }

func (f *fakeStore) addDefinition(domainID uuid.UUID, scenarioCount int) *models.Definition {
	def := &models.Definition{
		ID:       uuid.New(),
		DomainID: domainID,
		Version:  1,
		Content:  json.RawMessage(`{}`),
	}
	f.definitions[def.ID] = def
	f.byDomain[domainID] = append(f.byDomain[domainID], def)
	ids := make([]uuid.UUID, scenarioCount)
	for i := range ids {
		ids[i] = uuid.New()
	}
	f.scenarios[def.ID] = ids
	return def
}

type fakeQueue struct{}

func (fakeQueue) Enqueue(_ context.Context, _ string, p queue.ProbePayload) (uuid.UUID, error) {
	return p.JobID, nil
}

type fakeRouter struct{}

func (fakeRouter) QueueNameFor(context.Context, string) (string, error) {
	return models.DefaultQueueName, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAudit) Record(_ context.Context, action string, _, _ uuid.UUID, _ string, _ any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

type fakeEstimator struct {
	costPerDefinition float64
	err               error
	failFor           map[uuid.UUID]bool
}

func (e *fakeEstimator) Estimate(_ context.Context, defID uuid.UUID, _ []string, _, _ int) (*estimate.CostEstimate, error) {
	if e.err != nil || e.failFor[defID] {
		if e.err != nil {
			return nil, e.err
		}
		return nil, errors.New("planner unreachable")
	}
	return &estimate.CostEstimate{TotalUsd: e.costPerDefinition}, nil
}

func newLauncher(st *fakeStore, est estimate.CostEstimator, sink audit.Sink) *batch.Launcher {
	orch := launch.NewOrchestrator(st, fakeRouter{}, fakeQueue{}, sink)
	return batch.NewLauncher(st, orch, est, sink)
}

func seedDomain(st *fakeStore, defCount int) uuid.UUID {
	domainID := uuid.New()
	st.domains[domainID] = &models.Domain{ID: domainID, Name: "support"}
	for i := 0; i < defCount; i++ {
		st.addDefinition(domainID, 2)
	}
	st.activeSet = []*models.Model{
		{ID: "model-a", Active: true},
		{ID: "model-b", Active: true},
	}
	for _, m := range st.activeSet {
		st.aiModels[m.ID] = m
	}
	return domainID
}

func TestRunTrialsForDomain_LaunchesEveryTarget(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 3)
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})

	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Targeted)
	assert.Equal(t, 3, summary.Started)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.Success())
	assert.Len(t, st.createdRuns, 3)
}

func TestRunTrialsForDomain_BudgetCap(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 3)
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 5}, &fakeAudit{})

	budget := 12.0
	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, &budget)
	require.NoError(t, err)

	// Three definitions at $5 each against a $12 cap: two launch, the
	// third would push the total to $15 and is skipped.
	assert.Equal(t, 2, summary.Started)
	assert.Equal(t, 1, summary.SkippedForBudget)
	assert.Equal(t, 0, summary.Failed)
	assert.InDelta(t, 10.0, summary.ProjectedCostUsd, 1e-9)
}

func TestRunTrialsForDomain_EstimateFailureCountsAsFailed(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 2)
	failing := st.byDomain[domainID][0].ID
	est := &fakeEstimator{costPerDefinition: 1, failFor: map[uuid.UUID]bool{failing: true}}
	l := newLauncher(st, est, &fakeAudit{})

	budget := 100.0
	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, &budget)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Started)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Success())
}

func TestRunTrialsForDomain_PartialLaunchFailureIsolated(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 3)
	st.failCreate[st.byDomain[domainID][1].ID] = true
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})

	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	require.NoError(t, err, "partial failure must not raise")

	assert.Equal(t, 2, summary.Started)
	assert.Equal(t, 1, summary.Failed)
	failures := 0
	for _, o := range summary.Outcomes {
		if o.Error != "" {
			failures++
			assert.Nil(t, o.RunID)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRunTrialsForDomain_DuplicateGuardBlocksAll(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 3)
	blocked := st.byDomain[domainID][1]
	st.activeRuns[blocked.ID] = &models.Run{ID: uuid.New(), DefinitionID: blocked.ID}
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})

	_, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.Contains(t, err.Error(), blocked.ID.String())
	assert.Empty(t, st.createdRuns, "no run may start when any target is blocked")
}

func TestRunTrialsForDomain_LatestVersionPerLineage(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	parent := st.byDomain[domainID][0]

	// A newer version of the same lineage. Only it should launch.
	child := st.addDefinition(domainID, 2)
	child.ParentID = &parent.ID
	child.Version = 2

	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})
	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalDefinitions)
	assert.Equal(t, 1, summary.Targeted)
	require.Len(t, st.createdRuns, 1)
	assert.Equal(t, child.ID, st.createdRuns[0].DefinitionID)
}

func TestRunTrialsForDomain_DefaultModelsPreferred(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	st.activeSet[0].IsDefault = true

	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})
	summary, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, []string{"model-a"}, summary.Outcomes[0].Models)
}

func TestRunTrialsForDomain_Validation(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})
	ctx := context.Background()

	_, err := l.RunTrialsForDomain(ctx, domainID, uuid.Nil, nil, nil)
	assert.ErrorIs(t, err, fault.ErrValidation)

	zero := 0.0
	_, err = l.RunTrialsForDomain(ctx, domainID, uuid.New(), nil, &zero)
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = l.RunTrialsForDomain(ctx, uuid.New(), uuid.New(), nil, nil)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestRunTrialsForDomain_NoActiveModels(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	st.activeSet = nil
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})

	_, err := l.RunTrialsForDomain(context.Background(), domainID, uuid.New(), nil, nil)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

// --- RetryDomainTrialCell tests ---

func TestRetryDomainTrialCell_Launches(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	def := st.byDomain[domainID][0]
	sink := &fakeAudit{}
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, sink)

	result, err := l.RetryDomainTrialCell(context.Background(), domainID, def.ID, "model-a", nil, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, []string{"model-a"}, result.Run.Config.Models)
	assert.Contains(t, sink.actions, "domain.trial_cell_retry")
}

func TestRetryDomainTrialCell_Guards(t *testing.T) {
	st := newFakeStore()
	domainID := seedDomain(st, 1)
	def := st.byDomain[domainID][0]
	l := newLauncher(st, &fakeEstimator{costPerDefinition: 1}, &fakeAudit{})
	ctx := context.Background()
	userID := uuid.New()

	_, err := l.RetryDomainTrialCell(ctx, domainID, def.ID, "model-a", nil, uuid.Nil)
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = l.RetryDomainTrialCell(ctx, domainID, uuid.New(), "model-a", nil, userID)
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = l.RetryDomainTrialCell(ctx, uuid.New(), def.ID, "model-a", nil, userID)
	assert.ErrorIs(t, err, fault.ErrValidation, "definition outside the domain")

	_, err = l.RetryDomainTrialCell(ctx, domainID, def.ID, "nope", nil, userID)
	assert.ErrorIs(t, err, fault.ErrNotFound)

	st.aiModels["dormant"] = &models.Model{ID: "dormant", Active: false}
	_, err = l.RetryDomainTrialCell(ctx, domainID, def.ID, "dormant", nil, userID)
	assert.ErrorIs(t, err, fault.ErrValidation)

	st.activeRuns[def.ID] = &models.Run{ID: uuid.New(), DefinitionID: def.ID}
	_, err = l.RetryDomainTrialCell(ctx, domainID, def.ID, "model-a", nil, userID)
	assert.ErrorIs(t, err, fault.ErrConflict)
}
