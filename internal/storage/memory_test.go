package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateRunRejectsDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	run := RunModel{RunID: "r1", MasterplanID: "mp1", Status: "running", StartedAt: time.Now()}

	require.NoError(t, repo.CreateRun(ctx, run))
	assert.ErrorIs(t, repo.CreateRun(ctx, run), ErrRunAlreadyExists)
}

func TestMemoryRepository_GetRunNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryRepository_UpdateRunStatusChecksVersion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, RunModel{RunID: "r1", MasterplanID: "mp1", Status: "running", StartedAt: time.Now()}))

	assert.ErrorIs(t, repo.UpdateRunStatus(ctx, "r1", "paused", 5), ErrStaleVersion)

	require.NoError(t, repo.UpdateRunStatus(ctx, "r1", "paused", 0))
	run, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "paused", run.Status)
	assert.Equal(t, int64(1), run.StateVersion)
}

func TestMemoryRepository_ListNonTerminalRunsExcludesTerminal(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, RunModel{RunID: "r1", MasterplanID: "mp1", Status: "running", StartedAt: time.Now()}))
	require.NoError(t, repo.CreateRun(ctx, RunModel{RunID: "r2", MasterplanID: "mp1", Status: "succeeded", StartedAt: time.Now()}))

	runs, err := repo.ListNonTerminalRuns(ctx, "mp1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)
}

func TestMemoryRepository_AtomRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.UpsertAtom(ctx, AtomModel{AtomID: "a1", MasterplanID: "mp1", Status: "pending"}))

	atom, err := repo.GetAtom(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "pending", atom.Status)

	atoms, err := repo.ListAtoms(ctx, "mp1")
	require.NoError(t, err)
	require.Len(t, atoms, 1)
}

func TestMemoryRepository_GetAtomNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetAtom(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAtomNotFound)
}

func TestMemoryRepository_RecordAtomTransitionUpdatesAtomAndLedgerAndEvent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.RecordAtomTransition(ctx,
		AtomModel{AtomID: "a1", MasterplanID: "mp1", Status: "succeeded"},
		CostLedgerModel{MasterplanID: "mp1", Accumulated: 1.5},
		EventOutboxModel{ID: "e1", RunID: "r1", EventJSON: "{}"}))

	atom, err := repo.GetAtom(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", atom.Status)

	ledger, err := repo.GetCostLedger(ctx, "mp1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, ledger.Accumulated)

	events, err := repo.ListUnpublishedEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestMemoryRepository_GetCostLedgerDefaultsWhenMissing(t *testing.T) {
	repo := NewMemoryRepository()
	ledger, err := repo.GetCostLedger(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", ledger.MasterplanID)
	assert.Equal(t, 0.0, ledger.Accumulated)
}

func TestMemoryRepository_MarkEventPublished(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.AppendEvent(ctx, EventOutboxModel{ID: "e1", RunID: "r1", EventJSON: "{}"}))

	require.NoError(t, repo.MarkEventPublished(ctx, "e1"))
	events, err := repo.ListUnpublishedEvents(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryRepository_PlanRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.SavePlan(ctx, PlanModel{RunID: "r1", WavesJSON: "[]", CycleBrokenEdgesJSON: "[]"}))

	plan, err := repo.GetPlan(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "[]", plan.WavesJSON)

	_, err = repo.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestMemoryRepository_AcceptanceTestAndResultRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.SaveAcceptanceTest(ctx, AcceptanceTestModel{TestID: "t1", MasterplanID: "mp1", Priority: "must"}))

	tests, err := repo.ListAcceptanceTests(ctx, "mp1")
	require.NoError(t, err)
	require.Len(t, tests, 1)

	require.NoError(t, repo.SaveAcceptanceResult(ctx, AcceptanceResultModel{ResultID: "res1", TestID: "t1", RunID: "r1", Status: "pass"}))
	results, err := repo.ListAcceptanceResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pass", results[0].Status)
}
