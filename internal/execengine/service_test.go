package execengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/storage"
)

func newTestService(t *testing.T, gen Generator, cfg ServiceConfig) (*Service, *storage.MemoryRepository) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	cost := NewCostGuardrails()
	events := NewObserverManager(nil)
	waveExec := NewWaveExecutor(cost, events, gen, DefaultWaveExecutorConfig())
	gate := NewAcceptanceGate(&fakeRunner{results: map[string]AcceptanceResult{}})
	svc := NewService(repo, cost, events, waveExec, gate, cfg)
	return svc, repo
}

func simpleBuildInput(atom Atom) AtomInput {
	return AtomInput{
		Atom:        atom,
		RetryPolicy: &RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Temperatures: []float64{0.7}},
		BuildPrompt: func(atom Atom, temperature float64, feedback string) (string, string) { return "p", "m" },
		Validate:    func(GeneratorResponse) (float64, float64) { return 1, 1 },
	}
}

func waitForStatus(t *testing.T, svc *Service, runID string, want RunStatus, timeout time.Duration) RunStatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap, err := svc.Status(context.Background(), runID)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach status %s in time", runID, want)
	return RunStatusSnapshot{}
}

func TestService_StartRunsToCompletion(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultServiceConfig())
	atoms := mkAtoms("a", "b")

	runID, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	waitForStatus(t, svc, runID, RunStatusSucceeded, 2*time.Second)
}

func TestService_StartIsIdempotentForNonTerminalRun(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultServiceConfig())
	atoms := mkAtoms("a")

	runID1, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)

	runID2, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)
	assert.Equal(t, runID1, runID2)
}

func TestService_GateFailureBlocksRun(t *testing.T) {
	repo := storage.NewMemoryRepository()
	cost := NewCostGuardrails()
	events := NewObserverManager(nil)
	gen := &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}
	waveExec := NewWaveExecutor(cost, events, gen, DefaultWaveExecutorConfig())
	gate := NewAcceptanceGate(&fakeRunner{results: map[string]AcceptanceResult{"t1": {Status: AcceptanceFail}}})
	svc := NewService(repo, cost, events, waveExec, gate, DefaultServiceConfig())

	atoms := mkAtoms("a")
	tests := []AcceptanceTest{{ID: "t1", Priority: PriorityMust}}

	runID, err := svc.Start(context.Background(), "mp1", atoms, nil, tests, simpleBuildInput)
	require.NoError(t, err)

	waitForStatus(t, svc, runID, RunStatusBlocked, 2*time.Second)
}

func TestService_CancelStopsRun(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultServiceConfig())
	atoms := mkAtoms("a", "b", "c")

	runID, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(runID))

	snap := waitForStatus(t, svc, runID, RunStatusCancelled, 2*time.Second)
	assert.Equal(t, RunStatusCancelled, snap.Status)
}

func TestService_PauseAndResume(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultServiceConfig())
	atoms := []Atom{{ID: "a", Complexity: ComplexityMedium}, {ID: "b", Complexity: ComplexityMedium}}
	edges := []Edge{{Src: "a", Dst: "b", Confidence: 1}}

	runID, err := svc.Start(context.Background(), "mp1", atoms, edges, nil, simpleBuildInput)
	require.NoError(t, err)
	require.NoError(t, svc.Pause(runID))

	waitForStatus(t, svc, runID, RunStatusPaused, 2*time.Second)

	require.NoError(t, svc.Resume(context.Background(), runID, "mp1", atoms, edges, nil, simpleBuildInput))
	waitForStatus(t, svc, runID, RunStatusSucceeded, 2*time.Second)
}

func TestService_BackpressureMarksRunDegradedAndIsResumable(t *testing.T) {
	repo := storage.NewMemoryRepository()
	cost := NewCostGuardrails()
	events := NewObserverManager(nil)
	slowGen := &slowGenerator{delay: 300 * time.Millisecond}
	waveExec := NewWaveExecutor(cost, events, slowGen, WaveExecutorConfig{
		GlobalParallelism:  1,
		QueueCapacity:      2,
		QueueThresholdPct:  0.8,
		QueueWaitTimeout:   5 * time.Millisecond,
		QueueRetryAttempts: 1,
	})
	gate := NewAcceptanceGate(&fakeRunner{results: map[string]AcceptanceResult{}})
	svc := NewService(repo, cost, events, waveExec, gate, DefaultServiceConfig())

	atoms := mkAtoms("a0", "a1", "a2", "a3", "a4")
	runID, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)

	waitForStatus(t, svc, runID, RunStatusDegraded, 2*time.Second)

	// the aborted wave is retriable once load subsides: swap in a
	// generator that keeps up with the queue and resume the run.
	svc.waveExec = NewWaveExecutor(cost, events, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultWaveExecutorConfig())
	require.NoError(t, svc.Resume(context.Background(), runID, "mp1", atoms, nil, nil, simpleBuildInput))
	waitForStatus(t, svc, runID, RunStatusSucceeded, 2*time.Second)
}

func TestService_PauseUnknownRunReturnsErrRunNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, DefaultServiceConfig())
	assert.ErrorIs(t, svc.Pause("missing"), ErrRunNotFound)
}

func TestService_ResumeNonPausedRunFails(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{resp: GeneratorResponse{CostUSD: 0.01}}, DefaultServiceConfig())
	atoms := mkAtoms("a")
	runID, err := svc.Start(context.Background(), "mp1", atoms, nil, nil, simpleBuildInput)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, RunStatusSucceeded, 2*time.Second)

	err = svc.Resume(context.Background(), runID, "mp1", atoms, nil, nil, simpleBuildInput)
	assert.ErrorIs(t, err, ErrRunAlreadyDone)
}
