package execengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/storage"
)

// GateMode selects when the acceptance gate runs, per the Open Question
// decided in the grounding ledger: per_wave (default, strictest) or
// per_masterplan (only after the final wave).
type GateMode string

const (
	GateModePerWave       GateMode = "per_wave"
	GateModePerMasterplan GateMode = "per_masterplan"
)

// ServiceConfig bundles C9's own knobs, separate from the wave executor's
// and cost guardrails' (which it owns and wires in).
type ServiceConfig struct {
	GateMode               GateMode
	AbortOnCriticalFailure bool
	GateThresholds         GateThresholds
	PlannerConfig          PlannerConfig
	EdgeConfidenceFloor    float64
}

// DefaultServiceConfig matches spec.md §6's defaults plus the decided
// per-wave gate default.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		GateMode:            GateModePerWave,
		GateThresholds:      DefaultGateThresholds(),
		PlannerConfig:       DefaultPlannerConfig(),
		EdgeConfidenceFloor: 0.3,
	}
}

// RunStatus enumerates the status values written into runs.status.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusBlocked   RunStatus = "blocked"
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunStatusSnapshot is what `status(run_id)` returns.
type RunStatusSnapshot struct {
	RunID        string
	MasterplanID string
	Status       RunStatus
	StateVersion int64
	WavesTotal   int
	WavesDone    int
	StartedAt    time.Time
	EndedAt      *time.Time
}

// runControl is the per-run cooperative pause/cancel signal the driver
// goroutine polls between waves (pause) and the wave executor's context
// carries (cancel).
type runControl struct {
	cancel context.CancelFunc
	paused chan struct{} // closed means "pause requested"
	done   chan struct{}
}

func newRunControl(cancel context.CancelFunc) *runControl {
	return &runControl{cancel: cancel, paused: make(chan struct{}), done: make(chan struct{})}
}

func (c *runControl) isPaused() bool {
	select {
	case <-c.paused:
		return true
	default:
		return false
	}
}

// Service is the public, top-level driver (C9): it owns the cost
// guardrails, wave executor, acceptance gate, and event sink, and drives
// one run's waves in strict index order, persisting every atom transition
// transactionally via the outbox pattern. Grounded on the teacher's
// dag_executor.go's top-level Execute orchestration generalized to this
// package's components.
type Service struct {
	repo     storage.ExecutionStateRepository
	cost     *CostGuardrails
	events   *ObserverManager
	waveExec *WaveExecutor
	gate     *AcceptanceGate
	cfg      ServiceConfig

	mu       sync.Mutex
	controls map[string]*runControl // run_id -> control
}

// NewService wires the execution service to its collaborators.
func NewService(repo storage.ExecutionStateRepository, cost *CostGuardrails, events *ObserverManager, waveExec *WaveExecutor, gate *AcceptanceGate, cfg ServiceConfig) *Service {
	if cfg.GateMode == "" {
		cfg.GateMode = GateModePerWave
	}
	return &Service{
		repo:     repo,
		cost:     cost,
		events:   events,
		waveExec: waveExec,
		gate:     gate,
		cfg:      cfg,
		controls: make(map[string]*runControl),
	}
}

// AtomInputFactory builds the generator-facing AtomInput for one atom; the
// caller supplies this since prompt construction and validation are
// domain-specific (outside the engine's scope per spec.md §9).
type AtomInputFactory func(atom Atom) AtomInput

// Start loads atoms/edges/tests, builds the execution plan (C1+C2),
// validates it, persists the plan snapshot, and launches the wave-by-wave
// driver in the background. Re-invoking Start while masterplanID already
// has a non-terminal run returns that run's id unchanged (spec.md §4.9's
// idempotence requirement).
func (s *Service) Start(ctx context.Context, masterplanID string, atoms []Atom, edges []Edge, tests []AcceptanceTest, buildInput AtomInputFactory) (string, error) {
	existing, err := s.repo.ListNonTerminalRuns(ctx, masterplanID)
	if err != nil {
		return "", fmt.Errorf("checking for existing runs: %w", err)
	}
	if len(existing) > 0 {
		return existing[0].RunID, nil
	}

	g, err := BuildGraph(atoms, edges, s.cfg.EdgeConfidenceFloor)
	if err != nil {
		return "", fmt.Errorf("building dependency graph: %w", err)
	}
	removed := g.BreakCycles()
	plan, err := CreatePlan(g, atoms, removed, s.cfg.PlannerConfig)
	if err != nil {
		return "", fmt.Errorf("creating execution plan: %w", err)
	}
	if err := ValidatePlan(plan, g); err != nil {
		return "", fmt.Errorf("validating execution plan: %w", err)
	}

	runID := uuid.NewString()
	now := time.Now()
	if err := s.repo.CreateRun(ctx, storage.RunModel{
		RunID:        runID,
		MasterplanID: masterplanID,
		Status:       string(RunStatusRunning),
		StateVersion: 0,
		StartedAt:    now,
	}); err != nil {
		return "", fmt.Errorf("persisting run: %w", err)
	}

	if err := s.savePlanSnapshot(ctx, runID, plan); err != nil {
		return "", err
	}
	for _, t := range tests {
		if err := s.repo.SaveAcceptanceTest(ctx, storage.AcceptanceTestModel{
			TestID:         t.ID,
			MasterplanID:   t.MasterplanID,
			Priority:       string(t.Priority),
			Language:       string(t.Language),
			TimeoutSeconds: t.TimeoutSeconds,
		}); err != nil {
			return "", fmt.Errorf("persisting acceptance test %s: %w", t.ID, err)
		}
	}

	s.publish(ctx, Event{Type: EventExecutionStarted, RunID: runID, MasterplanID: masterplanID,
		Payload: map[string]any{"total_atoms": plan.TotalAtoms, "waves": len(plan.Waves)}})

	runCtx, cancel := context.WithCancel(context.Background())
	ctrl := newRunControl(cancel)
	s.mu.Lock()
	s.controls[runID] = ctrl
	s.mu.Unlock()

	atomByID := make(map[string]Atom, len(atoms))
	for _, a := range atoms {
		atomByID[a.ID] = a
	}

	go s.driveRun(runCtx, runID, masterplanID, plan, atomByID, tests, buildInput, ctrl)

	return runID, nil
}

// driveRun executes every wave in order, persisting per-atom transitions
// and checking the acceptance gate per s.cfg.GateMode, until the plan
// completes, the run is cancelled, or the gate blocks progress.
func (s *Service) driveRun(ctx context.Context, runID, masterplanID string, plan ExecutionPlan, atomByID map[string]Atom, tests []AcceptanceTest, buildInput AtomInputFactory, ctrl *runControl) {
	defer close(ctrl.done)

	version := int64(0)
	if run, err := s.repo.GetRun(ctx, runID); err == nil {
		version = run.StateVersion
	}
	for i, wave := range plan.Waves {
		select {
		case <-ctx.Done():
			s.finishRun(context.Background(), runID, RunStatusCancelled, version)
			s.publish(context.Background(), Event{Type: EventExecutionCancelled, RunID: runID, MasterplanID: masterplanID})
			return
		default:
		}

		if ctrl.isPaused() {
			s.finishRun(context.Background(), runID, RunStatusPaused, version)
			return
		}

		persisted, err := s.repo.ListAtoms(ctx, masterplanID)
		if err != nil {
			s.finishRun(context.Background(), runID, RunStatusFailed, version)
			return
		}
		statusByID := make(map[string]AtomStatus, len(persisted))
		for _, a := range persisted {
			statusByID[a.AtomID] = AtomStatus(a.Status)
		}

		var inputs []AtomInput
		for _, atomID := range wave.AtomIDs {
			if statusByID[atomID] == AtomStatusSucceeded {
				continue // resumption: skip already-succeeded atoms
			}
			inputs = append(inputs, buildInput(atomByID[atomID]))
		}

		s.publish(ctx, Event{Type: EventWaveStarted, RunID: runID, MasterplanID: masterplanID, WaveIndex: &wave.Index,
			Payload: map[string]any{"atom_count": len(inputs)}})

		var result WaveResult
		if len(inputs) > 0 {
			result = s.waveExec.ExecuteWave(ctx, runID, masterplanID, wave.Index, inputs)
			for _, r := range result.Results {
				s.persistAtomResult(ctx, runID, masterplanID, wave.Index, r)
			}
		}

		if result.Backpressure {
			// spec.md §4.7/§7: persistent C4 rejection aborts the wave; the
			// run is marked degraded rather than failed/blocked because the
			// wave itself is retriable via Resume once load subsides.
			s.finishRun(ctx, runID, RunStatusDegraded, version)
			return
		}

		if s.cfg.AbortOnCriticalFailure && result.Degraded {
			s.finishRun(ctx, runID, RunStatusBlocked, version)
			return
		}

		runGateNow := s.cfg.GateMode == GateModePerWave || (s.cfg.GateMode == GateModePerMasterplan && i == len(plan.Waves)-1)
		if runGateNow && len(tests) > 0 {
			verdict := s.gate.CheckGate(ctx, tests, s.cfg.GateThresholds)
			s.publish(ctx, Event{Type: EventGateChecked, RunID: runID, MasterplanID: masterplanID, WaveIndex: &wave.Index,
				Payload: map[string]any{"gate_passed": verdict.GatePassed, "must_rate": verdict.MustRate, "should_rate": verdict.ShouldRate, "summary": verdict.Summary}})
			for _, r := range verdict.Results {
				s.persistAcceptanceResult(ctx, runID, wave.Index, r)
			}
			if !verdict.GatePassed {
				s.publish(ctx, Event{Type: EventGateFailed, RunID: runID, MasterplanID: masterplanID, WaveIndex: &wave.Index})
				s.finishRun(ctx, runID, RunStatusBlocked, version)
				return
			}
		}
	}

	s.finishRun(ctx, runID, RunStatusSucceeded, version)
	s.publish(ctx, Event{Type: EventExecutionCompleted, RunID: runID, MasterplanID: masterplanID})
}

func (s *Service) persistAtomResult(ctx context.Context, runID, masterplanID string, waveIndex int, r AtomResult) {
	now := time.Now()
	atomModel := storage.AtomModel{
		AtomID:          r.AtomID,
		MasterplanID:    masterplanID,
		Status:          string(r.Status),
		AttemptCount:    r.AttemptCount,
		LastErrorKind:   string(r.LastErrorKind),
		ConfidenceScore: r.ConfidenceScore,
		EndedAt:         &now,
	}

	accumulated, soft, hard, _ := s.cost.Snapshot(masterplanID)
	ledgerModel := storage.CostLedgerModel{
		MasterplanID: masterplanID,
		Accumulated:  accumulated,
		SoftCap:      soft,
		HardCap:      hard,
	}

	payload, _ := json.Marshal(map[string]any{
		"atom_id":          r.AtomID,
		"status":           string(r.Status),
		"confidence_score": r.ConfidenceScore,
		"needs_review":     r.NeedsReview,
	})
	eventModel := storage.EventOutboxModel{
		ID:        uuid.NewString(),
		RunID:     runID,
		EventJSON: string(payload),
	}

	_ = s.repo.RecordAtomTransition(ctx, atomModel, ledgerModel, eventModel)
}

func (s *Service) persistAcceptanceResult(ctx context.Context, runID string, waveIndex int, r AcceptanceResult) {
	idx := waveIndex
	_ = s.repo.SaveAcceptanceResult(ctx, storage.AcceptanceResultModel{
		ResultID:     uuid.NewString(),
		TestID:       r.TestID,
		RunID:        runID,
		WaveIndex:    &idx,
		Status:       string(r.Status),
		DurationMs:   r.DurationMs,
		ErrorMessage: r.ErrorMessage,
	})
}

func (s *Service) savePlanSnapshot(ctx context.Context, runID string, plan ExecutionPlan) error {
	waves, err := json.Marshal(plan.Waves)
	if err != nil {
		return fmt.Errorf("marshaling waves: %w", err)
	}
	broken, err := json.Marshal(plan.CycleBrokenEdges)
	if err != nil {
		return fmt.Errorf("marshaling cycle-broken edges: %w", err)
	}
	return s.repo.SavePlan(ctx, storage.PlanModel{
		RunID:                runID,
		WavesJSON:            string(waves),
		CycleBrokenEdgesJSON: string(broken),
	})
}

func (s *Service) finishRun(ctx context.Context, runID string, status RunStatus, expectedVersion int64) {
	_ = s.repo.UpdateRunStatus(ctx, runID, string(status), expectedVersion)
}

// Pause requests the run finish its current wave then stop, per spec.md
// §4.9's cooperative contract.
func (s *Service) Pause(runID string) error {
	s.mu.Lock()
	ctrl, ok := s.controls[runID]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	select {
	case <-ctrl.paused:
	default:
		close(ctrl.paused)
	}
	return nil
}

// Resume restarts a paused, blocked or degraded run's driver from its first
// non-terminal wave.
// The caller must re-supply atoms/edges/tests/buildInput since the service
// holds no long-lived copy of domain inputs across a pause.
func (s *Service) Resume(ctx context.Context, runID, masterplanID string, atoms []Atom, edges []Edge, tests []AcceptanceTest, buildInput AtomInputFactory) error {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != string(RunStatusPaused) && run.Status != string(RunStatusBlocked) && run.Status != string(RunStatusDegraded) {
		return ErrRunAlreadyDone
	}

	g, err := BuildGraph(atoms, edges, s.cfg.EdgeConfidenceFloor)
	if err != nil {
		return fmt.Errorf("rebuilding dependency graph: %w", err)
	}
	removed := g.BreakCycles()
	plan, err := CreatePlan(g, atoms, removed, s.cfg.PlannerConfig)
	if err != nil {
		return fmt.Errorf("rebuilding execution plan: %w", err)
	}

	if err := s.repo.UpdateRunStatus(ctx, runID, string(RunStatusRunning), run.StateVersion); err != nil {
		return err
	}

	atomByID := make(map[string]Atom, len(atoms))
	for _, a := range atoms {
		atomByID[a.ID] = a
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ctrl := newRunControl(cancel)
	s.mu.Lock()
	s.controls[runID] = ctrl
	s.mu.Unlock()

	go s.driveRun(runCtx, runID, masterplanID, plan, atomByID, tests, buildInput, ctrl)
	return nil
}

// Cancel signals the run's in-flight workers to stop and returns promptly;
// partial state is left in place, never rolled back.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	ctrl, ok := s.controls[runID]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	ctrl.cancel()
	return nil
}

// Status reports the run's current persisted state.
func (s *Service) Status(ctx context.Context, runID string) (RunStatusSnapshot, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return RunStatusSnapshot{}, err
	}
	plan, err := s.repo.GetPlan(ctx, runID)
	wavesTotal := 0
	if err == nil {
		var waves []Wave
		if jsonErr := json.Unmarshal([]byte(plan.WavesJSON), &waves); jsonErr == nil {
			wavesTotal = len(waves)
		}
	}
	return RunStatusSnapshot{
		RunID:        run.RunID,
		MasterplanID: run.MasterplanID,
		Status:       RunStatus(run.Status),
		StateVersion: run.StateVersion,
		WavesTotal:   wavesTotal,
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
	}, nil
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	event.Timestamp = time.Now()
	s.events.Publish(ctx, event)
}
