package storage

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process ExecutionStateRepository, useful for
// tests and single-process runs that don't need a Postgres instance. It
// satisfies the same interface as BunRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	runs    map[string]RunModel
	atoms   map[string]AtomModel
	ledgers map[string]CostLedgerModel
	viol    []CostViolationModel
	tests   map[string]AcceptanceTestModel
	results []AcceptanceResultModel
	events  []EventOutboxModel
	plans   map[string]PlanModel
}

var _ ExecutionStateRepository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:    make(map[string]RunModel),
		atoms:   make(map[string]AtomModel),
		ledgers: make(map[string]CostLedgerModel),
		tests:   make(map[string]AcceptanceTestModel),
		plans:   make(map[string]PlanModel),
	}
}

func (m *MemoryRepository) CreateRun(_ context.Context, run RunModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return ErrRunAlreadyExists
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, runID string) (RunModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return RunModel{}, ErrRunNotFound
	}
	return run, nil
}

func (m *MemoryRepository) UpdateRunStatus(_ context.Context, runID, status string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.StateVersion != expectedVersion {
		return ErrStaleVersion
	}
	run.Status = status
	run.StateVersion++
	m.runs[runID] = run
	return nil
}

func (m *MemoryRepository) ListNonTerminalRuns(_ context.Context, masterplanID string) ([]RunModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	terminal := map[string]bool{"succeeded": true, "failed": true, "cancelled": true}
	var out []RunModel
	for _, r := range m.runs {
		if r.MasterplanID == masterplanID && !terminal[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRepository) UpsertAtom(_ context.Context, atom AtomModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atoms[atom.AtomID] = atom
	return nil
}

func (m *MemoryRepository) GetAtom(_ context.Context, atomID string) (AtomModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	atom, ok := m.atoms[atomID]
	if !ok {
		return AtomModel{}, ErrAtomNotFound
	}
	return atom, nil
}

func (m *MemoryRepository) ListAtoms(_ context.Context, masterplanID string) ([]AtomModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AtomModel
	for _, a := range m.atoms {
		if a.MasterplanID == masterplanID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) RecordAtomTransition(_ context.Context, atom AtomModel, ledger CostLedgerModel, event EventOutboxModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atoms[atom.AtomID] = atom
	m.ledgers[ledger.MasterplanID] = ledger
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryRepository) AppendCostViolation(_ context.Context, violation CostViolationModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viol = append(m.viol, violation)
	return nil
}

func (m *MemoryRepository) GetCostLedger(_ context.Context, masterplanID string) (CostLedgerModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[masterplanID]
	if !ok {
		return CostLedgerModel{MasterplanID: masterplanID}, nil
	}
	return ledger, nil
}

func (m *MemoryRepository) UpsertCostLedger(_ context.Context, ledger CostLedgerModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[ledger.MasterplanID] = ledger
	return nil
}

func (m *MemoryRepository) SaveAcceptanceTest(_ context.Context, test AcceptanceTestModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[test.TestID] = test
	return nil
}

func (m *MemoryRepository) ListAcceptanceTests(_ context.Context, masterplanID string) ([]AcceptanceTestModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AcceptanceTestModel
	for _, t := range m.tests {
		if t.MasterplanID == masterplanID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryRepository) SaveAcceptanceResult(_ context.Context, result AcceptanceResultModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

func (m *MemoryRepository) ListAcceptanceResults(_ context.Context, runID string) ([]AcceptanceResultModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AcceptanceResultModel
	for _, r := range m.results {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRepository) AppendEvent(_ context.Context, event EventOutboxModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryRepository) ListUnpublishedEvents(_ context.Context, runID string) ([]EventOutboxModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventOutboxModel
	for _, e := range m.events {
		if e.RunID == runID && !e.Published {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepository) MarkEventPublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.events {
		if e.ID == id {
			m.events[i].Published = true
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) SavePlan(_ context.Context, plan PlanModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.RunID] = plan
	return nil
}

func (m *MemoryRepository) GetPlan(_ context.Context, runID string) (PlanModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[runID]
	if !ok {
		return PlanModel{}, ErrPlanNotFound
	}
	return plan, nil
}
