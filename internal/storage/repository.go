package storage

import "context"

// ExecutionStateRepository is the durable-state contract the execution
// service (C9) drives every wave through: one transaction per atom
// terminates together with its cost record and outbox event, and the run's
// state_version is bumped under optimistic concurrency so a duplicate
// driver cannot double-apply a transition. Modeled on the teacher's
// domain/repository.WorkflowRepository interface-in-its-own-file layout,
// narrowed to the engine's eight logical tables.
type ExecutionStateRepository interface {
	// CreateRun inserts a new run row at state_version 0. Returns
	// ErrRunAlreadyExists if run_id is already present (the caller uses this
	// to make `start` idempotent against an already-running masterplan).
	CreateRun(ctx context.Context, run RunModel) error
	GetRun(ctx context.Context, runID string) (RunModel, error)
	// UpdateRunStatus transitions status under optimistic concurrency,
	// bumping state_version. Returns ErrStaleVersion if expectedVersion
	// no longer matches the stored row.
	UpdateRunStatus(ctx context.Context, runID, status string, expectedVersion int64) error
	ListNonTerminalRuns(ctx context.Context, masterplanID string) ([]RunModel, error)

	UpsertAtom(ctx context.Context, atom AtomModel) error
	GetAtom(ctx context.Context, atomID string) (AtomModel, error)
	ListAtoms(ctx context.Context, masterplanID string) ([]AtomModel, error)

	// RecordAtomTransition persists an atom's terminal status, its cost
	// ledger delta, and its outbox event in one transaction (the outbox
	// pattern spec.md §5 requires for durable state).
	RecordAtomTransition(ctx context.Context, atom AtomModel, ledger CostLedgerModel, event EventOutboxModel) error

	AppendCostViolation(ctx context.Context, violation CostViolationModel) error
	GetCostLedger(ctx context.Context, masterplanID string) (CostLedgerModel, error)
	UpsertCostLedger(ctx context.Context, ledger CostLedgerModel) error

	SaveAcceptanceTest(ctx context.Context, test AcceptanceTestModel) error
	ListAcceptanceTests(ctx context.Context, masterplanID string) ([]AcceptanceTestModel, error)
	SaveAcceptanceResult(ctx context.Context, result AcceptanceResultModel) error
	ListAcceptanceResults(ctx context.Context, runID string) ([]AcceptanceResultModel, error)

	AppendEvent(ctx context.Context, event EventOutboxModel) error
	ListUnpublishedEvents(ctx context.Context, runID string) ([]EventOutboxModel, error)
	MarkEventPublished(ctx context.Context, id string) error

	SavePlan(ctx context.Context, plan PlanModel) error
	GetPlan(ctx context.Context, runID string) (PlanModel, error)
}
