package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// BunRepository implements ExecutionStateRepository against Postgres via
// Bun, grounded on the teacher's WorkflowRepository: db.RunInTx for
// multi-row writes that must land together, plain NewSelect/NewUpdate for
// single-row reads and optimistic-concurrency updates.
type BunRepository struct {
	db *bun.DB
}

var _ ExecutionStateRepository = (*BunRepository)(nil)

// NewBunRepository wraps an already-opened Bun database handle.
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

func (r *BunRepository) CreateRun(ctx context.Context, run RunModel) error {
	_, err := r.db.NewInsert().Model(&run).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *BunRepository) GetRun(ctx context.Context, runID string) (RunModel, error) {
	run := RunModel{}
	err := r.db.NewSelect().Model(&run).Where("run_id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return RunModel{}, ErrRunNotFound
	}
	if err != nil {
		return RunModel{}, fmt.Errorf("getting run %s: %w", runID, err)
	}
	return run, nil
}

func (r *BunRepository) UpdateRunStatus(ctx context.Context, runID, status string, expectedVersion int64) error {
	res, err := r.db.NewUpdate().
		Model((*RunModel)(nil)).
		Set("status = ?", status).
		Set("state_version = state_version + 1").
		Where("run_id = ? AND state_version = ?", runID, expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating run %s status: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result for run %s: %w", runID, err)
	}
	if n == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *BunRepository) ListNonTerminalRuns(ctx context.Context, masterplanID string) ([]RunModel, error) {
	var runs []RunModel
	err := r.db.NewSelect().
		Model(&runs).
		Where("masterplan_id = ? AND status NOT IN (?)", masterplanID, bun.In([]string{"succeeded", "failed", "cancelled"})).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal runs for %s: %w", masterplanID, err)
	}
	return runs, nil
}

func (r *BunRepository) UpsertAtom(ctx context.Context, atom AtomModel) error {
	_, err := r.db.NewInsert().
		Model(&atom).
		On("CONFLICT (atom_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("attempt_count = EXCLUDED.attempt_count").
		Set("last_error_kind = EXCLUDED.last_error_kind").
		Set("confidence_score = EXCLUDED.confidence_score").
		Set("started_at = EXCLUDED.started_at").
		Set("ended_at = EXCLUDED.ended_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting atom %s: %w", atom.AtomID, err)
	}
	return nil
}

func (r *BunRepository) GetAtom(ctx context.Context, atomID string) (AtomModel, error) {
	atom := AtomModel{}
	err := r.db.NewSelect().Model(&atom).Where("atom_id = ?", atomID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return AtomModel{}, ErrAtomNotFound
	}
	if err != nil {
		return AtomModel{}, fmt.Errorf("getting atom %s: %w", atomID, err)
	}
	return atom, nil
}

func (r *BunRepository) ListAtoms(ctx context.Context, masterplanID string) ([]AtomModel, error) {
	var atoms []AtomModel
	err := r.db.NewSelect().Model(&atoms).Where("masterplan_id = ?", masterplanID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing atoms for %s: %w", masterplanID, err)
	}
	return atoms, nil
}

// RecordAtomTransition implements the outbox pattern: the atom's terminal
// row, the cost ledger snapshot, and the event all commit together or not
// at all.
func (r *BunRepository) RecordAtomTransition(ctx context.Context, atom AtomModel, ledger CostLedgerModel, event EventOutboxModel) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(&atom).
			On("CONFLICT (atom_id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("attempt_count = EXCLUDED.attempt_count").
			Set("last_error_kind = EXCLUDED.last_error_kind").
			Set("confidence_score = EXCLUDED.confidence_score").
			Set("started_at = EXCLUDED.started_at").
			Set("ended_at = EXCLUDED.ended_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("recording atom %s: %w", atom.AtomID, err)
		}

		if _, err := tx.NewInsert().
			Model(&ledger).
			On("CONFLICT (masterplan_id) DO UPDATE").
			Set("accumulated = EXCLUDED.accumulated").
			Set("soft_cap = EXCLUDED.soft_cap").
			Set("hard_cap = EXCLUDED.hard_cap").
			Set("per_atom_cap = EXCLUDED.per_atom_cap").
			Set("alert_fired_soft = EXCLUDED.alert_fired_soft").
			Exec(ctx); err != nil {
			return fmt.Errorf("recording cost ledger for %s: %w", ledger.MasterplanID, err)
		}

		if _, err := tx.NewInsert().Model(&event).Exec(ctx); err != nil {
			return fmt.Errorf("appending outbox event for run %s: %w", event.RunID, err)
		}

		return nil
	})
}

func (r *BunRepository) AppendCostViolation(ctx context.Context, violation CostViolationModel) error {
	_, err := r.db.NewInsert().Model(&violation).Exec(ctx)
	if err != nil {
		return fmt.Errorf("appending cost violation: %w", err)
	}
	return nil
}

func (r *BunRepository) GetCostLedger(ctx context.Context, masterplanID string) (CostLedgerModel, error) {
	ledger := CostLedgerModel{}
	err := r.db.NewSelect().Model(&ledger).Where("masterplan_id = ?", masterplanID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return CostLedgerModel{MasterplanID: masterplanID}, nil
	}
	if err != nil {
		return CostLedgerModel{}, fmt.Errorf("getting cost ledger for %s: %w", masterplanID, err)
	}
	return ledger, nil
}

func (r *BunRepository) UpsertCostLedger(ctx context.Context, ledger CostLedgerModel) error {
	_, err := r.db.NewInsert().
		Model(&ledger).
		On("CONFLICT (masterplan_id) DO UPDATE").
		Set("accumulated = EXCLUDED.accumulated").
		Set("soft_cap = EXCLUDED.soft_cap").
		Set("hard_cap = EXCLUDED.hard_cap").
		Set("per_atom_cap = EXCLUDED.per_atom_cap").
		Set("alert_fired_soft = EXCLUDED.alert_fired_soft").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting cost ledger for %s: %w", ledger.MasterplanID, err)
	}
	return nil
}

func (r *BunRepository) SaveAcceptanceTest(ctx context.Context, test AcceptanceTestModel) error {
	_, err := r.db.NewInsert().
		Model(&test).
		On("CONFLICT (test_id) DO UPDATE").
		Set("priority = EXCLUDED.priority").
		Set("language = EXCLUDED.language").
		Set("timeout_seconds = EXCLUDED.timeout_seconds").
		Set("code_hash = EXCLUDED.code_hash").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("saving acceptance test %s: %w", test.TestID, err)
	}
	return nil
}

func (r *BunRepository) ListAcceptanceTests(ctx context.Context, masterplanID string) ([]AcceptanceTestModel, error) {
	var tests []AcceptanceTestModel
	err := r.db.NewSelect().Model(&tests).Where("masterplan_id = ?", masterplanID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing acceptance tests for %s: %w", masterplanID, err)
	}
	return tests, nil
}

func (r *BunRepository) SaveAcceptanceResult(ctx context.Context, result AcceptanceResultModel) error {
	_, err := r.db.NewInsert().Model(&result).Exec(ctx)
	if err != nil {
		return fmt.Errorf("saving acceptance result %s: %w", result.ResultID, err)
	}
	return nil
}

func (r *BunRepository) ListAcceptanceResults(ctx context.Context, runID string) ([]AcceptanceResultModel, error) {
	var results []AcceptanceResultModel
	err := r.db.NewSelect().Model(&results).Where("run_id = ?", runID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing acceptance results for %s: %w", runID, err)
	}
	return results, nil
}

func (r *BunRepository) AppendEvent(ctx context.Context, event EventOutboxModel) error {
	_, err := r.db.NewInsert().Model(&event).Exec(ctx)
	if err != nil {
		return fmt.Errorf("appending event for run %s: %w", event.RunID, err)
	}
	return nil
}

func (r *BunRepository) ListUnpublishedEvents(ctx context.Context, runID string) ([]EventOutboxModel, error) {
	var events []EventOutboxModel
	err := r.db.NewSelect().Model(&events).Where("run_id = ? AND published = false", runID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing unpublished events for run %s: %w", runID, err)
	}
	return events, nil
}

func (r *BunRepository) MarkEventPublished(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*EventOutboxModel)(nil)).
		Set("published = true").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking event %s published: %w", id, err)
	}
	return nil
}

func (r *BunRepository) SavePlan(ctx context.Context, plan PlanModel) error {
	_, err := r.db.NewInsert().
		Model(&plan).
		On("CONFLICT (run_id) DO UPDATE").
		Set("waves_json = EXCLUDED.waves_json").
		Set("cycle_broken_edges_json = EXCLUDED.cycle_broken_edges_json").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("saving plan for run %s: %w", plan.RunID, err)
	}
	return nil
}

func (r *BunRepository) GetPlan(ctx context.Context, runID string) (PlanModel, error) {
	plan := PlanModel{}
	err := r.db.NewSelect().Model(&plan).Where("run_id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanModel{}, ErrPlanNotFound
	}
	if err != nil {
		return PlanModel{}, fmt.Errorf("getting plan for run %s: %w", runID, err)
	}
	return plan, nil
}
