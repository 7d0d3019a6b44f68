// Package storage persists the execution engine's durable state: runs,
// atoms, the cost ledger, acceptance tests/results, the event outbox, and
// plan snapshots — the eight logical tables of the engine's persistence
// contract. Modeled on the teacher's internal/infrastructure/storage Bun
// repositories.
package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// RunModel is the persisted row for one execution run.
type RunModel struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	RunID        string     `bun:"run_id,pk"`
	MasterplanID string     `bun:"masterplan_id,notnull"`
	Status       string     `bun:"status,notnull"`
	StateVersion int64      `bun:"state_version,notnull"`
	StartedAt    time.Time  `bun:"started_at,notnull"`
	EndedAt      *time.Time `bun:"ended_at"`
}

// AtomModel is the persisted row for one atom's execution state.
type AtomModel struct {
	bun.BaseModel `bun:"table:atoms,alias:a"`

	AtomID          string     `bun:"atom_id,pk"`
	MasterplanID    string     `bun:"masterplan_id,notnull"`
	Status          string     `bun:"status,notnull"`
	AttemptCount    int        `bun:"attempt_count,notnull"`
	LastErrorKind   string     `bun:"last_error_kind"`
	ConfidenceScore float64    `bun:"confidence_score"`
	StartedAt       *time.Time `bun:"started_at"`
	EndedAt         *time.Time `bun:"ended_at"`
}

// CostLedgerModel is the persisted per-masterplan cost ledger snapshot.
type CostLedgerModel struct {
	bun.BaseModel `bun:"table:cost_ledger,alias:cl"`

	MasterplanID   string  `bun:"masterplan_id,pk"`
	Accumulated    float64 `bun:"accumulated,notnull"`
	SoftCap        float64 `bun:"soft_cap,notnull"`
	HardCap        float64 `bun:"hard_cap,notnull"`
	PerAtomCap     float64 `bun:"per_atom_cap"`
	AlertFiredSoft bool    `bun:"alert_fired_soft,notnull"`
}

// CostViolationModel is one recorded soft/hard cap crossing.
type CostViolationModel struct {
	bun.BaseModel `bun:"table:cost_violations,alias:cv"`

	ID           string    `bun:"id,pk"`
	MasterplanID string    `bun:"masterplan_id,notnull"`
	AtomID       string    `bun:"atom_id,notnull"`
	Kind         string    `bun:"kind,notnull"`
	Observed     float64   `bun:"observed,notnull"`
	Cap          float64   `bun:"cap,notnull"`
	Timestamp    time.Time `bun:"ts,notnull"`
}

// AcceptanceTestModel is one registered acceptance test.
type AcceptanceTestModel struct {
	bun.BaseModel `bun:"table:acceptance_tests,alias:at"`

	TestID         string `bun:"test_id,pk"`
	MasterplanID   string `bun:"masterplan_id,notnull"`
	Priority       string `bun:"priority,notnull"`
	Language       string `bun:"language,notnull"`
	TimeoutSeconds int    `bun:"timeout_seconds,notnull"`
	CodeHash       string `bun:"code_hash,notnull"`
}

// AcceptanceResultModel is one test execution outcome.
type AcceptanceResultModel struct {
	bun.BaseModel `bun:"table:acceptance_results,alias:ar"`

	ResultID     string `bun:"result_id,pk"`
	TestID       string `bun:"test_id,notnull"`
	RunID        string `bun:"run_id,notnull"`
	WaveIndex    *int   `bun:"wave_index"`
	Status       string `bun:"status,notnull"`
	DurationMs   int64  `bun:"duration_ms,notnull"`
	ErrorMessage string `bun:"error_message"`
}

// EventOutboxModel is one outbox entry guaranteeing eventual event delivery.
type EventOutboxModel struct {
	bun.BaseModel `bun:"table:event_outbox,alias:eo"`

	ID        string `bun:"id,pk"`
	RunID     string `bun:"run_id,notnull"`
	EventJSON string `bun:"event_json,notnull"`
	Published bool   `bun:"published,notnull"`
}

// PlanModel is the audit/resumption snapshot of one run's execution plan.
type PlanModel struct {
	bun.BaseModel `bun:"table:plans,alias:p"`

	RunID                string `bun:"run_id,pk"`
	WavesJSON            string `bun:"waves_json,notnull"`
	CycleBrokenEdgesJSON string `bun:"cycle_broken_edges_json,notnull"`
}
