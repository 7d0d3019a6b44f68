// Package execengine implements the atom execution engine: dependency
// graph construction, wave planning, cost admission control, backpressure,
// caching, bounded retry with temperature annealing, acceptance gating, and
// the top-level execution service that drives a masterplan to completion.
package execengine

import (
	"time"
)

// Complexity classifies an atom's estimated difficulty. It orders atoms
// within a wave and sets queue priority; no parallelism weighting and no
// per-complexity retry or temperature schedule is derived from it.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

// rank orders complexities from least (0) to most (3) severe, used
// for priority queues and wave tie-breaking (higher rank goes first).
func (c Complexity) rank() int {
	switch c {
	case ComplexityCritical:
		return 3
	case ComplexityHigh:
		return 2
	case ComplexityMedium:
		return 1
	default:
		return 0
	}
}

// AtomStatus is the lifecycle state of an Atom within a masterplan run.
type AtomStatus string

const (
	AtomStatusPending     AtomStatus = "pending"
	AtomStatusReady       AtomStatus = "ready"
	AtomStatusInProgress  AtomStatus = "in_progress"
	AtomStatusSucceeded   AtomStatus = "succeeded"
	AtomStatusFailed      AtomStatus = "failed"
	AtomStatusSkipped     AtomStatus = "skipped"
	AtomStatusNeedsReview AtomStatus = "needs_review"
	AtomStatusCancelled   AtomStatus = "cancelled"
)

// IsTerminal reports whether the status will no longer change within a run.
func (s AtomStatus) IsTerminal() bool {
	switch s {
	case AtomStatusSucceeded, AtomStatusFailed, AtomStatusSkipped, AtomStatusCancelled:
		return true
	default:
		return false
	}
}

// Atom is one unit of code generation scheduled by the engine.
type Atom struct {
	ID             string
	MasterplanID   string
	TaskID         string
	ParentAtomID   string
	Complexity     Complexity
	EstimatedCost  float64
	TargetFiles    []string
	AcceptanceRefs []string

	Status          AtomStatus
	AttemptCount    int
	MaxAttempts     int
	LastError       string
	LastErrorKind   ErrorKind
	ConfidenceScore float64

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// EdgeKind classifies the evidence linking two atoms.
type EdgeKind string

const (
	EdgeKindImport    EdgeKind = "import"
	EdgeKindCall      EdgeKind = "call"
	EdgeKindVariable  EdgeKind = "variable"
	EdgeKindType      EdgeKind = "type"
	EdgeKindDataFlow  EdgeKind = "data_flow"
)

// Edge is a directed dependency: Src produces something Dst consumes.
type Edge struct {
	Src        string
	Dst        string
	Kind       EdgeKind
	Weight     float64
	Confidence float64
}

// RemovedEdge records an edge removed from the graph during cycle-breaking,
// kept for audit in ExecutionPlan.CycleBrokenEdges.
type RemovedEdge struct {
	Edge   Edge
	Reason string
}

// Wave is a set of atoms whose predecessors all live in strictly
// lower-indexed waves.
type Wave struct {
	Index                int
	AtomIDs              []string
	MaxParallel          int
	ExpectedDurationHint time.Duration
}

// ExecutionPlan is the level-partitioned, topologically-ordered schedule
// produced by the Wave Planner and consumed by the Execution Service.
type ExecutionPlan struct {
	Waves            []Wave
	TotalAtoms       int
	CycleBrokenEdges []RemovedEdge
}

// CostLedgerEntry is one append-only debit against a masterplan's budget.
type CostLedgerEntry struct {
	ID           string
	MasterplanID string
	AtomID       string
	Amount       float64
	RunningTotal float64
	RecordedAt   time.Time
}

// CostViolationKind distinguishes a soft-cap alert from a hard-cap latch.
type CostViolationKind string

const (
	CostViolationSoft CostViolationKind = "soft"
	CostViolationHard CostViolationKind = "hard"
)

// CostViolation records a single soft or hard cap breach. The ledger is
// append-only; a soft violation fires its alert at most once per run.
type CostViolation struct {
	ID           string
	MasterplanID string
	Kind         CostViolationKind
	Threshold    float64
	ObservedCost float64
	RecordedAt   time.Time
}

// CacheEntryKind distinguishes the two cache tiers.
type CacheEntryKind string

const (
	CacheKindPromptExact  CacheEntryKind = "prompt_exact"
	CacheKindRetrieval    CacheEntryKind = "retrieval_similarity"
)

// PromptCacheEntry is a verbatim hit on the prompt-exact cache, keyed by a
// SHA-256 digest over the canonicalized prompt, model, and temperature.
type PromptCacheEntry struct {
	Key       string
	Response  string
	Model     string
	CreatedAt time.Time
}

// RetrievalCacheEntry is a similarity-based hit on the retrieval cache: an
// exact key lookup falls back to cosine similarity over Embedding when no
// exact match exists.
type RetrievalCacheEntry struct {
	Key       string
	Embedding []float64
	Response  string
	CreatedAt time.Time
}

// AcceptancePriority classifies an acceptance test's binding strength on the
// gate decision.
type AcceptancePriority string

const (
	PriorityMust   AcceptancePriority = "must"
	PriorityShould AcceptancePriority = "should"
)

// AcceptanceLanguage is the runtime an acceptance test executes under.
type AcceptanceLanguage string

const (
	LanguagePytest AcceptanceLanguage = "pytest"
	LanguageJest   AcceptanceLanguage = "jest"
	LanguageVitest AcceptanceLanguage = "vitest"
)

// AcceptanceTest is an auto-generated test gating release of a masterplan.
type AcceptanceTest struct {
	ID              string
	MasterplanID    string
	RequirementText string
	Priority        AcceptancePriority
	Code            string
	Language        AcceptanceLanguage
	TimeoutSeconds  int
}

// AcceptanceStatus is the outcome of running one AcceptanceTest.
type AcceptanceStatus string

const (
	AcceptancePass    AcceptanceStatus = "pass"
	AcceptanceFail    AcceptanceStatus = "fail"
	AcceptanceTimeout AcceptanceStatus = "timeout"
	AcceptanceError   AcceptanceStatus = "error"
)

// AcceptanceResult is the recorded outcome of executing one AcceptanceTest.
type AcceptanceResult struct {
	ID           string
	TestID       string
	WaveIndex    *int
	Status       AcceptanceStatus
	DurationMs   int64
	Stdout       string
	Stderr       string
	ErrorMessage string
}

// countsAsFail reports whether the result counts as a failure for gate math;
// timeout and error are treated as fail per spec.
func (r AcceptanceResult) countsAsFail() bool {
	return r.Status != AcceptancePass
}
