package execengine

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdmissionResult is the outcome of a pure check_before_execution query.
type AdmissionResult string

const (
	AdmissionOK           AdmissionResult = "ok"
	AdmissionSoftExceeded AdmissionResult = "soft_exceeded"
	AdmissionHardExceeded AdmissionResult = "hard_exceeded"
)

// costLedgerState is one masterplan's mutable cost ledger.
type costLedgerState struct {
	accumulated    float64
	softCap        float64
	hardCap        float64
	perAtomCap     float64
	alertFiredSoft bool
	hardBreached   bool
	violations     []CostViolation
}

// CostGuardrails enforces soft/hard cost ceilings per masterplan. One mutex
// guards every masterplan's ledger, so updates to different masterplans are
// serialized against each other as well, mirroring the teacher's
// per-account transaction accounting but widened to a running total against
// two cap tiers instead of a single balance.
type CostGuardrails struct {
	mu      sync.Mutex
	ledgers map[string]*costLedgerState
}

// NewCostGuardrails constructs an empty, process-wide guardrails registry
// addressable by masterplan id.
func NewCostGuardrails() *CostGuardrails {
	return &CostGuardrails{ledgers: make(map[string]*costLedgerState)}
}

// SetLimits registers (or replaces) the cap configuration for a masterplan.
func (c *CostGuardrails) SetLimits(masterplanID string, soft, hard float64, perAtom *float64) error {
	if soft < 0 || hard < 0 || soft > hard {
		return ErrInvalidLimits
	}
	if perAtom != nil && *perAtom < 0 {
		return ErrInvalidLimits
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ledger := c.ledgers[masterplanID]
	if ledger == nil {
		ledger = &costLedgerState{}
		c.ledgers[masterplanID] = ledger
	}
	ledger.softCap = soft
	ledger.hardCap = hard
	if perAtom != nil {
		ledger.perAtomCap = *perAtom
	}
	return nil
}

// CheckBeforeExecution is a pure query: it never mutates the ledger. Once a
// hard cap has been crossed, every subsequent call returns AdmissionHardExceeded
// until Reset.
func (c *CostGuardrails) CheckBeforeExecution(masterplanID string, estimated float64) AdmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	ledger := c.ledgers[masterplanID]
	if ledger == nil {
		return AdmissionOK
	}
	if ledger.hardBreached {
		return AdmissionHardExceeded
	}
	projected := ledger.accumulated + estimated
	if projected > ledger.hardCap {
		return AdmissionHardExceeded
	}
	if projected > ledger.softCap {
		return AdmissionSoftExceeded
	}
	return AdmissionOK
}

// Record appends actual_cost to the running total. It appends a soft
// violation the first time soft is crossed (and fires the alert exactly
// once per run) and a hard violation the first time hard is crossed,
// latching the ledger so future admission checks refuse.
func (c *CostGuardrails) Record(masterplanID, atomID string, actualCost float64) (alertSoft bool, alertHard bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ledger := c.ledgers[masterplanID]
	if ledger == nil {
		// No limits configured for this masterplan: track accumulation
		// without ever admitting a violation.
		ledger = &costLedgerState{softCap: math.MaxFloat64, hardCap: math.MaxFloat64}
		c.ledgers[masterplanID] = ledger
	}

	now := time.Now()
	before := ledger.accumulated
	ledger.accumulated += actualCost

	if ledger.perAtomCap > 0 && actualCost > ledger.perAtomCap {
		ledger.violations = append(ledger.violations, CostViolation{
			ID:           uuid.NewString(),
			MasterplanID: masterplanID,
			Kind:         CostViolationSoft,
			Threshold:    ledger.perAtomCap,
			ObservedCost: actualCost,
			RecordedAt:   now,
		})
	}

	if !ledger.alertFiredSoft && before <= ledger.softCap && ledger.accumulated > ledger.softCap {
		ledger.alertFiredSoft = true
		ledger.violations = append(ledger.violations, CostViolation{
			ID:           uuid.NewString(),
			MasterplanID: masterplanID,
			Kind:         CostViolationSoft,
			Threshold:    ledger.softCap,
			ObservedCost: ledger.accumulated,
			RecordedAt:   now,
		})
		alertSoft = true
	}

	if !ledger.hardBreached && ledger.accumulated > ledger.hardCap {
		ledger.hardBreached = true
		ledger.violations = append(ledger.violations, CostViolation{
			ID:           uuid.NewString(),
			MasterplanID: masterplanID,
			Kind:         CostViolationHard,
			Threshold:    ledger.hardCap,
			ObservedCost: ledger.accumulated,
			RecordedAt:   now,
		})
		alertHard = true
	}

	return alertSoft, alertHard
}

// Snapshot returns a read-only copy of the ledger's current state.
func (c *CostGuardrails) Snapshot(masterplanID string) (accumulated, soft, hard float64, violations []CostViolation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ledger := c.ledgers[masterplanID]
	if ledger == nil {
		return 0, 0, 0, nil
	}
	out := make([]CostViolation, len(ledger.violations))
	copy(out, ledger.violations)
	return ledger.accumulated, ledger.softCap, ledger.hardCap, out
}

// Reset clears the ledger for masterplanID, or every ledger if masterplanID
// is empty. An explicit operator action; the only way to un-latch a hard
// breach.
func (c *CostGuardrails) Reset(masterplanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if masterplanID == "" {
		c.ledgers = make(map[string]*costLedgerState)
		return
	}
	delete(c.ledgers, masterplanID)
}
