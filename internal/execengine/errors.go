package execengine

import "errors"

// ErrorKind classifies a failed generation attempt for retry decisions.
// Fatal errors never get an automatic retry regardless of remaining budget.
type ErrorKind string

const (
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindRateLimited   ErrorKind = "rate_limited"
	// ErrorKindValidation covers ValidationFail/GeneratorRefusal: spec.md
	// §4.6 lists both as transient (retry), not fatal.
	ErrorKindValidation    ErrorKind = "validation"
	// ErrorKindFatal covers SchemaInvalid, ContractMismatch, HardCostExceeded.
	ErrorKindFatal         ErrorKind = "fatal"
	ErrorKindCancelled     ErrorKind = "cancelled"
)

// Sentinel errors returned by engine components. Wrap with fmt.Errorf("...: %w", ...)
// at call sites that need extra context; compare with errors.Is at call sites
// that need to branch on kind.
var (
	ErrAtomNotFound       = errors.New("atom not found")
	ErrPlanNotFound       = errors.New("execution plan not found")
	ErrRunNotFound        = errors.New("run not found")
	ErrCyclicDependency   = errors.New("cyclic dependency detected")
	ErrInvalidEdge        = errors.New("invalid dependency edge")
	ErrInvalidInput       = errors.New("invalid input")
	ErrGraphNonAcyclic    = errors.New("graph non-acyclic after cycle breaking")
	ErrInvalidLimits      = errors.New("invalid cost limits")

	ErrSoftCostCapHit  = errors.New("soft cost cap exceeded")
	ErrHardCostCapHit  = errors.New("hard cost cap exceeded, run latched")

	ErrQueueFull    = errors.New("backpressure queue full")
	ErrQueueClosed  = errors.New("backpressure queue closed")
	ErrItemExpired  = errors.New("queued item past deadline")
	ErrBackpressure = errors.New("wave aborted: persistent backpressure rejection")

	ErrRetriesExhausted = errors.New("retry attempts exhausted")
	ErrFatalGeneration  = errors.New("fatal generation error, not retryable")

	ErrGateFailed    = errors.New("acceptance gate failed")
	ErrRunCancelled  = errors.New("run cancelled")
	ErrRunAlreadyDone = errors.New("run already in a terminal state")

	ErrStaleStateVersion = errors.New("state version mismatch, concurrent modification")

	ErrCacheError       = errors.New("cache error")
	ErrPersistenceError = errors.New("persistence error")
	ErrGeneratorFatal   = errors.New("generator reported a fatal error")
)

// AtomError wraps a failure against a specific atom with its classification.
type AtomError struct {
	AtomID string
	Kind   ErrorKind
	Err    error
}

func (e *AtomError) Error() string {
	return "atom " + e.AtomID + " (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *AtomError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the wrapped kind should bypass retry entirely.
func (e *AtomError) IsFatal() bool {
	return e.Kind == ErrorKindFatal
}

// PlanningError wraps a failure that occurred while building or validating
// an ExecutionPlan for a masterplan.
type PlanningError struct {
	MasterplanID string
	Err          error
}

func (e *PlanningError) Error() string {
	return "planning masterplan " + e.MasterplanID + ": " + e.Err.Error()
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// classifyError maps a raw error into an ErrorKind using interface probes
// for Temporary()/Timeout(), defaulting to transient when neither applies
// per spec.md §4.6 ("Others default to transient").
func classifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AtomError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	type temporary interface{ Temporary() bool }
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok && t.Timeout() {
		return ErrorKindTransient
	}
	if t, ok := err.(temporary); ok && t.Temporary() {
		return ErrorKindTransient
	}
	if errors.Is(err, ErrRunCancelled) {
		return ErrorKindCancelled
	}
	if errors.Is(err, ErrGraphNonAcyclic) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrHardCostCapHit) {
		return ErrorKindFatal
	}
	return ErrorKindTransient
}
