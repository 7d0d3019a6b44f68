package execengine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/observability"
)

// BackoffStrategy controls how delay grows between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy runs one atom through up to MaxAttempts, annealing
// Temperatures and injecting the prior failure's feedback into the next
// attempt. Generalized from the teacher's single-policy RetryPolicy to
// carry a temperature schedule and classification-aware ShouldRetry.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy
	Temperatures    []float64
	OnRetry         func(attempt int, temperature float64, err error)
}

// DefaultRetryPolicy matches spec.md §6 defaults: 3 attempts, exponential
// backoff base 1s capped at 30s, temperature schedule [0.7, 0.5, 0.3].
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffStrategy: BackoffExponential,
		Temperatures:    []float64{0.7, 0.5, 0.3},
	}
}

// TemperatureFor returns the temperature for the given 1-based attempt
// number, clamped to the last scheduled value if attempts exceed the
// configured schedule length.
func (rp *RetryPolicy) TemperatureFor(attempt int) float64 {
	if len(rp.Temperatures) == 0 {
		return 0.7
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(rp.Temperatures) {
		idx = len(rp.Temperatures) - 1
	}
	return rp.Temperatures[idx]
}

// ShouldRetry reports whether the classified error kind permits another
// attempt. Only ErrorKindFatal (SchemaInvalid/ContractMismatch/
// HardCostExceeded) and ErrorKindCancelled stop the loop; ErrorKindValidation
// (ValidationFail/GeneratorRefusal) retries like any other transient kind
// per spec.md §4.6.
func (rp *RetryPolicy) ShouldRetry(kind ErrorKind) bool {
	switch kind {
	case ErrorKindFatal, ErrorKindCancelled:
		return false
	default:
		return true
	}
}

// GetDelay computes base*2^(attempt-1) (or linear/constant equivalents),
// capped at MaxDelay, then applies +/-20% jitter.
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var delay time.Duration
	switch rp.BackoffStrategy {
	case BackoffConstant:
		delay = rp.InitialDelay
	case BackoffLinear:
		delay = rp.InitialDelay * time.Duration(attempt)
	default:
		multiplier := math.Pow(2, float64(attempt-1))
		delay = time.Duration(float64(rp.InitialDelay) * multiplier)
	}
	if delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return jitter(delay, 0.20)
}

func jitter(d time.Duration, fraction float64) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}

// GenerateFunc is the adapter a caller supplies around the external
// Generator interface for one attempt: it receives the temperature and
// optional feedback addendum from the prior failed attempt and returns the
// attempt's outcome.
type GenerateFunc func(ctx context.Context, temperature float64, feedback string) (cost float64, err error)

// AttemptOutcome is the terminal result of running one atom through the
// retry state machine.
type AttemptOutcome struct {
	Status          AtomStatus
	AttemptCount    int
	LastError       string
	LastErrorKind   ErrorKind
	TotalDurationMs int64
	TotalCost       float64
}

// Run drives the retry state machine described in spec.md §4.6: attempt 1
// at Temperatures[0], backing off with jitter between transient failures,
// composing a feedback addendum from the prior attempt's failure for the
// next attempt only (no global memory), until MaxAttempts is exhausted or
// a fatal error is classified. Cancellation is cooperative: if ctx is
// cancelled mid-attempt, the in-flight cost already incurred is kept and
// the atom is reported cancelled.
func (rp *RetryPolicy) Run(ctx context.Context, classify func(error) ErrorKind, generate GenerateFunc) AttemptOutcome {
	maxAttempts := rp.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	var totalCost float64
	var feedback string
	var lastErr error
	var lastKind ErrorKind

	attemptsRun := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return AttemptOutcome{
				Status:          AtomStatusCancelled,
				AttemptCount:    attemptsRun,
				LastError:       lastErr2String(lastErr),
				LastErrorKind:   ErrorKindCancelled,
				TotalDurationMs: time.Since(start).Milliseconds(),
				TotalCost:       totalCost,
			}
		default:
		}

		temperature := rp.TemperatureFor(attempt)
		cost, err := generate(ctx, temperature, feedback)
		observability.RecordAtomAttempt()
		totalCost += cost
		attemptsRun = attempt

		if ctx.Err() != nil {
			return AttemptOutcome{
				Status:          AtomStatusCancelled,
				AttemptCount:    attemptsRun,
				LastError:       lastErr2String(err),
				LastErrorKind:   ErrorKindCancelled,
				TotalDurationMs: time.Since(start).Milliseconds(),
				TotalCost:       totalCost,
			}
		}

		if err == nil {
			observability.RecordCost(totalCost)
			return AttemptOutcome{
				Status:          AtomStatusSucceeded,
				AttemptCount:    attemptsRun,
				TotalDurationMs: time.Since(start).Milliseconds(),
				TotalCost:       totalCost,
			}
		}

		lastErr = err
		lastKind = classify(err)

		if attempt >= maxAttempts || !rp.ShouldRetry(lastKind) {
			break
		}

		feedback = composeFeedbackAddendum(lastKind, err)

		if rp.OnRetry != nil {
			rp.OnRetry(attempt, temperature, err)
		}

		delay := rp.GetDelay(attempt)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return AttemptOutcome{
					Status:          AtomStatusCancelled,
					AttemptCount:    attemptsRun,
					LastError:       err.Error(),
					LastErrorKind:   ErrorKindCancelled,
					TotalDurationMs: time.Since(start).Milliseconds(),
					TotalCost:       totalCost,
				}
			case <-time.After(delay):
			}
		}
	}

	observability.RecordCost(totalCost)
	return AttemptOutcome{
		Status:          AtomStatusFailed,
		AttemptCount:    attemptsRun,
		LastError:       lastErr2String(lastErr),
		LastErrorKind:   lastKind,
		TotalDurationMs: time.Since(start).Milliseconds(),
		TotalCost:       totalCost,
	}
}

func lastErr2String(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// composeFeedbackAddendum builds the text appended to the next attempt's
// prompt context from the prior failure's kind and message. Feedback from
// attempt k influences only attempt k+1.
func composeFeedbackAddendum(kind ErrorKind, err error) string {
	const maxLen = 2000
	msg := err.Error()
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return "previous attempt failed (" + string(kind) + "): " + msg
}
