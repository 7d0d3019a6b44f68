package execengine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/observability"
)

// WaveExecutorConfig bundles the knobs the wave executor needs from global
// configuration (cfg.global_parallelism, backpressure wait/retry bounds,
// cfg.queue_capacity / cfg.queue_threshold_pct).
type WaveExecutorConfig struct {
	GlobalParallelism   int
	QueueCapacity       int
	QueueThresholdPct   float64
	QueueWaitTimeout    time.Duration
	QueueRetryAttempts  int
	AbortOnCriticalFail bool
}

// DefaultWaveExecutorConfig mirrors spec.md §6 defaults.
func DefaultWaveExecutorConfig() WaveExecutorConfig {
	return WaveExecutorConfig{
		GlobalParallelism:  16,
		QueueCapacity:      256,
		QueueThresholdPct:  0.8,
		QueueWaitTimeout:   2 * time.Second,
		QueueRetryAttempts: 5,
	}
}

// WaveExecutor runs all atoms of one wave with bounded parallelism: a
// worker pool of size min(len(inputs), cfg.GlobalParallelism) (the wave's
// own MaxParallel is not consulted) pulls
// atoms from the backpressure queue, invoking the cost guardrails and
// retry orchestrator around each one. Generalized from the teacher's
// executeWave (semaphore fan-out, priority sort, aggregated errors) by
// replacing expr-based edge-condition skipping with hard-cost-exceeded
// admission skipping.
type WaveExecutor struct {
	cost      *CostGuardrails
	events    *ObserverManager
	cfg       WaveExecutorConfig
	generator Generator
}

// NewWaveExecutor wires the executor to its collaborators.
func NewWaveExecutor(cost *CostGuardrails, events *ObserverManager, generator Generator, cfg WaveExecutorConfig) *WaveExecutor {
	if cfg.GlobalParallelism <= 0 {
		cfg.GlobalParallelism = 16
	}
	if cfg.QueueWaitTimeout <= 0 {
		cfg.QueueWaitTimeout = 2 * time.Second
	}
	if cfg.QueueRetryAttempts <= 0 {
		cfg.QueueRetryAttempts = 5
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.QueueThresholdPct <= 0 {
		cfg.QueueThresholdPct = 0.8
	}
	return &WaveExecutor{cost: cost, events: events, generator: generator, cfg: cfg}
}

// AtomResult is the per-atom outcome recorded by the wave executor.
type AtomResult struct {
	AtomID          string
	Status          AtomStatus
	AttemptCount    int
	LastError       string
	LastErrorKind   ErrorKind
	ConfidenceScore float64
	NeedsReview     bool
	CostDelta       float64
	DurationMs      int64
	Degraded        bool
}

// WaveResult aggregates one ExecuteWave invocation.
type WaveResult struct {
	WaveIndex    int
	Succeeded    int
	Failed       int
	Skipped      int
	Cancelled    int
	Duration     time.Duration
	ParallelPeak int
	CostDelta    float64
	Degraded     bool
	Backpressure bool
	Results      []AtomResult
}

// AtomInput is everything the wave executor needs about one atom beyond
// what the caller's Generator/retry wiring already knows.
type AtomInput struct {
	Atom        Atom
	RetryPolicy *RetryPolicy
	BuildPrompt func(atom Atom, temperature float64, feedback string) (prompt, model string)
	Validate    func(response GeneratorResponse) (validationPassRate, integrationPassRate float64)
	ComplexityRatio float64
}

// ExecuteWave admits every atom of the given wave into the C4 backpressure
// queue, priority = 3 - rank() (critical=0, high=1, ...), then drains
// it with a worker pool of size min(len(inputs), cfg.GlobalParallelism) per
// spec.md §4.7 step 2. A `Rejected{full}` enqueue is retried up to
// cfg.QueueRetryAttempts times, waiting cfg.QueueWaitTimeout between tries;
// persistent rejection aborts the wave with Backpressure and leaves
// not-yet-enqueued atoms untouched (and therefore unbilled) for a later
// retry of the wave. It returns once all admitted atoms have been drained
// or ctx is cancelled. It is idempotent if invoked twice with the same
// already-finalized results slice by the caller's own bookkeeping (the
// executor itself holds no cross-call state).
func (w *WaveExecutor) ExecuteWave(ctx context.Context, runID, masterplanID string, waveIndex int, inputs []AtomInput) WaveResult {
	start := time.Now()

	sorted := make([]AtomInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Atom.Complexity.rank() > sorted[j].Atom.Complexity.rank()
	})

	parallel := w.cfg.GlobalParallelism
	if len(sorted) < parallel {
		parallel = len(sorted)
	}
	if parallel <= 0 {
		parallel = 1
	}

	queue := NewQueue(w.cfg.QueueCapacity, w.cfg.QueueThresholdPct)
	inputByID := make(map[string]AtomInput, len(sorted))
	for _, in := range sorted {
		inputByID[in.Atom.ID] = in
	}

	var (
		resultsMu sync.Mutex
		results   []AtomResult
		degraded  bool
	)
	recordResult := func(r AtomResult) {
		resultsMu.Lock()
		results = append(results, r)
		if r.Degraded {
			degraded = true
		}
		resultsMu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok, err := queue.Dequeue(ctx, w.cfg.QueueWaitTimeout)
				if err != nil || !ok {
					return
				}
				in, known := inputByID[item.AtomID]
				if !known {
					continue
				}
				recordResult(w.executeAtom(ctx, runID, masterplanID, waveIndex, in))
			}
		}()
	}

	backpressure := false
enqueueLoop:
	for _, in := range sorted {
		select {
		case <-ctx.Done():
			break enqueueLoop
		default:
		}

		item := QueueItem{AtomID: in.Atom.ID, Priority: 3 - in.Atom.Complexity.rank()}

		var enqErr error
		cancelledWhileWaiting := false
		for attempt := 0; attempt <= w.cfg.QueueRetryAttempts; attempt++ {
			enqErr = queue.Enqueue(item)
			if enqErr == nil {
				break
			}
			var rejected *RejectedError
			if !errors.As(enqErr, &rejected) || rejected.Reason != RejectFull {
				break
			}
			if attempt == w.cfg.QueueRetryAttempts {
				break
			}
			select {
			case <-ctx.Done():
				cancelledWhileWaiting = true
			case <-time.After(w.cfg.QueueWaitTimeout):
				continue
			}
			break
		}
		if cancelledWhileWaiting {
			break enqueueLoop
		}
		if enqErr != nil {
			backpressure = true
			break enqueueLoop
		}
	}
	queue.Close()
	wg.Wait()

	duration := time.Since(start)
	observability.RecordWaveDuration(duration)
	if backpressure {
		degraded = true
	}
	wr := WaveResult{WaveIndex: waveIndex, Duration: duration, ParallelPeak: parallel, Degraded: degraded, Backpressure: backpressure, Results: results}
	for _, r := range results {
		wr.CostDelta += r.CostDelta
		switch r.Status {
		case AtomStatusSucceeded:
			wr.Succeeded++
		case AtomStatusFailed:
			wr.Failed++
		case AtomStatusSkipped:
			wr.Skipped++
		case AtomStatusCancelled:
			wr.Cancelled++
		}
	}

	payload := map[string]any{"succeeded": wr.Succeeded, "failed": wr.Failed, "skipped": wr.Skipped, "degraded": wr.Degraded, "backpressure": wr.Backpressure}
	if backpressure {
		payload["reason"] = ErrBackpressure.Error()
	}
	w.publish(ctx, Event{Type: EventWaveCompleted, RunID: runID, MasterplanID: masterplanID, WaveIndex: &waveIndex, Payload: payload})

	return wr
}

// executeAtom implements spec.md §4.7's per-atom protocol steps 1-5.
func (w *WaveExecutor) executeAtom(ctx context.Context, runID, masterplanID string, waveIndex int, in AtomInput) AtomResult {
	atom := in.Atom
	start := time.Now()

	w.publish(ctx, Event{Type: EventAtomStarted, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex})

	admission := w.cost.CheckBeforeExecution(masterplanID, atom.EstimatedCost)
	if admission == AdmissionHardExceeded {
		w.publish(ctx, Event{Type: EventAtomSkipped, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex,
			Payload: map[string]any{"reason": "hard_cost_exceeded"}})
		return AtomResult{AtomID: atom.ID, Status: AtomStatusSkipped, LastErrorKind: ErrorKindFatal, LastError: ErrHardCostCapHit.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	policy := in.RetryPolicy
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastValidationRate, lastIntegrationRate float64
	generate := func(ctx context.Context, temperature float64, feedback string) (float64, error) {
		if in.BuildPrompt == nil || w.generator == nil {
			return 0, ErrGeneratorFatal
		}
		prompt, model := in.BuildPrompt(atom, temperature, feedback)
		resp, err := w.generator.Invoke(ctx, prompt, model, temperature, time.Now().Add(30*time.Second))
		if err != nil {
			return 0, err
		}
		if in.Validate != nil {
			lastValidationRate, lastIntegrationRate = in.Validate(resp)
		} else {
			lastValidationRate, lastIntegrationRate = 1, 1
		}
		return resp.CostUSD, nil
	}

	outcome := policy.Run(ctx, classifyError, generate)

	alertSoft, alertHard := w.cost.Record(masterplanID, atom.ID, outcome.TotalCost)
	if alertSoft {
		w.publish(ctx, Event{Type: EventCostSoftExceeded, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex})
	}
	if alertHard {
		w.publish(ctx, Event{Type: EventCostHardExceeded, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex})
	}

	result := AtomResult{
		AtomID:        atom.ID,
		Status:        outcome.Status,
		AttemptCount:  outcome.AttemptCount,
		LastError:     outcome.LastError,
		LastErrorKind: outcome.LastErrorKind,
		CostDelta:     outcome.TotalCost,
		DurationMs:    outcome.TotalDurationMs,
	}

	switch outcome.Status {
	case AtomStatusSucceeded:
		score := ConfidenceScore(lastValidationRate, outcome.AttemptCount, policy.MaxAttempts, in.ComplexityRatio, lastIntegrationRate)
		result.ConfidenceScore = score
		result.NeedsReview = score < 0.70
		w.publish(ctx, Event{Type: EventAtomSucceeded, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex,
			Payload: map[string]any{"confidence_score": score, "needs_review": result.NeedsReview}})
	case AtomStatusFailed:
		if atom.Complexity == ComplexityCritical {
			result.Degraded = true
		}
		w.publish(ctx, Event{Type: EventAtomFailed, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex,
			Payload: map[string]any{"last_error": outcome.LastError, "last_error_kind": string(outcome.LastErrorKind)}})
	case AtomStatusCancelled:
		w.publish(ctx, Event{Type: EventAtomSkipped, RunID: runID, MasterplanID: masterplanID, AtomID: &atom.ID, WaveIndex: &waveIndex,
			Payload: map[string]any{"reason": "cancelled"}})
	}

	return result
}

func (w *WaveExecutor) publish(ctx context.Context, event Event) {
	if w.events == nil {
		return
	}
	event.Timestamp = time.Now()
	w.events.Publish(ctx, event)
}

// ConfidenceScore implements spec.md §4.7's single formula, clamped to
// [0,1]: 0.40*validation_pass_rate + 0.30*(1-attempts_used_ratio) +
// 0.20*(1-complexity_ratio) + 0.10*integration_pass_rate.
func ConfidenceScore(validationPassRate float64, attemptsUsed, maxAttempts int, complexityRatio, integrationPassRate float64) float64 {
	attemptsUsedRatio := 0.0
	if maxAttempts > 0 {
		attemptsUsedRatio = float64(attemptsUsed) / float64(maxAttempts)
	}
	s := 0.40*validationPassRate + 0.30*(1-attemptsUsedRatio) + 0.20*(1-complexityRatio) + 0.10*integrationPassRate
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ConfidenceBand classifies a score into spec.md §4.7's named thresholds.
func ConfidenceBand(score float64) string {
	switch {
	case score >= 0.85:
		return "high"
	case score >= 0.70:
		return "medium"
	case score >= 0.50:
		return "low"
	default:
		return "critical"
	}
}
