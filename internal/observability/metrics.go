// Package observability exposes the execution engine's Prometheus metrics
// and their HTTP exposition server, grounded on the teacher pack's
// pkg/metrics package-level promauto collectors plus Record* helpers.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AtomsProcessedTotal counts atom executions by their terminal status.
	AtomsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_atoms_processed_total",
		Help: "Total number of atoms that reached a terminal status.",
	}, []string{"status"})

	// AtomAttemptsTotal counts every generation attempt, successful or not.
	AtomAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_atom_attempts_total",
		Help: "Total number of generation attempts across all atoms.",
	})

	// AtomConfidenceScore observes the confidence score of every succeeded atom.
	AtomConfidenceScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "execengine_atom_confidence_score",
		Help:    "Distribution of confidence scores for succeeded atoms.",
		Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
	})

	// WaveDuration observes how long each wave took to execute.
	WaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "execengine_wave_duration_seconds",
		Help:    "Wall-clock duration of a single wave's execution.",
		Buckets: prometheus.DefBuckets,
	})

	// CostRecordedUSD observes per-atom recorded cost.
	CostRecordedUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "execengine_atom_cost_usd",
		Help:    "Distribution of per-atom recorded cost in USD.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// CostViolationsTotal counts soft/hard cap crossings by kind.
	CostViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_cost_violations_total",
		Help: "Total number of cost guardrail violations.",
	}, []string{"kind"})

	// QueueDepth gauges the current size of the backpressure queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "execengine_queue_depth",
		Help: "Current number of items waiting in the backpressure queue.",
	})

	// QueueRejectedTotal counts items rejected because the queue was full.
	QueueRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_queue_rejected_total",
		Help: "Total number of items rejected because the queue was at capacity.",
	})

	// QueueExpiredTotal counts items dropped past their deadline.
	QueueExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_queue_expired_total",
		Help: "Total number of queued items dropped after passing their deadline.",
	})

	// CacheHitsTotal / CacheMissesTotal track the two-tier cache's hit rate by tier.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_cache_hits_total",
		Help: "Total number of cache hits by tier (prompt_exact, retrieval_similarity).",
	}, []string{"tier"})
	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_cache_misses_total",
		Help: "Total number of cache misses by tier.",
	}, []string{"tier"})

	// BatchesFlushedTotal counts request-batcher flush events.
	BatchesFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_batches_flushed_total",
		Help: "Total number of request batches flushed to the generator.",
	})

	// BatchSize observes how many requests were coalesced per flush.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "execengine_batch_size",
		Help:    "Number of requests coalesced into a single batch flush.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	// GateDecisionsTotal counts acceptance gate verdicts by outcome.
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_gate_decisions_total",
		Help: "Total number of acceptance gate checks by outcome (passed, blocked).",
	}, []string{"outcome"})

	// CyclesBrokenTotal counts dependency edges removed by MFAS cycle breaking.
	CyclesBrokenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_cycles_broken_edges_total",
		Help: "Total number of dependency edges removed while breaking cycles.",
	})
)

// RecordAtomTerminal records one atom reaching a terminal status.
func RecordAtomTerminal(status string) {
	AtomsProcessedTotal.WithLabelValues(status).Inc()
}

// RecordAtomAttempt records one generation attempt.
func RecordAtomAttempt() {
	AtomAttemptsTotal.Inc()
}

// RecordConfidenceScore observes a succeeded atom's confidence score.
func RecordConfidenceScore(score float64) {
	AtomConfidenceScore.Observe(score)
}

// RecordWaveDuration observes a wave's wall-clock duration.
func RecordWaveDuration(d time.Duration) {
	WaveDuration.Observe(d.Seconds())
}

// RecordCost observes one atom's recorded cost.
func RecordCost(usd float64) {
	CostRecordedUSD.Observe(usd)
}

// RecordCostViolation increments the violation counter for the given kind
// ("soft" or "hard").
func RecordCostViolation(kind string) {
	CostViolationsTotal.WithLabelValues(kind).Inc()
}

// SetQueueDepth gauges the backpressure queue's current size.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// RecordQueueRejected records one full-queue rejection.
func RecordQueueRejected() {
	QueueRejectedTotal.Inc()
}

// RecordQueueExpired records one deadline-expired drop.
func RecordQueueExpired() {
	QueueExpiredTotal.Inc()
}

// RecordCacheHit / RecordCacheMiss record a cache lookup outcome for the
// given tier.
func RecordCacheHit(tier string)  { CacheHitsTotal.WithLabelValues(tier).Inc() }
func RecordCacheMiss(tier string) { CacheMissesTotal.WithLabelValues(tier).Inc() }

// RecordBatchFlush records one request-batcher flush of the given size.
func RecordBatchFlush(size int) {
	BatchesFlushedTotal.Inc()
	BatchSize.Observe(float64(size))
}

// RecordGateDecision records one acceptance gate verdict.
func RecordGateDecision(passed bool) {
	outcome := "blocked"
	if passed {
		outcome = "passed"
	}
	GateDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCyclesBroken adds n removed edges to the cycle-breaking counter.
func RecordCyclesBroken(n int) {
	CyclesBrokenTotal.Add(float64(n))
}
