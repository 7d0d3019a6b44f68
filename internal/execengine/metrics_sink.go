package execengine

import (
	"context"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/observability"
)

// MetricsSink translates the event catalogue into Prometheus observations,
// registered with an ObserverManager the same way the teacher wires its
// notifier observers, generalized from tracking workflow/node events to
// this package's atom/wave/gate/cost events.
type MetricsSink struct{}

// NewMetricsSink builds a sink ready to register.
func NewMetricsSink() *MetricsSink { return &MetricsSink{} }

func (s *MetricsSink) Name() string        { return "metrics" }
func (s *MetricsSink) Filter() EventFilter { return nil }

// Publish records the subset of the event catalogue not already
// instrumented at its source (queue.go, cache.go, retry.go, graph.go each
// call observability directly since they aren't otherwise event-driven).
// It never returns an error: a bad or missing payload field just means
// nothing is recorded for that field, matching EventSink's best-effort
// contract.
func (s *MetricsSink) Publish(_ context.Context, event Event) {
	switch event.Type {
	case EventAtomSucceeded:
		observability.RecordAtomTerminal(string(AtomStatusSucceeded))
		if score, ok := event.Payload["confidence_score"].(float64); ok {
			observability.RecordConfidenceScore(score)
		}
	case EventAtomFailed:
		observability.RecordAtomTerminal(string(AtomStatusFailed))
	case EventAtomSkipped:
		observability.RecordAtomTerminal(string(AtomStatusSkipped))
	case EventCostSoftExceeded:
		observability.RecordCostViolation(string(CostViolationSoft))
	case EventCostHardExceeded:
		observability.RecordCostViolation(string(CostViolationHard))
	case EventGateChecked:
		if passed, ok := event.Payload["gate_passed"].(bool); ok {
			observability.RecordGateDecision(passed)
		}
	}
}

var _ NamedSink = (*MetricsSink)(nil)
