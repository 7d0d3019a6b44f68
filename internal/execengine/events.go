package execengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/logger"
)

// EventFilter decides whether a given sink wants to see an event, mirroring
// the teacher's EventFilter/EventTypeFilter contract.
type EventFilter interface {
	ShouldNotify(event Event) bool
}

// EventTypeFilter notifies only for the listed event types.
type EventTypeFilter struct{ Types map[EventType]bool }

func (f EventTypeFilter) ShouldNotify(event Event) bool { return f.Types[event.Type] }

// NamedSink is an EventSink that can be registered with and removed from an
// ObserverManager by name, and may optionally restrict which events it
// receives via Filter.
type NamedSink interface {
	EventSink
	Name() string
	Filter() EventFilter
}

// ObserverManager fans events out to every registered sink, non-blocking
// and panic-recovering per sink, lifted from the teacher's
// observer.ObserverManager and generalized to this package's Event type.
type ObserverManager struct {
	mu     sync.RWMutex
	sinks  []NamedSink
	logger *logger.Logger
}

// NewObserverManager builds an empty manager.
func NewObserverManager(log *logger.Logger) *ObserverManager {
	return &ObserverManager{logger: log}
}

// Register adds a sink, rejecting a duplicate name.
func (m *ObserverManager) Register(sink NamedSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		if s.Name() == sink.Name() {
			return fmt.Errorf("sink %q already registered", sink.Name())
		}
	}
	m.sinks = append(m.sinks, sink)
	return nil
}

// Unregister removes a sink by name.
func (m *ObserverManager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sinks {
		if s.Name() == name {
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("sink %q not found", name)
}

// Publish fans event out to every registered sink in its own goroutine;
// errors and panics are logged, never propagated, satisfying the contract
// that publish is best-effort (the persistence outbox is the durable path).
func (m *ObserverManager) Publish(ctx context.Context, event Event) {
	m.mu.RLock()
	sinks := make([]NamedSink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	for _, s := range sinks {
		go m.safePublish(ctx, s, event)
	}
}

func (m *ObserverManager) safePublish(ctx context.Context, sink NamedSink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "event sink panic recovered",
					"sink", sink.Name(), "event_type", string(event.Type), "panic", r)
			}
		}
	}()

	if filter := sink.Filter(); filter != nil && !filter.ShouldNotify(event) {
		return
	}
	sink.Publish(ctx, event)
}

// Count returns the number of registered sinks.
func (m *ObserverManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}
