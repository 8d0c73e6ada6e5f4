package events

import (
	"log/slog"
	"sync"

	"dposledger/core/types"
	"dposledger/observability"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
// Delivery is fire-and-forget.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps the most recent events in memory, dropping the oldest once
// the capacity is reached.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	events   []types.Event
}

// NewRecorder returns a recorder retaining at most capacity events. A
// non-positive capacity keeps everything.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *rendered)
	if r.capacity > 0 && len(r.events) > r.capacity {
		r.events = append([]types.Event(nil), r.events[len(r.events)-r.capacity:]...)
	}
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	for i := range r.events {
		attrs := make(map[string]string, len(r.events[i].Attributes))
		for k, v := range r.events[i].Attributes {
			attrs[k] = v
		}
		out[i] = types.Event{Type: r.events[i].Type, Attributes: attrs}
	}
	return out
}

// LogEmitter writes every event to a structured logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (e LogEmitter) Emit(evt Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	args := make([]any, 0, len(rendered.Attributes)*2+2)
	args = append(args, "event", rendered.Type)
	for k, v := range rendered.Attributes {
		args = append(args, k, v)
	}
	logger.Debug("ledger event", args...)
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// MetricsEmitter counts events by type in the ledger metrics registry.
type MetricsEmitter struct {
	Metrics *observability.LedgerMetrics
}

// Emit implements the Emitter interface.
func (e MetricsEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	e.Metrics.RecordEvent(evt.EventType())
}
