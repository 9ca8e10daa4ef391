package events

import (
	"sync"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Broadcastable is implemented by events that can flatten themselves into the
// attribute form served to subscribers and persisted by indexers.
type Broadcastable interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Flatten converts an event into its broadcast form. Events that do not
// implement Broadcastable are reduced to their type.
func Flatten(e Event) *types.Event {
	if e == nil {
		return nil
	}
	if b, ok := e.(Broadcastable); ok {
		if ev := b.Event(); ev != nil {
			return ev
		}
	}
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
}

// Buffer collects events emitted during a single operation. The executor
// flushes it only after the operation's writes were committed, so a failed
// operation never leaks audit records.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

// Events returns a copy of the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush forwards every buffered event to the downstream emitter and clears
// the buffer.
func (b *Buffer) Flush(to Emitter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if to == nil {
		return
	}
	for _, e := range pending {
		to.Emit(e)
	}
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Fanout delivers each event to every member emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(e Event) {
	for _, em := range f {
		if em != nil {
			em.Emit(e)
		}
	}
}
