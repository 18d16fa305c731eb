package events

import (
	"sync"

	"payai/core/types"
)

// Buffer collects events emitted while an instruction executes so they can be
// published only once its state changes are committed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Payloads returns the typed payloads of every buffered event that exposes
// one.
func (b *Buffer) Payloads() []types.Event {
	out := make([]types.Event, 0, len(b.events))
	for _, evt := range b.events {
		if p := Payload(evt); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Flush publishes the buffered events to the emitter and empties the buffer.
func (b *Buffer) Flush(to Emitter) {
	if to != nil {
		for _, evt := range b.events {
			to.Emit(evt)
		}
	}
	b.events = nil
}

// Reset drops all buffered events.
func (b *Buffer) Reset() { b.events = nil }

// Payload extracts the attribute payload of evt when it carries one.
func Payload(evt Event) *types.Event {
	if p, ok := evt.(interface{ Event() *types.Event }); ok {
		return p.Event()
	}
	return nil
}

// Fanout delivers every event to each registered emitter.
type Fanout struct {
	mu        sync.RWMutex
	receivers []Emitter
}

// Add registers an emitter.
func (f *Fanout) Add(e Emitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	f.receivers = append(f.receivers, e)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	f.mu.RLock()
	receivers := f.receivers
	f.mu.RUnlock()
	for _, r := range receivers {
		r.Emit(evt)
	}
}
