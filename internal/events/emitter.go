package events

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Emitter fans events out to a single subscriber channel. Emission never
// blocks the core for long: a full channel gets a short grace window and the
// event is dropped after that, with a counter for diagnostics.
type Emitter struct {
	service      string
	events       chan Event
	droppedCount atomic.Uint64

	// mu serializes Close against in-flight Emits: an Emit holds the read
	// lock from its closed check through its last send attempt, so Close
	// cannot close the channel out from under it.
	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(service string, bufferSize int) *Emitter {
	return &Emitter{
		service: service,
		events:  make(chan Event, bufferSize),
	}
}

// Emit sends an event, stamping service and timestamp. If the channel is
// full it waits up to 100ms for the subscriber to drain, then drops.
func (e *Emitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	event.Service = e.service
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			log.Printf("[events] WARNING: channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// Log emits a structured log_entry event.
func (e *Emitter) Log(severity Severity, agentID, taskID, format string, args ...interface{}) {
	e.Emit(Event{
		Type:     TypeLogEntry,
		AgentID:  agentID,
		TaskID:   taskID,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Events returns the read-only subscriber channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes the event channel. Emit becomes a no-op afterwards. Close
// waits for in-flight Emits to finish before closing.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
