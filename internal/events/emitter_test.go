package events

import (
	"sync"
	"testing"
	"time"
)

func TestEmitterDelivers(t *testing.T) {
	e := NewEmitter("core", 4)
	defer e.Close()

	e.Emit(Event{Type: TypeTaskUpdate, TaskID: "t1"})

	select {
	case got := <-e.Events():
		if got.Type != TypeTaskUpdate || got.TaskID != "t1" {
			t.Errorf("received %+v, want task_update for t1", got)
		}
		if got.Service != "core" {
			t.Errorf("Service = %q, want core", got.Service)
		}
		if got.Timestamp.IsZero() {
			t.Error("Timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter("core", 1)
	defer e.Close()

	e.Emit(Event{Type: TypeLogEntry})
	e.Emit(Event{Type: TypeLogEntry}) // nobody draining, must drop after grace

	if got := e.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEmitter("core", 1)
	e.Close()
	e.Close()
	// Emit after close must not panic.
	e.Emit(Event{Type: TypeLogEntry})
}

func TestEmitterConcurrentEmitAndClose(t *testing.T) {
	// Emits racing a Close must either deliver or become no-ops, never
	// panic on a closed channel.
	for i := 0; i < 50; i++ {
		e := NewEmitter("core", 1)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Emit(Event{Type: TypeLogEntry})
			}()
		}
		go func() {
			for range e.Events() {
			}
		}()

		e.Close()
		wg.Wait()
	}
}

func TestEmitterLog(t *testing.T) {
	e := NewEmitter("scheduler", 1)
	defer e.Close()

	e.Log(SeverityWarn, "agent-1", "t1", "no match for %s", "t1")

	got := <-e.Events()
	if got.Type != TypeLogEntry {
		t.Errorf("Type = %q, want log_entry", got.Type)
	}
	if got.Severity != SeverityWarn || got.AgentID != "agent-1" || got.TaskID != "t1" {
		t.Errorf("correlation fields wrong: %+v", got)
	}
	if got.Message != "no match for t1" {
		t.Errorf("Message = %q", got.Message)
	}
}
