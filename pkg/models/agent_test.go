package models

import "testing"

func TestProcessStatusValid(t *testing.T) {
	valid := []ProcessStatus{
		ProcessStopped, ProcessStarting, ProcessRunning, ProcessRestarting, ProcessError,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Valid() = false for %q, want true", s)
		}
	}
	if ProcessStatus("zombie").Valid() {
		t.Error("Valid() = true for unknown status, want false")
	}
}

func TestAgentIdle(t *testing.T) {
	tests := []struct {
		name  string
		agent Agent
		idle  bool
	}{
		{"running without task", Agent{ProcessStatus: ProcessRunning}, true},
		{"running with task", Agent{ProcessStatus: ProcessRunning, CurrentTaskID: "t1"}, false},
		{"stopped", Agent{ProcessStatus: ProcessStopped}, false},
		{"error state", Agent{ProcessStatus: ProcessError}, false},
		{"restarting", Agent{ProcessStatus: ProcessRestarting}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.agent.Idle(); got != tt.idle {
				t.Errorf("Idle() = %v, want %v", got, tt.idle)
			}
		})
	}
}

func TestAgentHasCapability(t *testing.T) {
	a := Agent{Capabilities: []string{"go", "docs"}}

	if !a.HasCapability("go") {
		t.Error("HasCapability(go) = false, want true")
	}
	if a.HasCapability("rust") {
		t.Error("HasCapability(rust) = true, want false")
	}
	// An empty tag matches any agent, including one with no capabilities.
	if !a.HasCapability("") {
		t.Error("HasCapability(\"\") = false, want true")
	}
	if !(&Agent{}).HasCapability("") {
		t.Error("HasCapability(\"\") on empty agent = false, want true")
	}
}
