package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusReady, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Valid() = false for %q, want true", s)
		}
	}
	if TaskStatus("unknown").Valid() {
		t.Error("Valid() = true for unknown status, want false")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusAssigned, false},
		{TaskStatusInProgress, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestTaskRetryBudgetLeft(t *testing.T) {
	task := &Task{AttemptCount: 2, MaxAttempts: 3}
	if !task.RetryBudgetLeft() {
		t.Error("RetryBudgetLeft() = false with attempts below max, want true")
	}
	task.AttemptCount = 3
	if task.RetryBudgetLeft() {
		t.Error("RetryBudgetLeft() = true with attempts at max, want false")
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:        "t1",
		DependsOn: []string{"t0"},
		Result:    &WorkResult{TaskID: "t1", Success: true},
	}
	c := orig.Clone()

	c.DependsOn[0] = "other"
	c.Result.Success = false

	if orig.DependsOn[0] != "t0" {
		t.Error("Clone() shares DependsOn slice with original")
	}
	if !orig.Result.Success {
		t.Error("Clone() shares Result pointer with original")
	}
}
