package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on unmet dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates every dependency has completed and the task
	// can be assigned to an agent.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusAssigned indicates the task has been handed to an agent but
	// execution has not started yet.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates an agent is executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task exhausted its attempt budget.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Priority orders ready tasks; higher values are scheduled first.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Capability is the tag an agent must declare to pick up this task.
	Capability string `json:"capability,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedAgentID is the ID of the agent working on this task.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// AttemptCount is the number of execution attempts made so far.
	AttemptCount int `json:"attempt_count"`
	// MaxAttempts bounds the task-level retry budget.
	MaxAttempts int `json:"max_attempts"`
	// Seq is a monotonically increasing number assigned at creation.
	// Equal-priority ties are broken by Seq rather than wall-clock time.
	Seq uint64 `json:"seq"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed state.
	UpdatedAt time.Time `json:"updated_at"`
	// Result holds the outcome of the last completed attempt, if any.
	Result *WorkResult `json:"result,omitempty"`
	// LastError contains the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`
}

// RetryBudgetLeft returns true if the task may be attempted again.
func (t *Task) RetryBudgetLeft() bool {
	return t.AttemptCount < t.MaxAttempts
}

// Clone returns a deep copy of the task. The store hands out clones so
// callers cannot mutate its records.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
