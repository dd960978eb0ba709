// Package events defines the read-only notification stream the core emits
// toward monitoring collaborators.
package events

import (
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Type is the kind of notification event.
type Type string

const (
	// TypeAgentStatus is emitted on every agent process-status transition.
	TypeAgentStatus Type = "agent_status_update"
	// TypeTaskUpdate is emitted on every task state transition.
	TypeTaskUpdate Type = "task_update"
	// TypeLogEntry carries a structured log record.
	TypeLogEntry Type = "log_entry"
	// TypeSystemStats carries periodic aggregate counters.
	TypeSystemStats Type = "system_stats"
)

// Severity is the log level for TypeLogEntry events.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is a single notification. The monitoring collaborator never sends
// commands back on this stream.
type Event struct {
	// Type is the kind of event.
	Type Type `json:"type"`
	// Service is the emitting component name.
	Service string `json:"service"`
	// AgentID correlates the event with an agent, if applicable.
	AgentID string `json:"agent_id,omitempty"`
	// TaskID correlates the event with a task, if applicable.
	TaskID string `json:"task_id,omitempty"`
	// ProcessStatus is set for TypeAgentStatus events.
	ProcessStatus models.ProcessStatus `json:"process_status,omitempty"`
	// TaskStatus is set for TypeTaskUpdate events.
	TaskStatus models.TaskStatus `json:"task_status,omitempty"`
	// Severity is set for TypeLogEntry events.
	Severity Severity `json:"severity,omitempty"`
	// Message provides human-readable context.
	Message string `json:"message,omitempty"`
	// Stats is set for TypeSystemStats events.
	Stats *SystemStats `json:"stats,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// SystemStats are aggregate counters for dashboards.
type SystemStats struct {
	TasksPending    int `json:"tasks_pending"`
	TasksReady      int `json:"tasks_ready"`
	TasksInProgress int `json:"tasks_in_progress"`
	TasksCompleted  int `json:"tasks_completed"`
	TasksFailed     int `json:"tasks_failed"`
	AgentsIdle      int `json:"agents_idle"`
	AgentsWorking   int `json:"agents_working"`
	AgentsErrored   int `json:"agents_errored"`
}
