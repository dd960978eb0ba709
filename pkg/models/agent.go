package models

import "time"

// AgentRole distinguishes the two roles in the hierarchy.
type AgentRole string

const (
	// RoleCoordinator decomposes instructions and reviews completed work.
	RoleCoordinator AgentRole = "coordinator"
	// RoleWorker executes tasks and self-tests the result.
	RoleWorker AgentRole = "worker"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	return r == RoleCoordinator || r == RoleWorker
}

// ProcessStatus represents the supervisor's view of an agent's external process.
type ProcessStatus string

const (
	// ProcessStopped indicates no process is running. This is the initial state.
	ProcessStopped ProcessStatus = "stopped"
	// ProcessStarting indicates the process is being spawned and probed.
	ProcessStarting ProcessStatus = "starting"
	// ProcessRunning indicates the process is alive and accepting commands.
	ProcessRunning ProcessStatus = "running"
	// ProcessRestarting indicates the process is being stopped and respawned
	// after a crash or an explicit restart.
	ProcessRestarting ProcessStatus = "restarting"
	// ProcessError indicates the restart budget was exhausted. Terminal
	// unless an external restart succeeds.
	ProcessError ProcessStatus = "error"
)

// Valid returns true if the status is a known value.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStopped, ProcessStarting, ProcessRunning, ProcessRestarting, ProcessError:
		return true
	default:
		return false
	}
}

// Agent represents a supervised process instance playing one role.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Role is the agent's role in the hierarchy.
	Role AgentRole `json:"role"`
	// ProcessStatus is the current state of the agent's external process.
	ProcessStatus ProcessStatus `json:"process_status"`
	// Capacity is the maximum number of concurrent commands. Defaults to 1;
	// commands are serialized per agent.
	Capacity int `json:"capacity"`
	// Capabilities are the tags this agent declares for task matching.
	Capabilities []string `json:"capabilities,omitempty"`
	// CurrentTaskID is the task the agent is working on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// RestartCount is the number of process restarts performed. It is never
	// reset automatically.
	RestartCount int `json:"restart_count"`
	// ErrorCount is the number of command failures observed.
	ErrorCount int `json:"error_count"`
	// LastActivityAt is when the agent last made progress.
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Idle returns true if the agent can accept another assignment.
func (a *Agent) Idle() bool {
	return a.ProcessStatus == ProcessRunning && a.CurrentTaskID == ""
}

// HasCapability returns true if the agent declares the given tag.
// An empty tag matches every agent.
func (a *Agent) HasCapability(tag string) bool {
	if tag == "" {
		return true
	}
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
