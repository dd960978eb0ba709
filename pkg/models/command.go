package models

import (
	"encoding/json"
	"time"
)

// OutputFormat selects how a command's response is interpreted.
type OutputFormat string

const (
	// OutputStructured requests machine-readable output that must parse
	// into a typed payload.
	OutputStructured OutputFormat = "structured"
	// OutputPlain returns the response as raw text.
	OutputPlain OutputFormat = "plain"
)

// PermissionMode controls whether the external tool may act without
// interactive confirmation.
type PermissionMode string

const (
	// PermissionUnattended lets the tool act without prompting. This is the
	// default because agents run headless.
	PermissionUnattended PermissionMode = "unattended"
	// PermissionInteractive requires confirmation for side-effecting actions.
	PermissionInteractive PermissionMode = "interactive"
)

// CommandOptions are the per-invocation options passed to the external tool.
type CommandOptions struct {
	// OutputFormat selects structured or plain output. Defaults to plain.
	OutputFormat OutputFormat `json:"output_format,omitempty"`
	// Timeout forcibly terminates the command when exceeded.
	Timeout time.Duration `json:"timeout,omitempty"`
	// ToolAllowList restricts which side-effecting capabilities the tool may use.
	ToolAllowList []string `json:"tool_allow_list,omitempty"`
	// ToolDenyList removes capabilities even if otherwise allowed.
	ToolDenyList []string `json:"tool_deny_list,omitempty"`
	// PermissionMode defaults to PermissionUnattended.
	PermissionMode PermissionMode `json:"permission_mode,omitempty"`
	// Model is passed through verbatim to the external tool.
	Model string `json:"model,omitempty"`
	// WorkspacePath is the working directory for the invocation.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// AppendContext is extra context appended verbatim to the prompt.
	AppendContext string `json:"append_context,omitempty"`
}

// Command is a stateless, one-shot request to the external tool. The full
// prompt and context are supplied on every call; there is no persistent
// session between calls.
type Command struct {
	// ID is the unique identifier for this command.
	ID string `json:"id"`
	// TaskID correlates the command with a task. Coordinator decomposition
	// and review calls have no task and leave this empty.
	TaskID string `json:"task_id,omitempty"`
	// Prompt is the full instruction text.
	Prompt string `json:"prompt"`
	// Options are the per-invocation options.
	Options CommandOptions `json:"options"`
	// IssuedAt is when the command was submitted.
	IssuedAt time.Time `json:"issued_at"`
	// CompletedAt is when the command finished, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkResult describes the outcome of executing a task or command.
type WorkResult struct {
	// TaskID is the task this result belongs to, if any.
	TaskID string `json:"task_id,omitempty"`
	// Success is true if the work completed successfully.
	Success bool `json:"success"`
	// Payload holds the parsed structured response, if one was requested.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Raw holds the plain-text response.
	Raw string `json:"raw,omitempty"`
	// Error contains the failure message when Success is false.
	Error string `json:"error,omitempty"`
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64 `json:"duration_ms"`
	// Cost is the total cost in dollars for the invocation, if reported.
	Cost float64 `json:"cost,omitempty"`
	// AttemptCount is the attempt number this result was produced on.
	AttemptCount int `json:"attempt_count,omitempty"`
	// SessionID is the external tool's session identifier, if reported.
	SessionID string `json:"session_id,omitempty"`
}
