package agent

import (
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// taskPrompt is the worker's work instruction.
const taskPrompt = `Complete this task in the current workspace.

Title: %s
Description:
%s
%s
Work until the task's outcome is achieved. Report what you did and how it
can be verified.`

// selfTestPrompt asks for a structured verdict on the worker's own output.
const selfTestPrompt = `Verify that this task was actually completed in the current workspace.

Title: %s
Description:
%s

What the agent reported doing:
%s

Actually check the workspace: run the relevant commands, read the relevant
files. Return ONLY a JSON object with this exact structure (no other text):
{
  "passed": true,
  "reason": "What is broken or missing when not passed, empty otherwise"
}`

// Strategy supplies the role-specific prompts and permission surface. Both
// roles share one runtime code path and differ only through their Strategy.
type Strategy struct {
	role models.AgentRole
	opts models.CommandOptions
}

// NewStrategy builds a Strategy for the role, applying role defaults to
// any option left unset. Coordinators are denied workspace-mutating tools;
// both roles run unattended.
func NewStrategy(role models.AgentRole, opts models.CommandOptions) Strategy {
	if opts.PermissionMode == "" {
		opts.PermissionMode = models.PermissionUnattended
	}
	if role == models.RoleCoordinator && len(opts.ToolDenyList) == 0 {
		opts.ToolDenyList = []string{"Write", "Edit", "Bash"}
	}
	return Strategy{role: role, opts: opts}
}

// Role returns the strategy's role.
func (s Strategy) Role() models.AgentRole { return s.role }

// CommandOptions returns the base options for this role's commands.
func (s Strategy) CommandOptions() models.CommandOptions { return s.opts }

// WorkOptions returns options for a worker's task execution command.
func (s Strategy) WorkOptions() models.CommandOptions {
	opts := s.opts
	opts.OutputFormat = models.OutputPlain
	return opts
}

// SelfTestOptions returns options for the worker's verification command.
func (s Strategy) SelfTestOptions() models.CommandOptions {
	opts := s.opts
	opts.OutputFormat = models.OutputStructured
	return opts
}

// TaskPrompt renders the work instruction for a task. Retries carry the
// previous failure so the agent fixes rather than repeats.
func (s Strategy) TaskPrompt(task *models.Task) string {
	retryContext := ""
	if task.AttemptCount > 0 && task.LastError != "" {
		retryContext = fmt.Sprintf("\nA previous attempt failed: %s\nFix the problem and verify again.\n", task.LastError)
	}
	return fmt.Sprintf(taskPrompt, task.Title, task.Description, retryContext)
}

// SelfTestPrompt renders the verification instruction for a task and the
// output the work command reported.
func (s Strategy) SelfTestPrompt(task *models.Task, reported string) string {
	if reported == "" {
		reported = "(nothing reported)"
	}
	return fmt.Sprintf(selfTestPrompt, task.Title, task.Description, reported)
}
