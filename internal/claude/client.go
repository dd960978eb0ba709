package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultBinary is the external executable invoked for every command.
const DefaultBinary = "claude"

// Result is the outcome of one command invocation. Command-layer failures
// are part of the value: Success is false, Error describes the failure, and
// the returned error wraps the matching sentinel so callers can branch with
// errors.Is.
type Result struct {
	// Success is true when the tool ran and produced a usable response.
	Success bool
	// Payload holds the parsed structured response when one was requested.
	Payload json.RawMessage
	// Raw is the plain-text response.
	Raw string
	// Error describes the failure when Success is false.
	Error string
	// Duration is the wall-clock execution time.
	Duration time.Duration
	// Cost is the total cost in dollars reported by the tool, if any.
	Cost float64
	// SessionID is the tool's session identifier, if reported.
	SessionID string
}

// WorkResult converts the invocation result into the model type reported to
// the task store.
func (r *Result) WorkResult(taskID string) *models.WorkResult {
	return &models.WorkResult{
		TaskID:     taskID,
		Success:    r.Success,
		Payload:    r.Payload,
		Raw:        r.Raw,
		Error:      r.Error,
		DurationMs: r.Duration.Milliseconds(),
		Cost:       r.Cost,
		SessionID:  r.SessionID,
	}
}

// Client executes one-shot commands against the external CLI.
type Client struct {
	binary string
}

// NewClient creates a Client for the given executable. An empty binary
// falls back to DefaultBinary.
func NewClient(binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{binary: binary}
}

// Binary returns the executable this client invokes.
func (c *Client) Binary() string {
	return c.binary
}

// BuildArgs derives the CLI argument list from command options. The prompt
// is always last.
func (c *Client) BuildArgs(prompt string, opts models.CommandOptions) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}

	if len(opts.ToolAllowList) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.ToolAllowList, ","))
	}
	if len(opts.ToolDenyList) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.ToolDenyList, ","))
	}

	// Agents run headless, so unattended is the default: only an explicit
	// interactive mode keeps the permission prompts.
	if opts.PermissionMode != models.PermissionInteractive {
		args = append(args, "--dangerously-skip-permissions")
	}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.AppendContext != "" {
		args = append(args, "--append-system-prompt", opts.AppendContext)
	}

	args = append(args, "-p", prompt)
	return args
}

// Execute runs one command to completion. The full prompt travels with the
// call; nothing is carried over between invocations.
func (c *Client) Execute(ctx context.Context, cmd *models.Command) (*Result, error) {
	return c.ExecuteObserved(ctx, cmd, nil)
}

// ExecuteObserved is Execute with a hook that receives the subprocess once
// it has started. The supervisor uses it to track the in-flight process for
// health checks and shutdown.
func (c *Client) ExecuteObserved(ctx context.Context, cmd *models.Command, onStart func(*Process)) (*Result, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Options.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Options.Timeout)
		defer cancel()
	}

	proc := NewProcess(runCtx)
	args := c.BuildArgs(cmd.Prompt, cmd.Options)
	if err := proc.Start(c.binary, args, cmd.Options.WorkspacePath); err != nil {
		res := &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
		return res, fmt.Errorf("%w: %v", ErrCommandExecution, err)
	}
	if onStart != nil {
		onStart(proc)
	}

	var final *StreamEvent
	var streamErr string
	for event := range proc.Output() {
		switch event.Type {
		case StreamEventResult:
			if final == nil {
				e := event
				final = &e
			}
		case StreamEventError:
			if streamErr == "" {
				streamErr = event.Error
			}
		}
	}

	waitErr := proc.Wait()
	duration := time.Since(start)
	now := time.Now()
	cmd.CompletedAt = &now

	if runCtx.Err() == context.DeadlineExceeded {
		proc.Kill()
		res := &Result{Success: false, Error: "timeout", Duration: duration}
		return res, fmt.Errorf("%w after %s", ErrCommandTimeout, cmd.Options.Timeout)
	}
	if waitErr != nil {
		res := &Result{Success: false, Error: waitErr.Error(), Duration: duration}
		return res, fmt.Errorf("%w: %v", ErrCommandExecution, waitErr)
	}
	if final == nil {
		msg := streamErr
		if msg == "" {
			msg = "no result event in output"
		}
		res := &Result{Success: false, Error: msg, Duration: duration}
		return res, fmt.Errorf("%w: %s", ErrCommandExecution, msg)
	}
	if final.IsError {
		res := &Result{
			Success:   false,
			Error:     final.Message,
			Raw:       final.Message,
			Duration:  duration,
			Cost:      final.CostUSD,
			SessionID: final.SessionID,
		}
		return res, fmt.Errorf("%w: %s", ErrCommandExecution, final.Message)
	}

	res := &Result{
		Success:   true,
		Raw:       final.Message,
		Duration:  duration,
		Cost:      final.CostUSD,
		SessionID: final.SessionID,
	}

	if cmd.Options.OutputFormat == models.OutputStructured {
		payload, err := ExtractJSON(final.Message)
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			return res, fmt.Errorf("%w: %v", ErrCommandParse, err)
		}
		res.Payload = payload
	}

	return res, nil
}

// ExecuteBatch runs prompts sequentially, respecting the one-command-at-a-
// time contract per agent. By default it continues past individual failures
// and returns one result per prompt; stopOnError truncates the batch at the
// first failure.
func (c *Client) ExecuteBatch(ctx context.Context, prompts []string, opts models.CommandOptions, stopOnError bool) ([]*Result, error) {
	results := make([]*Result, 0, len(prompts))
	for _, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		cmd := &models.Command{Prompt: prompt, Options: opts, IssuedAt: time.Now()}
		res, err := c.Execute(ctx, cmd)
		results = append(results, res)
		if err != nil && stopOnError {
			return results, err
		}
	}
	return results, nil
}

// IsCommandError reports whether err belongs to the command-layer taxonomy,
// as opposed to process-layer failures handled by the supervisor.
func IsCommandError(err error) bool {
	return errors.Is(err, ErrCommandTimeout) ||
		errors.Is(err, ErrCommandExecution) ||
		errors.Is(err, ErrCommandParse)
}
