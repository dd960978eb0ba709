// Package claude wraps one-shot invocations of the external agent CLI.
// Every command carries its full prompt and context; there is no persistent
// session between calls.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// StreamEventType represents the type of stream event from the CLI.
type StreamEventType string

const (
	// StreamEventSystem indicates a system message.
	StreamEventSystem StreamEventType = "system"
	// StreamEventAssistant indicates an assistant message.
	StreamEventAssistant StreamEventType = "assistant"
	// StreamEventResult indicates the final result.
	StreamEventResult StreamEventType = "result"
	// StreamEventError indicates an error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one parsed line of the CLI's stream-json output.
type StreamEvent struct {
	// Type is the event type.
	Type StreamEventType `json:"type"`
	// Message contains the event content when applicable.
	Message string `json:"message,omitempty"`
	// Error contains error details when Type is StreamEventError.
	Error string `json:"error,omitempty"`
	// IsError flags a result event that the CLI marked failed.
	IsError bool `json:"is_error,omitempty"`
	// CostUSD is the total cost reported on the result event.
	CostUSD float64 `json:"total_cost_usd,omitempty"`
	// SessionID is the CLI's session identifier from the result event.
	SessionID string `json:"session_id,omitempty"`
	// Raw contains the original JSON for debugging.
	Raw json.RawMessage `json:"-"`
}

// Process manages one CLI subprocess. It is single-use: Start once, drain
// Output, Wait, and discard.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx       context.Context
	cancel    context.CancelFunc
	outputCh  chan StreamEvent
	stderrBuf []byte
	once      sync.Once
	mu        sync.Mutex
	started   bool
	done      chan struct{}
}

// NewProcess creates a Process bound to the given context. Cancelling the
// context terminates the subprocess.
func NewProcess(ctx context.Context) *Process {
	ctx, cancel := context.WithCancel(ctx)
	return &Process{
		ctx:      ctx,
		cancel:   cancel,
		outputCh: make(chan StreamEvent, 100),
		done:     make(chan struct{}),
	}
}

// Start launches the subprocess with the given argument list. The process
// is placed in its own process group so Kill can terminate the whole
// subprocess tree.
func (p *Process) Start(binary string, args []string, workDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	p.cmd = exec.CommandContext(p.ctx, binary, args...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if workDir != "" {
		p.cmd.Dir = workDir
	}

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	p.started = true

	go p.readOutput()
	go p.readStderr()

	return nil
}

// readOutput reads and parses JSON events from stdout.
func (p *Process) readOutput() {
	defer close(p.outputCh)
	defer close(p.done)

	scanner := bufio.NewScanner(p.stdout)
	// Large buffer for big JSON result lines.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parseStreamEvent(line)
		if err != nil {
			p.outputCh <- StreamEvent{
				Type:  StreamEventError,
				Error: fmt.Sprintf("parse error: %v", err),
				Raw:   append([]byte(nil), line...),
			}
			continue
		}

		select {
		case p.outputCh <- event:
		case <-p.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && p.ctx.Err() == nil {
		p.outputCh <- StreamEvent{
			Type:  StreamEventError,
			Error: fmt.Sprintf("read error: %v", err),
		}
	}
}

// readStderr captures stderr so failures carry diagnostic context.
func (p *Process) readStderr() {
	scanner := bufio.NewScanner(p.stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	var all []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		all = append(all, line...)
		all = append(all, '\n')
		p.stderrBuf = all
		p.mu.Unlock()
	}
}

// parseStreamEvent parses a JSON line into a StreamEvent.
func parseStreamEvent(data []byte) (StreamEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal json: %w", err)
	}

	event := StreamEvent{Raw: append([]byte(nil), data...)}
	if t, ok := raw["type"].(string); ok {
		event.Type = StreamEventType(t)
	}

	switch event.Type {
	case StreamEventSystem, StreamEventAssistant:
		if msg, ok := raw["message"].(string); ok {
			event.Message = msg
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
	case StreamEventResult:
		if result, ok := raw["result"].(string); ok {
			event.Message = result
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
		if isErr, ok := raw["is_error"].(bool); ok {
			event.IsError = isErr
		}
		if cost, ok := raw["total_cost_usd"].(float64); ok {
			event.CostUSD = cost
		}
		if sid, ok := raw["session_id"].(string); ok {
			event.SessionID = sid
		}
	case StreamEventError:
		if errMsg, ok := raw["error"].(string); ok {
			event.Error = errMsg
		} else if msg, ok := raw["message"].(string); ok {
			event.Error = msg
		}
	}

	return event, nil
}

// Output returns the channel of stream events. It is closed when the
// process exits or is killed.
func (p *Process) Output() <-chan StreamEvent {
	return p.outputCh
}

// Wait waits for the process to exit and returns any error.
func (p *Process) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("process not started")
	}
	p.mu.Unlock()

	<-p.done

	err := p.cmd.Wait()
	if err != nil {
		p.mu.Lock()
		stderr := string(p.stderrBuf)
		p.mu.Unlock()

		if stderr != "" {
			return fmt.Errorf("process exited with error: %w; stderr: %s", err, stderr)
		}
		return fmt.Errorf("process exited with error: %w", err)
	}
	return nil
}

// Signaled returns true when the process was terminated by a signal rather
// than exiting on its own. The supervisor treats this as a crash.
func (p *Process) Signaled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.ProcessState == nil {
		return false
	}
	ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

// Kill terminates the whole process group immediately.
func (p *Process) Kill() error {
	p.once.Do(func() {
		p.cancel()
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.cmd.Process == nil {
		return nil
	}
	// Negative PID targets the process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// Terminate asks the process group to exit gracefully.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.cmd.Process == nil {
		return false
	}
	if p.cmd.ProcessState != nil {
		return false
	}
	// Signal 0 probes for existence without delivering a signal.
	return syscall.Kill(p.cmd.Process.Pid, 0) == nil
}

// Stderr returns any captured stderr output.
func (p *Process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stderrBuf)
}

// PID returns the process ID of the subprocess, or 0 if not started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// Done returns a channel closed once stdout has been fully drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
