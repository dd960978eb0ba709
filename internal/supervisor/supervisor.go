// Package supervisor manages the process lifecycle of one agent: start,
// graceful stop, crash detection, and bounded automatic restarts. The
// external CLI is invoked one-shot per command, so the supervised process at
// any instant is the in-flight command subprocess; start performs a bounded
// liveness probe of the executable.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	// DefaultStartTimeout bounds the liveness probe on start.
	DefaultStartTimeout = 10 * time.Second
	// DefaultGracePeriod is how long Stop waits after SIGTERM before
	// force-killing.
	DefaultGracePeriod = 5 * time.Second
	// DefaultHealthInterval is the period of the liveness backstop check.
	DefaultHealthInterval = 30 * time.Second
	// DefaultMaxRetries bounds automatic restarts after crashes.
	DefaultMaxRetries = 3
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStartTimeout sets the liveness-probe timeout.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.startTimeout = d }
}

// WithGracePeriod sets the graceful-shutdown window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

// WithHealthInterval sets the period of the liveness backstop check.
func WithHealthInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.healthInterval = d }
}

// WithMaxRetries sets the automatic restart budget.
func WithMaxRetries(n int) Option {
	return func(s *Supervisor) { s.maxRetries = n }
}

// WithEmitter attaches a notification emitter for agent-status events.
func WithEmitter(e *events.Emitter) Option {
	return func(s *Supervisor) { s.emitter = e }
}

// WithProbeArgs overrides the argument list used for the start probe.
func WithProbeArgs(args []string) Option {
	return func(s *Supervisor) { s.probeArgs = args }
}

// WithRestartDelay replaces the restart backoff policy.
func WithRestartDelay(b backoff.BackOff) Option {
	return func(s *Supervisor) { s.delay = b }
}

// Supervisor owns one agent's external process. It serializes command
// execution (capacity 1), detects crashes via signal-terminated exits, and
// restarts automatically up to maxRetries. The restart counter is never
// reset; once exhausted the supervisor stays in the terminal Error state.
type Supervisor struct {
	agentID   string
	client    *claude.Client
	workspace string
	probeArgs []string
	emitter   *events.Emitter
	onStatus  StatusListener

	startTimeout   time.Duration
	gracePeriod    time.Duration
	healthInterval time.Duration
	maxRetries     int
	delay          backoff.BackOff

	mu           sync.Mutex
	status       models.ProcessStatus
	restartCount int
	errorCount   int
	inflight     *claude.Process
	shuttingDown bool
	healthStop   chan struct{}

	// cmdMu enforces the one-command-at-a-time contract.
	cmdMu sync.Mutex
}

// New creates a Supervisor for one agent in the Stopped state.
func New(agentID string, client *claude.Client, workspace string, opts ...Option) *Supervisor {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	s := &Supervisor{
		agentID:        agentID,
		client:         client,
		workspace:      workspace,
		probeArgs:      []string{"--version"},
		startTimeout:   DefaultStartTimeout,
		gracePeriod:    DefaultGracePeriod,
		healthInterval: DefaultHealthInterval,
		maxRetries:     DefaultMaxRetries,
		delay:          b,
		status:         models.ProcessStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AgentID returns the supervised agent's identifier.
func (s *Supervisor) AgentID() string { return s.agentID }

// StatusListener observes process-status transitions together with the
// restart and error counters at the moment of the transition.
type StatusListener func(status models.ProcessStatus, restarts, errCount int)

// SetStatusListener registers a callback invoked on every status
// transition. The callback runs with the supervisor's lock held and must
// not call back into the supervisor.
func (s *Supervisor) SetStatusListener(fn StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// Status returns the current process status.
func (s *Supervisor) Status() models.ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RestartCount returns how many restarts have been attempted.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// ErrorCount returns how many crashes and failures have been observed.
func (s *Supervisor) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount
}

// Start verifies the executable is usable and transitions to Running. The
// workspace directory is created if missing. On probe failure the
// supervisor transitions to Error and returns ErrProcessStart.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case models.ProcessRunning, models.ProcessStarting:
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = false
	s.setStatusLocked(models.ProcessStarting)
	s.mu.Unlock()

	if err := s.probe(ctx); err != nil {
		s.mu.Lock()
		s.errorCount++
		s.setStatusLocked(models.ProcessError)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	s.mu.Lock()
	// A Stop that interleaved with the probe wins; stay down.
	if s.shuttingDown {
		s.setStatusLocked(models.ProcessStopped)
		s.mu.Unlock()
		return ErrShutdown
	}
	s.setStatusLocked(models.ProcessRunning)
	stop := make(chan struct{})
	s.healthStop = stop
	s.mu.Unlock()

	go s.healthLoop(stop)
	return nil
}

// probe ensures the workspace exists and runs one bounded invocation of the
// executable to confirm it spawns and reports a PID.
func (s *Supervisor) probe(ctx context.Context) error {
	if s.workspace != "" {
		if err := os.MkdirAll(s.workspace, 0o755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	proc := claude.NewProcess(pctx)
	if err := proc.Start(s.client.Binary(), s.probeArgs, ""); err != nil {
		return err
	}
	if proc.PID() == 0 {
		return fmt.Errorf("no pid reported")
	}
	for range proc.Output() {
	}
	if err := proc.Wait(); err != nil {
		if pctx.Err() == context.DeadlineExceeded {
			proc.Kill()
			return fmt.Errorf("liveness probe timed out after %s", s.startTimeout)
		}
		return err
	}
	return nil
}

// Stop terminates gracefully: SIGTERM the in-flight process, wait up to the
// grace period, then SIGKILL. The in-flight command's waiter is rejected
// with ErrShutdown, as are commands issued during shutdown.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status == models.ProcessStopped {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	proc := s.inflight
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Terminate()
		select {
		case <-proc.Done():
		case <-time.After(s.gracePeriod):
			_ = proc.Kill()
		case <-ctx.Done():
			_ = proc.Kill()
		}
	}

	s.mu.Lock()
	s.setStatusLocked(models.ProcessStopped)
	s.mu.Unlock()
	return nil
}

// Restart stops any in-flight process, waits the backoff delay, and starts
// again. The restart counter increments and is never reset.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.restartCount++
	attempt := s.restartCount
	s.setStatusLocked(models.ProcessRestarting)
	proc := s.inflight
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}

	if s.emitter != nil {
		s.emitter.Log(events.SeverityWarn, s.agentID, "", "restarting process (attempt %d/%d)", attempt, s.maxRetries)
	}

	select {
	case <-time.After(s.delay.NextBackOff()):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.setStatusLocked(models.ProcessStarting)
	s.mu.Unlock()

	if err := s.probe(ctx); err != nil {
		s.mu.Lock()
		s.errorCount++
		s.setStatusLocked(models.ProcessError)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	s.mu.Lock()
	// A Stop that interleaved with the probe wins; stay down.
	if s.shuttingDown {
		s.setStatusLocked(models.ProcessStopped)
		s.mu.Unlock()
		return ErrShutdown
	}
	s.setStatusLocked(models.ProcessRunning)
	stop := make(chan struct{})
	s.healthStop = stop
	s.mu.Unlock()

	go s.healthLoop(stop)
	return nil
}

// Execute runs one command through the supervised process. Commands are
// strictly sequential per agent. A signal-terminated exit is treated as a
// crash: the waiter is rejected with ErrProcessCrash and an automatic
// restart is scheduled, bounded by maxRetries.
func (s *Supervisor) Execute(ctx context.Context, cmd *models.Command) (*claude.Result, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	if s.status != models.ProcessRunning {
		status := s.status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrNotRunning, status)
	}
	s.mu.Unlock()

	if cmd.Options.WorkspacePath == "" {
		cmd.Options.WorkspacePath = s.workspace
	}

	var proc *claude.Process
	res, err := s.client.ExecuteObserved(ctx, cmd, func(p *claude.Process) {
		proc = p
		s.mu.Lock()
		s.inflight = p
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.inflight = nil
	shutting := s.shuttingDown
	status := s.status
	s.mu.Unlock()

	if err == nil {
		return res, nil
	}
	// Timeouts and parse failures are command-layer outcomes for the
	// caller, not process faults.
	if errors.Is(err, claude.ErrCommandTimeout) || errors.Is(err, claude.ErrCommandParse) {
		return res, err
	}
	if shutting {
		return res, fmt.Errorf("%w: %v", ErrShutdown, err)
	}
	if proc != nil && proc.Signaled() {
		s.mu.Lock()
		s.errorCount++
		s.mu.Unlock()
		if s.emitter != nil {
			s.emitter.Log(events.SeverityError, s.agentID, cmd.TaskID, "process crashed mid-command: %v", err)
		}
		// A restart already in progress killed the process itself; don't
		// schedule a second one.
		if status == models.ProcessRunning {
			go s.handleCrash()
		}
		return res, fmt.Errorf("%w: %v", ErrProcessCrash, err)
	}
	return res, err
}

// handleCrash restarts after an unexpected exit, retrying while the budget
// lasts. Once exhausted the supervisor parks in Error.
func (s *Supervisor) handleCrash() {
	for {
		s.mu.Lock()
		if s.shuttingDown {
			s.mu.Unlock()
			return
		}
		if s.restartCount >= s.maxRetries {
			s.setStatusLocked(models.ProcessError)
			s.mu.Unlock()
			if s.emitter != nil {
				s.emitter.Log(events.SeverityError, s.agentID, "",
					"restart budget exhausted after %d attempts: %v", s.maxRetries, ErrMaxRetriesExceeded)
			}
			return
		}
		s.mu.Unlock()

		err := s.Restart(context.Background())
		if err == nil || errors.Is(err, ErrShutdown) {
			return
		}
	}
}

// healthLoop is a backstop for exits the Wait path has not surfaced, such
// as a wedged pipe reader. Killing the process group forces the in-flight
// Execute through the normal crash handling.
func (s *Supervisor) healthLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			proc := s.inflight
			status := s.status
			s.mu.Unlock()

			if status != models.ProcessRunning || proc == nil {
				continue
			}
			if !proc.Alive() {
				select {
				case <-proc.Done():
					// Already reaped; Execute is handling it.
				default:
					if s.emitter != nil {
						s.emitter.Log(events.SeverityWarn, s.agentID, "",
							"health check: process %d exited without notification", proc.PID())
					}
					_ = proc.Kill()
				}
			}
		}
	}
}

// setStatusLocked transitions the process status and emits an agent-status
// event. Callers must hold mu.
func (s *Supervisor) setStatusLocked(status models.ProcessStatus) {
	if s.status == status {
		return
	}
	s.status = status
	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:          events.TypeAgentStatus,
			AgentID:       s.agentID,
			ProcessStatus: status,
		})
	}
	if s.onStatus != nil {
		s.onStatus(status, s.restartCount, s.errorCount)
	}
}
