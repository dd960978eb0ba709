package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/pkg/models"
)

func writeScript(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// healthyScript answers the version probe and returns a result for any
// other invocation.
const healthyScript = `case "$1" in
--version) echo "1.0.0"; exit 0 ;;
esac
echo '{"type":"result","result":"done","is_error":false}'`

func newTestSupervisor(t *testing.T, script string, opts ...Option) *Supervisor {
	t.Helper()
	bin := writeScript(t, script)
	base := []Option{
		WithStartTimeout(5 * time.Second),
		WithGracePeriod(200 * time.Millisecond),
		WithHealthInterval(time.Hour),
		WithRestartDelay(backoff.NewConstantBackOff(10 * time.Millisecond)),
	}
	ws := filepath.Join(t.TempDir(), "workspace")
	return New("agent-1", claude.NewClient(bin), ws, append(base, opts...)...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartStop(t *testing.T) {
	s := newTestSupervisor(t, healthyScript)
	if got := s.Status(); got != models.ProcessStopped {
		t.Fatalf("initial status = %s, want stopped", got)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Status(); got != models.ProcessRunning {
		t.Fatalf("status after Start = %s, want running", got)
	}
	if _, err := os.Stat(s.workspace); err != nil {
		t.Errorf("workspace not created: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Status(); got != models.ProcessStopped {
		t.Errorf("status after Stop = %s, want stopped", got)
	}
}

func TestStartProbeFailure(t *testing.T) {
	s := newTestSupervisor(t, "exit 1")

	err := s.Start(context.Background())
	if !errors.Is(err, ErrProcessStart) {
		t.Fatalf("err = %v, want ErrProcessStart", err)
	}
	if got := s.Status(); got != models.ProcessError {
		t.Errorf("status = %s, want error", got)
	}
}

func TestStartMissingBinary(t *testing.T) {
	s := New("agent-1", claude.NewClient("/nonexistent/claude"), "")

	err := s.Start(context.Background())
	if !errors.Is(err, ErrProcessStart) {
		t.Fatalf("err = %v, want ErrProcessStart", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	s := newTestSupervisor(t, healthyScript)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	res, err := s.Execute(context.Background(), &models.Command{Prompt: "work"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Raw != "done" {
		t.Errorf("got success=%v raw=%q", res.Success, res.Raw)
	}
}

func TestExecuteWithoutStart(t *testing.T) {
	s := newTestSupervisor(t, healthyScript)

	_, err := s.Execute(context.Background(), &models.Command{Prompt: "work"})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestCrashRestartsAutomatically(t *testing.T) {
	// The command invocation kills itself, simulating a mid-command crash.
	script := `case "$1" in
--version) exit 0 ;;
esac
kill -9 $$`
	s := newTestSupervisor(t, script)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	_, err := s.Execute(context.Background(), &models.Command{Prompt: "work", TaskID: "task-1"})
	if !errors.Is(err, ErrProcessCrash) {
		t.Fatalf("err = %v, want ErrProcessCrash", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return s.Status() == models.ProcessRunning && s.RestartCount() == 1
	}, "supervisor did not restart after crash")
}

func TestRestartBudgetExhausted(t *testing.T) {
	// The first probe succeeds; every later probe fails, so each automatic
	// restart attempt dies on start.
	marker := filepath.Join(t.TempDir(), "started")
	script := fmt.Sprintf(`case "$1" in
--version)
  if [ -f %q ]; then exit 1; fi
  touch %q
  exit 0 ;;
esac
kill -9 $$`, marker, marker)

	s := newTestSupervisor(t, script, WithMaxRetries(2))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := s.Execute(context.Background(), &models.Command{Prompt: "work"})
	if !errors.Is(err, ErrProcessCrash) {
		t.Fatalf("err = %v, want ErrProcessCrash", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return s.Status() == models.ProcessError
	}, "supervisor did not reach terminal Error state")

	if got := s.RestartCount(); got != 2 {
		t.Errorf("restartCount = %d, want 2", got)
	}

	// Terminal Error: never auto-restarted again.
	time.Sleep(100 * time.Millisecond)
	if got := s.Status(); got != models.ProcessError {
		t.Errorf("status = %s, want error to persist", got)
	}
	if got := s.RestartCount(); got != 2 {
		t.Errorf("restartCount grew to %d after budget exhausted", got)
	}

	if _, err := s.Execute(context.Background(), &models.Command{Prompt: "more"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Execute in Error state: err = %v, want ErrNotRunning", err)
	}
}

func TestStopRejectsInflightCommand(t *testing.T) {
	script := `case "$1" in
--version) exit 0 ;;
esac
sleep 30`
	s := newTestSupervisor(t, script)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), &models.Command{Prompt: "long"})
		errCh <- err
	}()

	// Let the command get in flight.
	waitFor(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.inflight != nil
	}, "command never became in-flight")

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("in-flight command err = %v, want ErrShutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight command not rejected on Stop")
	}

	if _, err := s.Execute(context.Background(), &models.Command{Prompt: "late"}); !errors.Is(err, ErrShutdown) {
		t.Errorf("post-Stop command err = %v, want ErrShutdown", err)
	}
}

func TestManualRestartFromError(t *testing.T) {
	// Probe fails only on the first call.
	marker := filepath.Join(t.TempDir(), "failed-once")
	script := fmt.Sprintf(`case "$1" in
--version)
  if [ -f %q ]; then exit 0; fi
  touch %q
  exit 1 ;;
esac
echo '{"type":"result","result":"done","is_error":false}'`, marker, marker)

	s := newTestSupervisor(t, script)
	if err := s.Start(context.Background()); !errors.Is(err, ErrProcessStart) {
		t.Fatalf("first Start err = %v, want ErrProcessStart", err)
	}

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer s.Stop(context.Background())

	if got := s.Status(); got != models.ProcessRunning {
		t.Errorf("status = %s, want running", got)
	}
	if got := s.RestartCount(); got != 1 {
		t.Errorf("restartCount = %d, want 1", got)
	}
}

func TestStatusListenerObservesTransitions(t *testing.T) {
	s := newTestSupervisor(t, healthyScript)

	var mu sync.Mutex
	var seen []models.ProcessStatus
	s.SetStatusListener(func(status models.ProcessStatus, _, _ int) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []models.ProcessStatus{models.ProcessStarting, models.ProcessRunning, models.ProcessStopped}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestStopDuringSlowProbeWins(t *testing.T) {
	s := newTestSupervisor(t, `case "$1" in
--version) sleep 1; exit 0 ;;
esac
exit 0`)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	waitFor(t, 2*time.Second, func() bool { return s.Status() == models.ProcessStarting },
		"supervisor never entered starting")

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := <-errCh; !errors.Is(err, ErrShutdown) {
		t.Fatalf("Start after interleaved Stop = %v, want ErrShutdown", err)
	}
	if got := s.Status(); got != models.ProcessStopped {
		t.Errorf("status = %s, want stopped; no process may come up behind Stop", got)
	}
}
