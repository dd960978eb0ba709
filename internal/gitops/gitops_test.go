package gitops

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

// fakeRunner records invocations and returns scripted outputs keyed by the
// git subcommand.
type fakeRunner struct {
	calls   [][]string
	outputs map[string][]byte
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := args[0]
	return f.outputs[key], f.errs[key]
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return f.Run(ctx, workDir, "sh", "-c", command)
}

func (f *fakeRunner) subcommands() []string {
	var subs []string
	for _, call := range f.calls {
		if len(call) > 1 {
			subs = append(subs, call[1])
		}
	}
	return subs
}

func TestCommitTask(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{"status": []byte(" M main.go\n")}}
	c := New(runner, 0)

	task := &models.Task{ID: "0123456789abcdef", Title: "add handlers"}
	if err := c.CommitTask(context.Background(), "/ws", task); err != nil {
		t.Fatalf("CommitTask: %v", err)
	}

	subs := runner.subcommands()
	want := []string{"add", "status", "commit"}
	if strings.Join(subs, ",") != strings.Join(want, ",") {
		t.Errorf("git subcommands = %v, want %v", subs, want)
	}

	last := runner.calls[len(runner.calls)-1]
	msg := last[len(last)-1]
	if msg != "task 01234567: add handlers" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestCommitTaskCleanWorkspace(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{"status": []byte("  \n")}}
	c := New(runner, 0)

	if err := c.CommitTask(context.Background(), "/ws", &models.Task{ID: "t1"}); err != nil {
		t.Fatalf("clean workspace should not error: %v", err)
	}
	for _, sub := range runner.subcommands() {
		if sub == "commit" {
			t.Error("commit must not run with nothing staged")
		}
	}
}

func TestCommitTaskFailure(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string][]byte{"status": []byte(" M x\n"), "commit": []byte("fatal: bad config")},
		errs:    map[string]error{"commit": errors.New("exit status 128")},
	}
	c := New(runner, 0)

	err := c.CommitTask(context.Background(), "/ws", &models.Task{ID: "t1", Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Errorf("err = %v, want git output included", err)
	}
}

func TestEnsureRepo(t *testing.T) {
	// Already a repo: rev-parse succeeds, init never runs.
	runner := &fakeRunner{}
	if err := New(runner, 0).EnsureRepo(context.Background(), "/ws"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	for _, sub := range runner.subcommands() {
		if sub == "init" {
			t.Error("init must not run inside an existing repo")
		}
	}

	// Not a repo: rev-parse fails, init runs.
	runner = &fakeRunner{errs: map[string]error{"rev-parse": errors.New("exit status 128")}}
	if err := New(runner, 0).EnsureRepo(context.Background(), "/ws"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	subs := runner.subcommands()
	if len(subs) == 0 || subs[len(subs)-1] != "init" {
		t.Errorf("expected init to run, got %v", subs)
	}
}
