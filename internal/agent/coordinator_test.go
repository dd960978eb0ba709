package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/internal/decompose"
	"github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/internal/gitops"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

// coordExec fakes the coordinator's commands: decomposition requests get
// the canned task list, review requests get verdicts in order (the last
// verdict repeats).
type coordExec struct {
	mu            sync.Mutex
	decomposition string
	reviews       []decompose.ReviewVerdict
	reviewCalls   int
}

func (c *coordExec) Execute(_ context.Context, cmd *models.Command) (*claude.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.Contains(cmd.Prompt, "Break this instruction") {
		return &claude.Result{Success: true, Payload: json.RawMessage(c.decomposition)}, nil
	}

	v := decompose.ReviewVerdict{Approved: true}
	if len(c.reviews) > 0 {
		i := c.reviewCalls
		if i >= len(c.reviews) {
			i = len(c.reviews) - 1
		}
		v = c.reviews[i]
	}
	c.reviewCalls++
	payload, _ := json.Marshal(v)
	return &claude.Result{Success: true, Payload: payload}, nil
}

func newTestCoordinator(st *store.Store, ce *coordExec, opts ...CoordinatorOption) *Coordinator {
	strategy := NewStrategy(models.RoleCoordinator, models.CommandOptions{})
	c := &Coordinator{
		id:           "coord-1",
		strategy:     strategy,
		store:        st,
		decomposer:   decompose.New(ce, strategy.CommandOptions()),
		reviewer:     decompose.NewReviewer(ce, strategy.CommandOptions()),
		pollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// runSimWorker completes every Ready task until the context ends.
func runSimWorker(ctx context.Context, st *store.Store) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			for _, task := range st.List() {
				if task.Status != models.TaskStatusReady {
					continue
				}
				if _, err := st.Assign(task.ID, "sim-worker"); err != nil {
					continue
				}
				_ = st.Start(task.ID)
				_ = st.Complete(task.ID, &models.WorkResult{TaskID: task.ID, Success: true, Raw: "done"})
			}
		}
	}()
}

// runFailingSimWorker fails every attempt of every Ready task until the
// context ends.
func runFailingSimWorker(ctx context.Context, st *store.Store) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			for _, task := range st.List() {
				if task.Status != models.TaskStatusReady {
					continue
				}
				if _, err := st.Assign(task.ID, "sim-worker"); err != nil {
					continue
				}
				_ = st.Start(task.ID)
				_, _ = st.Fail(task.ID, context.DeadlineExceeded)
			}
		}
	}()
}

const twoTaskDecomposition = `[
	{"title":"schema","description":"create tables","priority":8,"depends_on":[]},
	{"title":"handlers","description":"implement endpoints","priority":5,"depends_on":["schema"]}
]`

func TestCoordinatorInstructionCompletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{decomposition: twoTaskDecomposition}
	c := newTestCoordinator(st, ce)
	runSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the service")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if !result.Success() {
		t.Errorf("result = %+v, want success", result)
	}
	if len(result.TaskIDs) != 2 || result.Completed != 2 {
		t.Errorf("tasks/completed = %d/%d, want 2/2", len(result.TaskIDs), result.Completed)
	}
	if ce.reviewCalls != 2 {
		t.Errorf("review calls = %d, want one per completed task", ce.reviewCalls)
	}
}

func TestCoordinatorRejectionCreatesRemediation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{
		decomposition: `[{"title":"api","description":"endpoints","priority":5}]`,
		reviews: []decompose.ReviewVerdict{
			{Approved: false, Feedback: "error handling missing"},
			{Approved: true},
		},
	}
	c := newTestCoordinator(st, ce)
	runSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the api")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Errorf("failed = %v, want none after remediation approved", result.Failed)
	}
	if len(result.TaskIDs) != 2 {
		t.Errorf("tracked tasks = %d, want original + remediation", len(result.TaskIDs))
	}

	var remediation *models.Task
	for _, task := range st.List() {
		if strings.HasPrefix(task.Title, "Remediate: ") {
			remediation = task
		}
	}
	if remediation == nil {
		t.Fatal("no remediation task created")
	}
	if !strings.Contains(remediation.Description, "error handling missing") {
		t.Errorf("remediation description lacks review feedback: %q", remediation.Description)
	}
}

func TestCoordinatorRemediationBudgetExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{
		decomposition: `[{"title":"api","description":"endpoints","priority":5}]`,
		reviews:       []decompose.ReviewVerdict{{Approved: false, Feedback: "still wrong"}},
	}
	c := newTestCoordinator(st, ce)
	runSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the api")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if result.Success() {
		t.Error("endless rejection must not succeed")
	}
	if len(result.Failed) != 1 {
		t.Errorf("failed = %v, want exactly the final rejected task", result.Failed)
	}
	// Default MaxAttempts is 3: the original plus three remediations.
	if len(result.TaskIDs) != 4 {
		t.Errorf("tracked tasks = %d, want 4", len(result.TaskIDs))
	}
}

func TestCoordinatorFailedTaskSurfaced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{decomposition: `[{"title":"api","description":"endpoints","priority":5}]`}
	c := newTestCoordinator(st, ce)
	runFailingSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the api")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if result.Success() || len(result.Failed) != 1 {
		t.Errorf("result = %+v, want one permanently failed task", result)
	}
	if ce.reviewCalls != 0 {
		t.Errorf("review calls = %d; failed tasks are not reviewed", ce.reviewCalls)
	}
}

func TestCoordinatorBlockedDependentSettles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{decomposition: twoTaskDecomposition}
	c := newTestCoordinator(st, ce)
	// "schema" exhausts its attempts; "handlers" can never leave Pending.
	runFailingSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the service")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if result.Success() {
		t.Error("a run with a blocked dependent must not succeed")
	}
	if len(result.Failed) != 2 {
		t.Errorf("failed = %v, want the failed task and its blocked dependent", result.Failed)
	}
	if result.Completed != 0 {
		t.Errorf("completed = %d, want 0", result.Completed)
	}
	if ce.reviewCalls != 0 {
		t.Errorf("review calls = %d; blocked tasks are not reviewed", ce.reviewCalls)
	}
}

// recordingRunner captures git invocations for the commit side effect.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) > 0 && args[0] == "status" {
		return []byte(" M main.go\n"), nil
	}
	return nil, nil
}

func (r *recordingRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

var _ exec.CommandRunner = (*recordingRunner)(nil)

func TestCoordinatorCommitsApprovedWork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := store.New()
	ce := &coordExec{decomposition: `[{"title":"api","description":"endpoints","priority":5}]`}
	runner := &recordingRunner{}
	c := newTestCoordinator(st, ce, WithCommitter(gitops.New(runner, 0), "/ws"))
	runSimWorker(ctx, st)

	result, err := c.RunInstruction(ctx, "build the api")
	if err != nil {
		t.Fatalf("RunInstruction: %v", err)
	}
	if !result.Success() {
		t.Fatalf("result = %+v", result)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	committed := false
	for _, call := range runner.calls {
		if len(call) > 1 && call[1] == "commit" {
			committed = true
		}
	}
	if !committed {
		t.Error("approved work was not committed")
	}
}
