package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/decompose"
	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/gitops"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultReviewPoll is how often the coordinator polls the store for
// completed work.
const DefaultReviewPoll = 500 * time.Millisecond

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCommitter enables the version-control side effect after an approved
// task, committing the given workspace.
func WithCommitter(c *gitops.Committer, workspace string) CoordinatorOption {
	return func(co *Coordinator) {
		co.committer = c
		co.workspace = workspace
	}
}

// WithReviewPoll sets the completion polling interval.
func WithReviewPoll(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.pollInterval = d }
}

// InstructionResult summarizes one instruction's run.
type InstructionResult struct {
	// TaskIDs are all tasks created for the instruction, remediations
	// included.
	TaskIDs []string
	// Completed counts tasks that finished and passed review.
	Completed int
	// Failed lists tasks that ended permanently Failed or whose review
	// was rejected with the remediation budget exhausted.
	Failed []string
}

// Success is true when every task completed and passed review.
func (r *InstructionResult) Success() bool {
	return len(r.Failed) == 0 && r.Completed == len(r.TaskIDs)
}

// Coordinator decomposes instructions into the task store, reviews
// completed work, and creates bounded remediation tasks for rejected work.
// It executes its own commands through the same supervised protocol as
// workers, differing only in strategy.
type Coordinator struct {
	id           string
	strategy     Strategy
	sup          *supervisor.Supervisor
	store        *store.Store
	emitter      *events.Emitter
	decomposer   *decompose.Decomposer
	reviewer     *decompose.Reviewer
	committer    *gitops.Committer
	workspace    string
	pollInterval time.Duration
}

// NewCoordinator creates a Coordinator around a supervised process.
func NewCoordinator(id string, strategy Strategy, sup *supervisor.Supervisor, st *store.Store, emitter *events.Emitter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		id:           id,
		strategy:     strategy,
		sup:          sup,
		store:        st,
		emitter:      emitter,
		decomposer:   decompose.New(sup, strategy.CommandOptions()),
		reviewer:     decompose.NewReviewer(sup, strategy.CommandOptions()),
		pollInterval: DefaultReviewPoll,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the coordinator's agent id.
func (c *Coordinator) ID() string { return c.id }

// Start brings up the coordinator's supervised process.
func (c *Coordinator) Start(ctx context.Context) error {
	c.sup.SetStatusListener(func(status models.ProcessStatus, restarts, errCount int) {
		c.store.SaveAgent(&models.Agent{
			ID:             c.id,
			Role:           models.RoleCoordinator,
			ProcessStatus:  status,
			Capacity:       1,
			RestartCount:   restarts,
			ErrorCount:     errCount,
			LastActivityAt: time.Now(),
		})
	})
	return c.sup.Start(ctx)
}

// Stop shuts the coordinator's process down.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.sup.Stop(ctx)
}

// RunInstruction drives one instruction end to end: decompose, insert,
// watch completions, review each, remediate rejections, and emit a
// completion event once every task is settled.
func (c *Coordinator) RunInstruction(ctx context.Context, instruction string) (*InstructionResult, error) {
	tasks, err := c.decomposer.Decompose(ctx, instruction)
	if err != nil {
		return nil, fmt.Errorf("decompose instruction: %w", err)
	}
	if err := c.store.CreateBatch(tasks); err != nil {
		return nil, fmt.Errorf("insert tasks: %w", err)
	}

	run := &instructionRun{
		tracked:      make(map[string]struct{}, len(tasks)),
		reviewed:     make(map[string]bool),
		origins:      make(map[string]string),
		remediations: make(map[string]int),
		blocked:      make(map[string]struct{}),
	}
	for _, t := range tasks {
		run.tracked[t.ID] = struct{}{}
		run.origins[t.ID] = t.ID
	}
	c.log(events.SeverityInfo, "", "instruction decomposed into %d tasks", len(tasks))

	result, err := c.watch(ctx, run)
	if err != nil {
		return nil, err
	}

	severity := events.SeverityInfo
	if len(result.Failed) > 0 {
		severity = events.SeverityWarn
	}
	c.log(severity, "", "instruction complete: %d/%d tasks succeeded", result.Completed, len(result.TaskIDs))
	return result, nil
}

// instructionRun tracks one instruction's tasks, reviews, and remediation
// budgets, keyed back to the original task each remediation descends from.
type instructionRun struct {
	tracked      map[string]struct{}
	reviewed     map[string]bool
	origins      map[string]string
	remediations map[string]int
	blocked      map[string]struct{}
	failed       []string
}

// watch polls until every tracked task is settled: Completed and reviewed,
// permanently Failed, or Cancelled.
func (c *Coordinator) watch(ctx context.Context, run *instructionRun) (*InstructionResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		settled := true
		for id := range run.tracked {
			task, err := c.store.Get(id)
			if err != nil {
				continue
			}
			switch task.Status {
			case models.TaskStatusCompleted:
				if !run.reviewed[id] {
					if c.review(ctx, run, task) {
						// A remediation task joined the run.
						settled = false
					}
					run.reviewed[id] = true
				}
			case models.TaskStatusFailed:
				if !run.reviewed[id] {
					run.reviewed[id] = true
					run.failed = append(run.failed, id)
					c.log(events.SeverityWarn, id, "task permanently failed: %s", task.LastError)
				}
			case models.TaskStatusCancelled:
				run.reviewed[id] = true
			case models.TaskStatusPending:
				// A task behind a dead dependency will never become
				// Ready; count it failed so the run can settle.
				if c.deadDependency(run, task) {
					run.reviewed[id] = true
					run.blocked[id] = struct{}{}
					run.failed = append(run.failed, id)
					c.log(events.SeverityWarn, id, "task blocked: a dependency permanently failed")
				} else {
					settled = false
				}
			default:
				settled = false
			}
		}

		if settled {
			break
		}
	}

	result := &InstructionResult{Failed: run.failed}
	for id := range run.tracked {
		result.TaskIDs = append(result.TaskIDs, id)
	}
	result.Completed = len(result.TaskIDs) - len(run.failed) - c.cancelledCount(run)
	return result, nil
}

// deadDependency reports whether any dependency of task is permanently
// Failed, Cancelled, or itself blocked behind one. Blocking propagates
// through chains tick by tick via run.blocked.
func (c *Coordinator) deadDependency(run *instructionRun, task *models.Task) bool {
	for _, dep := range task.DependsOn {
		if _, ok := run.blocked[dep]; ok {
			return true
		}
		d, err := c.store.Get(dep)
		if err != nil {
			continue
		}
		if d.Status == models.TaskStatusFailed || d.Status == models.TaskStatusCancelled {
			return true
		}
	}
	return false
}

func (c *Coordinator) cancelledCount(run *instructionRun) int {
	n := 0
	for id := range run.tracked {
		if task, err := c.store.Get(id); err == nil && task.Status == models.TaskStatusCancelled {
			n++
		}
	}
	return n
}

// review judges one completed task. Approval triggers the version-control
// side effect; rejection creates a remediation task bounded by the original
// task's attempt budget. Returns true when a remediation task was created.
func (c *Coordinator) review(ctx context.Context, run *instructionRun, task *models.Task) bool {
	verdict, err := c.reviewer.Review(ctx, task, task.Result)
	if err != nil {
		// The review command itself failed; treat it as a rejection so
		// the work gets another look rather than silently passing.
		c.log(events.SeverityError, task.ID, "review command failed: %v", err)
		verdict = &decompose.ReviewVerdict{Approved: false, Feedback: fmt.Sprintf("review could not run: %v", err)}
	}

	if verdict.Approved {
		c.log(events.SeverityInfo, task.ID, "review approved")
		if c.committer != nil {
			if cerr := c.committer.CommitTask(ctx, c.workspace, task); cerr != nil {
				c.log(events.SeverityWarn, task.ID, "commit side effect failed: %v", cerr)
			}
		}
		return false
	}

	origin := run.origins[task.ID]
	if run.remediations[origin] >= task.MaxAttempts {
		run.failed = append(run.failed, task.ID)
		c.log(events.SeverityWarn, task.ID, "review rejected and remediation budget exhausted: %s", verdict.Feedback)
		return false
	}
	run.remediations[origin]++

	remediation := &models.Task{
		Title:       "Remediate: " + task.Title,
		Description: task.Description + "\n\nPrevious attempt was rejected in review: " + verdict.Feedback,
		Priority:    task.Priority,
		Capability:  task.Capability,
		MaxAttempts: task.MaxAttempts,
	}
	if err := c.store.Create(remediation); err != nil {
		run.failed = append(run.failed, task.ID)
		c.log(events.SeverityError, task.ID, "create remediation task: %v", err)
		return false
	}
	run.tracked[remediation.ID] = struct{}{}
	run.origins[remediation.ID] = origin
	c.log(events.SeverityInfo, task.ID, "review rejected, remediation task %s created (%d/%d)",
		remediation.ID, run.remediations[origin], task.MaxAttempts)
	return true
}

func (c *Coordinator) log(severity events.Severity, taskID, format string, args ...interface{}) {
	if c.emitter != nil {
		c.emitter.Log(severity, c.id, taskID, format, args...)
	}
}
