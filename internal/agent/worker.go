// Package agent implements the Coordinator and Worker roles as one
// runtime shape parameterized by a Strategy.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Executor runs one command through a supervised process.
type Executor interface {
	Execute(ctx context.Context, cmd *models.Command) (*claude.Result, error)
}

// selfTestVerdict is the structured payload of a self-test command.
type selfTestVerdict struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithCapabilities sets the capability tags the worker advertises to the
// scheduler. No tags means the worker accepts any task.
func WithCapabilities(tags []string) WorkerOption {
	return func(w *Worker) { w.capabilities = tags }
}

// WithCapacity sets the worker's concurrent assignment capacity.
func WithCapacity(n int) WorkerOption {
	return func(w *Worker) { w.capacity = n }
}

// Worker waits for scheduler assignments, executes each task through the
// command protocol, self-tests the result, and reports the outcome to the
// task store. Semantic failures retry at the task layer via the store's
// attempt budget; process failures go back to the store's retry path and
// are recovered by the supervisor.
type Worker struct {
	id           string
	strategy     Strategy
	exec         Executor
	sup          *supervisor.Supervisor
	store        *store.Store
	sched        *scheduler.Scheduler
	emitter      *events.Emitter
	capabilities []string
	capacity     int
	deliver      chan *models.Task
}

// NewWorker creates a Worker around a supervised process.
func NewWorker(id string, strategy Strategy, sup *supervisor.Supervisor, st *store.Store, sched *scheduler.Scheduler, emitter *events.Emitter, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:       id,
		strategy: strategy,
		exec:     sup,
		sup:      sup,
		store:    st,
		sched:    sched,
		emitter:  emitter,
		capacity: 1,
		deliver:  make(chan *models.Task, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's agent id.
func (w *Worker) ID() string { return w.id }

// Run starts the supervised process, registers with the scheduler, and
// processes assignments until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	// Every supervisor transition reaches the scheduler, so an agent whose
	// process crashed out of Running stops receiving work, and the roster
	// snapshot is persisted as it changes.
	w.sup.SetStatusListener(func(status models.ProcessStatus, restarts, errCount int) {
		w.sched.UpdateProcessStatus(w.id, status)
		w.store.SaveAgent(&models.Agent{
			ID:             w.id,
			Role:           models.RoleWorker,
			ProcessStatus:  status,
			Capacity:       w.capacity,
			Capabilities:   w.capabilities,
			RestartCount:   restarts,
			ErrorCount:     errCount,
			LastActivityAt: time.Now(),
		})
	})
	if err := w.sup.Start(ctx); err != nil {
		return fmt.Errorf("start worker %s: %w", w.id, err)
	}
	w.sched.Register(w.id, w.capabilities, w.capacity, w.deliver)
	w.sched.UpdateProcessStatus(w.id, w.sup.Status())
	defer func() {
		w.sched.Unregister(w.id)
		_ = w.sup.Stop(context.Background())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-w.deliver:
			w.handle(ctx, task)
			w.sched.Release(w.id)
		}
	}
}

// handle drives one assigned task to a terminal outcome: Completed, back to
// Ready for another agent, or permanently Failed.
func (w *Worker) handle(ctx context.Context, task *models.Task) {
	if err := w.store.Start(task.ID); err != nil {
		w.log(events.SeverityWarn, task.ID, "cannot start task: %v", err)
		return
	}

	for {
		result, verdict, err := w.attempt(ctx, task)
		if err != nil {
			if errors.Is(err, supervisor.ErrNotRunning) {
				// The command never reached the process; hand the task
				// back without charging its retry budget.
				if rerr := w.store.Release(task.ID); rerr != nil {
					w.log(events.SeverityError, task.ID, "release after rejected delivery: %v", rerr)
				}
				w.log(events.SeverityWarn, task.ID, "process unavailable, task released: %v", err)
				return
			}
			// Process-layer interruption. The task returns to the retry
			// path; the supervisor owns the process recovery.
			if _, ferr := w.store.Fail(task.ID, err); ferr != nil {
				w.log(events.SeverityError, task.ID, "fail after interruption: %v", ferr)
			}
			w.log(events.SeverityWarn, task.ID, "task interrupted: %v", err)
			return
		}

		if verdict.Passed {
			if cerr := w.store.Complete(task.ID, result); cerr != nil {
				w.log(events.SeverityError, task.ID, "complete: %v", cerr)
			}
			return
		}

		// Self-test failed: consume an attempt, then fix and retest while
		// the budget lasts.
		failed, ferr := w.store.Fail(task.ID, errors.New(verdict.Reason))
		if ferr != nil {
			w.log(events.SeverityError, task.ID, "fail: %v", ferr)
			return
		}
		if failed.Status == models.TaskStatusFailed {
			w.log(events.SeverityWarn, task.ID, "task permanently failed after %d attempts: %s",
				failed.AttemptCount, verdict.Reason)
			return
		}

		// Reclaim the task for the retry. Losing the race to another
		// agent is fine; they take over from here.
		if _, aerr := w.store.Assign(task.ID, w.id); aerr != nil {
			return
		}
		if serr := w.store.Start(task.ID); serr != nil {
			return
		}
		task = failed
	}
}

// attempt runs one work command and one self-test command. The returned
// error is process-layer only; semantic failures land in the verdict.
func (w *Worker) attempt(ctx context.Context, task *models.Task) (*models.WorkResult, *selfTestVerdict, error) {
	workCmd := &models.Command{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Prompt:   w.strategy.TaskPrompt(task),
		Options:  w.strategy.WorkOptions(),
		IssuedAt: time.Now(),
	}
	res, err := w.exec.Execute(ctx, workCmd)
	if interrupted(err) || (err != nil && res == nil) {
		return nil, nil, err
	}

	result := res.WorkResult(task.ID)
	result.AttemptCount = task.AttemptCount + 1
	if err != nil {
		// Command-layer failure: the tool ran badly. Counts as a failed
		// attempt, not a process fault.
		return result, &selfTestVerdict{Passed: false, Reason: result.Error}, nil
	}

	verdict, err := w.selfTest(ctx, task, result)
	if interrupted(err) {
		return nil, nil, err
	}
	if err != nil {
		return result, &selfTestVerdict{Passed: false, Reason: err.Error()}, nil
	}
	return result, verdict, nil
}

// selfTest verifies the work with a second command.
func (w *Worker) selfTest(ctx context.Context, task *models.Task, result *models.WorkResult) (*selfTestVerdict, error) {
	cmd := &models.Command{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Prompt:   w.strategy.SelfTestPrompt(task, result.Raw),
		Options:  w.strategy.SelfTestOptions(),
		IssuedAt: time.Now(),
	}
	res, err := w.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var verdict selfTestVerdict
	if jerr := json.Unmarshal(res.Payload, &verdict); jerr != nil {
		return nil, fmt.Errorf("parse self-test verdict: %w", jerr)
	}
	if !verdict.Passed && verdict.Reason == "" {
		verdict.Reason = "self-test failed without a reason"
	}
	return &verdict, nil
}

// interrupted reports whether err is a process-layer interruption that
// should send the task back to the store's retry path instead of consuming
// the local fix-and-retest loop.
func interrupted(err error) bool {
	return errors.Is(err, supervisor.ErrProcessCrash) ||
		errors.Is(err, supervisor.ErrShutdown) ||
		errors.Is(err, supervisor.ErrNotRunning) ||
		errors.Is(err, context.Canceled)
}

func (w *Worker) log(severity events.Severity, taskID, format string, args ...interface{}) {
	if w.emitter != nil {
		w.emitter.Log(severity, w.id, taskID, format, args...)
	}
}
