// Package store implements the task store: the single owner of task state
// and the source of truth for the dependency-ordered lifecycle.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrTaskNotFound indicates the task ID is not in the store.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskNotAssignable indicates the task is not Ready or is already
// assigned. Assign is atomic; this error enforces at-most-one-assignee.
var ErrTaskNotAssignable = errors.New("task not assignable")

// ErrTaskPermanentlyFailed indicates the task exhausted its attempt budget.
var ErrTaskPermanentlyFailed = errors.New("task permanently failed")

// ErrInvalidTransition indicates an operation was called in the wrong state.
var ErrInvalidTransition = errors.New("invalid task transition")

// DefaultMaxAttempts is the task-level retry budget applied when a task is
// created without one.
const DefaultMaxAttempts = 3

// Store holds task records and dependency edges. All mutating operations
// are serialized under one mutex, which makes assign/complete/fail and the
// ready-set recomputation a single-writer sequence: two schedulers racing
// for the same task cannot both win.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	graph *graph.Graph
	seq   uint64

	// db, when set, receives a write-through copy of every transition.
	db *state.DB
	// emitter, when set, receives a task_update per transition.
	emitter *events.Emitter
	// notify is kicked (non-blocking) whenever the ready set may have grown.
	notify chan<- struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithDB enables SQLite write-through persistence.
func WithDB(db *state.DB) Option {
	return func(s *Store) { s.db = db }
}

// WithEmitter wires the notification event stream.
func WithEmitter(e *events.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tasks: make(map[string]*models.Task),
		graph: graph.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotify registers a channel that is kicked (without blocking) whenever
// a task may have become Ready. The scheduler uses this as its wakeup.
func (s *Store) SetNotify(ch chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = ch
}

// kickLocked signals the notify channel without blocking. Caller holds s.mu.
func (s *Store) kickLocked() {
	if s.notify == nil {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Create inserts a task. Missing fields are defaulted: ID, MaxAttempts,
// timestamps, and the monotonic sequence number. The task enters Pending,
// or Ready immediately when it has no unmet dependencies.
func (s *Store) Create(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(t)
}

// CreateBatch inserts a set of tasks that may depend on each other, as
// produced by decomposition. The whole batch is validated for cycles and
// unknown dependencies before any task is inserted.
func (s *Store) CreateBatch(tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()[:8]
		}
		if _, exists := s.tasks[t.ID]; exists {
			return fmt.Errorf("task %s already exists", t.ID)
		}
		deps[t.ID] = t.DependsOn
	}
	// Batch-internal dependencies are legal; pre-register against the
	// existing graph by merging.
	for id, dd := range deps {
		for _, d := range dd {
			if _, inBatch := deps[d]; !inBatch {
				if _, err := s.getLocked(d); err != nil {
					return fmt.Errorf("task %s depends on unknown task %s", id, d)
				}
			}
		}
	}
	if err := s.graph.AddBatch(deps); err != nil {
		return err
	}
	for _, t := range tasks {
		s.fillDefaultsLocked(t)
		s.tasks[t.ID] = t
		s.markReadyLocked(t)
		s.persistLocked(t)
		s.emitLocked(t)
	}
	s.kickLocked()
	return nil
}

func (s *Store) createLocked(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()[:8]
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if err := s.graph.Add(t.ID, t.DependsOn); err != nil {
		return err
	}
	s.fillDefaultsLocked(t)
	s.tasks[t.ID] = t
	s.markReadyLocked(t)
	s.persistLocked(t)
	s.emitLocked(t)
	s.kickLocked()
	return nil
}

func (s *Store) fillDefaultsLocked(t *models.Task) {
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	s.seq++
	t.Seq = s.seq
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Status = models.TaskStatusPending
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (s *Store) getLocked(id string) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return t, nil
}

// List returns copies of all tasks ordered by sequence number.
func (s *Store) List() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// MarkReady recomputes Pending→Ready transitions for every task. It is run
// internally whenever a dependency completes and may also be called after
// external recovery.
func (s *Store) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markAllReadyLocked()
}

func (s *Store) markAllReadyLocked() {
	for _, t := range s.tasks {
		s.markReadyLocked(t)
	}
}

// markReadyLocked promotes a single Pending task whose dependencies are all
// complete. A task whose dependency failed permanently stays Pending: it is
// surfaced to the coordinator rather than auto-cancelled.
func (s *Store) markReadyLocked(t *models.Task) {
	if t.Status != models.TaskStatusPending {
		return
	}
	if !s.graph.Satisfied(t.ID) {
		return
	}
	t.Status = models.TaskStatusReady
	t.UpdatedAt = time.Now()
	s.persistLocked(t)
	s.emitLocked(t)
}

// Assign atomically hands a Ready task to an agent. If the task is not
// Ready the call fails with ErrTaskNotAssignable, which guarantees
// at-most-one-assignee under concurrent scheduler ticks.
func (s *Store) Assign(id, agentID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(id, agentID)
}

func (s *Store) assignLocked(id, agentID string) (*models.Task, error) {
	t, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TaskStatusReady {
		return nil, fmt.Errorf("task %s is %s: %w", id, t.Status, ErrTaskNotAssignable)
	}
	t.Status = models.TaskStatusAssigned
	t.AssignedAgentID = agentID
	t.UpdatedAt = time.Now()
	s.persistLocked(t)
	s.emitLocked(t)
	return t.Clone(), nil
}

// Start transitions an Assigned task to InProgress when the agent begins
// executing it.
func (s *Store) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusAssigned {
		return fmt.Errorf("task %s is %s, not assigned: %w", id, t.Status, ErrInvalidTransition)
	}
	t.Status = models.TaskStatusInProgress
	t.UpdatedAt = time.Now()
	s.persistLocked(t)
	s.emitLocked(t)
	return nil
}

// Complete marks a task successful. Completing consumes an attempt, so a
// task that succeeded on its third try reports AttemptCount == 3. The
// dependency graph is updated and newly unblocked tasks become Ready.
func (s *Store) Complete(id string, result *models.WorkResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s already %s: %w", id, t.Status, ErrInvalidTransition)
	}
	t.AttemptCount++
	t.Status = models.TaskStatusCompleted
	if result != nil {
		result.TaskID = id
		result.AttemptCount = t.AttemptCount
	}
	t.Result = result
	t.LastError = ""
	t.UpdatedAt = time.Now()

	s.graph.MarkComplete(id)
	s.persistLocked(t)
	s.emitLocked(t)
	s.markAllReadyLocked()
	s.kickLocked()
	return nil
}

// Fail records a failed attempt. While the retry budget lasts the task
// returns to Ready for reassignment; once exhausted it becomes permanently
// Failed, keeping the last error and attempt count for inspection.
// Dependents of a permanently failed task remain Pending.
func (s *Store) Fail(id string, failure error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %s already %s: %w", id, t.Status, ErrInvalidTransition)
	}

	t.AttemptCount++
	if failure != nil {
		t.LastError = failure.Error()
	}
	t.AssignedAgentID = ""
	if t.AttemptCount < t.MaxAttempts {
		t.Status = models.TaskStatusReady
	} else {
		t.Status = models.TaskStatusFailed
	}
	t.UpdatedAt = time.Now()

	s.persistLocked(t)
	s.emitLocked(t)
	s.kickLocked()
	return t.Clone(), nil
}

// Release returns an Assigned or InProgress task to Ready without
// consuming an attempt. Used when an assignment could not be delivered to
// the agent, or the agent's process was unavailable to execute it.
func (s *Store) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusAssigned && t.Status != models.TaskStatusInProgress {
		return fmt.Errorf("task %s is %s, not releasable: %w", id, t.Status, ErrInvalidTransition)
	}
	t.Status = models.TaskStatusReady
	t.AssignedAgentID = ""
	t.UpdatedAt = time.Now()
	s.persistLocked(t)
	s.emitLocked(t)
	s.kickLocked()
	return nil
}

// Cancel stops a task before completion. Terminal tasks cannot be cancelled.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s already %s: %w", id, t.Status, ErrInvalidTransition)
	}
	t.Status = models.TaskStatusCancelled
	t.AssignedAgentID = ""
	t.UpdatedAt = time.Now()
	s.persistLocked(t)
	s.emitLocked(t)
	return nil
}

// Dependents returns the IDs of tasks blocked behind the given task.
func (s *Store) Dependents(id string) []string {
	return s.graph.Dependents(id)
}

// Stats returns aggregate task counters for the system_stats event.
func (s *Store) Stats() events.SystemStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st events.SystemStats
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskStatusPending:
			st.TasksPending++
		case models.TaskStatusReady:
			st.TasksReady++
		case models.TaskStatusAssigned, models.TaskStatusInProgress:
			st.TasksInProgress++
		case models.TaskStatusCompleted:
			st.TasksCompleted++
		case models.TaskStatusFailed:
			st.TasksFailed++
		}
	}
	return st
}

// SaveAgent write-through persists an agent's latest snapshot, so the
// roster survives the run for later inspection. Persistence errors are
// surfaced on the log stream, matching task persistence.
func (s *Store) SaveAgent(a *models.Agent) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveAgent(a); err != nil && s.emitter != nil {
		s.emitter.Log(events.SeverityError, a.ID, "", "persist agent: %v", err)
	}
}

// Recover reloads persisted tasks after a restart. Tasks that were Assigned
// or InProgress when the process died have lost their agent and return to
// the retry path without consuming an attempt; completed work is kept.
func (s *Store) Recover() error {
	if s.db == nil {
		return nil
	}
	tasks, err := s.db.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.DependsOn
	}
	if err := s.graph.AddBatch(deps); err != nil {
		return fmt.Errorf("rebuild graph: %w", err)
	}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusAssigned, models.TaskStatusInProgress:
			t.Status = models.TaskStatusPending
			t.AssignedAgentID = ""
		case models.TaskStatusReady:
			t.Status = models.TaskStatusPending
		case models.TaskStatusCompleted:
			s.graph.MarkComplete(t.ID)
		}
		s.tasks[t.ID] = t
		if t.Seq > s.seq {
			s.seq = t.Seq
		}
	}
	s.markAllReadyLocked()
	s.kickLocked()
	return nil
}

// persistLocked writes the task through to SQLite, if persistence is
// enabled. Persistence errors must not corrupt in-memory state; they are
// surfaced on the log stream instead.
func (s *Store) persistLocked(t *models.Task) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveTask(t); err != nil && s.emitter != nil {
		s.emitter.Log(events.SeverityError, "", t.ID, "persist task: %v", err)
	}
}

func (s *Store) emitLocked(t *models.Task) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(events.Event{
		Type:       events.TypeTaskUpdate,
		TaskID:     t.ID,
		TaskStatus: t.Status,
		AgentID:    t.AssignedAgentID,
		Message:    t.Title,
	})
}
