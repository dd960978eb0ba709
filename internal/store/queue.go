package store

import (
	"sort"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Queue is the queue-backend view of the store consumed by the scheduler
// and by agents: push, atomic lock-on-pop, ack, nack.
type Queue interface {
	// Push enqueues a task through the normal create path.
	Push(t *models.Task) error
	// PopReady atomically selects and assigns the best Ready task matching
	// the agent's capability tags. Returns nil when nothing matches; an
	// idle agent with no matching work is not an error.
	PopReady(agentID string, capabilities []string) (*models.Task, error)
	// Ack reports successful completion of a popped task.
	Ack(taskID string, result *models.WorkResult) error
	// Nack returns a popped task to the retry path, consuming an attempt.
	Nack(taskID string, failure error) (*models.Task, error)
	// Release undoes an assignment the agent could not act on, without
	// consuming an attempt.
	Release(taskID string) error
}

// Verify Store implements Queue at compile time.
var _ Queue = (*Store)(nil)

// Push enqueues a task through the normal create path.
func (s *Store) Push(t *models.Task) error {
	return s.Create(t)
}

// PopReady picks the highest-priority Ready task whose capability tag the
// agent declares, breaking ties by the task's creation sequence number.
// Selection and assignment happen under one lock, so concurrent pops for
// the same task cannot both succeed.
func (s *Store) PopReady(agentID string, capabilities []string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.Task
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusReady {
			continue
		}
		if !capabilityMatch(t.Capability, capabilities) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Seq < candidates[j].Seq
	})
	return s.assignLocked(candidates[0].ID, agentID)
}

// Ack reports successful completion of a popped task.
func (s *Store) Ack(taskID string, result *models.WorkResult) error {
	return s.Complete(taskID, result)
}

// Nack returns a popped task to the retry path.
func (s *Store) Nack(taskID string, failure error) (*models.Task, error) {
	return s.Fail(taskID, failure)
}

// capabilityMatch reports whether an agent declaring the given tags can
// take a task with the given capability. Untagged tasks match any agent.
func capabilityMatch(taskCap string, agentCaps []string) bool {
	if taskCap == "" {
		return true
	}
	for _, c := range agentCaps {
		if c == taskCap {
			return true
		}
	}
	return false
}
