// Package scheduler pairs idle agents with ready tasks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultPollInterval is the safety-net dispatch interval used when no
// wakeup arrives. Normal operation is event-driven through the trigger.
const DefaultPollInterval = 2 * time.Second

// registration is the scheduler's view of one agent.
type registration struct {
	id           string
	capabilities []string
	status       models.ProcessStatus
	capacity     int
	inflight     int
	deliver      chan<- *models.Task
}

func (r *registration) idle() bool {
	return r.status == models.ProcessRunning && r.inflight < r.capacity
}

// Scheduler matches Ready tasks to idle agents. It reacts to two kinds of
// events: a task became Ready (store kick) and an agent became idle or the
// pool changed size (Release/Register/Unregister). Both funnel into one
// capacity-1 trigger channel, so bursts coalesce into a single dispatch.
type Scheduler struct {
	queue   store.Queue
	emitter *events.Emitter

	mu      sync.Mutex
	agents  map[string]*registration
	trigger chan struct{}

	pollInterval time.Duration
}

// New creates a Scheduler over the given queue backend.
func New(queue store.Queue, emitter *events.Emitter) *Scheduler {
	return &Scheduler{
		queue:        queue,
		emitter:      emitter,
		agents:       make(map[string]*registration),
		trigger:      make(chan struct{}, 1),
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the safety-net dispatch interval, mainly for tests.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Trigger returns the wakeup channel, suitable for store.SetNotify.
func (s *Scheduler) Trigger() chan struct{} {
	return s.trigger
}

// Kick requests a dispatch pass without blocking.
func (s *Scheduler) Kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Register adds an agent to the pool view. The deliver channel must have
// capacity >= the agent's command capacity so delivery never blocks the
// dispatch loop. Registration re-evaluates the ready set immediately.
func (s *Scheduler) Register(id string, capabilities []string, capacity int, deliver chan<- *models.Task) {
	if capacity <= 0 {
		capacity = 1
	}
	s.mu.Lock()
	s.agents[id] = &registration{
		id:           id,
		capabilities: capabilities,
		status:       models.ProcessStopped,
		capacity:     capacity,
		deliver:      deliver,
	}
	s.mu.Unlock()
	s.Kick()
}

// Unregister removes an agent on scale-down or shutdown. Work already in
// progress on that agent is not migrated; its task returns through the
// normal nack path when the agent stops.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()
	s.Kick()
}

// UpdateProcessStatus records a supervisor status transition. An agent only
// receives work while Running.
func (s *Scheduler) UpdateProcessStatus(id string, status models.ProcessStatus) {
	s.mu.Lock()
	if r, ok := s.agents[id]; ok {
		r.status = status
	}
	s.mu.Unlock()
	if status == models.ProcessRunning {
		s.Kick()
	}
}

// Release marks an agent slot free after it finished (or gave up) a task.
func (s *Scheduler) Release(id string) {
	s.mu.Lock()
	if r, ok := s.agents[id]; ok && r.inflight > 0 {
		r.inflight--
	}
	s.mu.Unlock()
	s.Kick()
}

// IdleCount returns the number of agents currently able to take work.
func (s *Scheduler) IdleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.agents {
		if r.idle() {
			n++
		}
	}
	return n
}

// Run dispatches until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			s.dispatch()
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch repeatedly pops the best ready task for each idle agent until no
// further pairing is possible. An idle agent with no matching task simply
// stays idle; that is not an error.
func (s *Scheduler) dispatch() {
	for {
		assigned := false

		s.mu.Lock()
		idle := make([]*registration, 0, len(s.agents))
		for _, r := range s.agents {
			if r.idle() {
				idle = append(idle, r)
			}
		}
		s.mu.Unlock()

		for _, r := range idle {
			task, err := s.queue.PopReady(r.id, r.capabilities)
			if err != nil {
				if s.emitter != nil {
					s.emitter.Log(events.SeverityError, r.id, "", "pop ready: %v", err)
				}
				continue
			}
			if task == nil {
				continue
			}

			s.mu.Lock()
			reg, ok := s.agents[r.id]
			if !ok || !reg.idle() {
				s.mu.Unlock()
				// Agent went away between the snapshot and the pop. Undo the
				// assignment without consuming the task's retry budget.
				s.queue.Release(task.ID)
				continue
			}
			reg.inflight++
			s.mu.Unlock()

			select {
			case reg.deliver <- task:
				assigned = true
			default:
				// Deliver channel full despite a free slot. Undo.
				s.mu.Lock()
				reg.inflight--
				s.mu.Unlock()
				s.queue.Release(task.ID)
			}
		}

		if !assigned {
			return
		}
	}
}
