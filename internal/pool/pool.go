// Package pool assembles and runs the agent fleet: one coordinator plus a
// scalable set of workers, each owning a supervised external process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/agent"
	"github.com/ShayCichocki/hive/internal/claude"
	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/events"
	"github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/internal/gitops"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultStatsInterval is how often aggregate counters are published on
// the event stream.
const DefaultStatsInterval = 10 * time.Second

// workerHandle tracks one running worker replica.
type workerHandle struct {
	worker *agent.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool owns the store-scheduler-agents wiring. Workers can be scaled up
// and down at runtime; the scheduler rebalances on every change.
type Pool struct {
	cfg     *config.Config
	store   *store.Store
	sched   *scheduler.Scheduler
	emitter *events.Emitter
	client  *claude.Client
	coord   *agent.Coordinator

	mu          sync.Mutex
	workers     map[string]*workerHandle
	nextReplica int
	started     bool
	statsEvery  time.Duration

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// New wires a Pool from configuration. The store's notifications kick the
// scheduler, and the coordinator commits approved work into the workspace.
func New(cfg *config.Config, st *store.Store, emitter *events.Emitter) *Pool {
	client := claude.NewClient(cfg.Binary)
	sched := scheduler.New(st, emitter)
	st.SetNotify(sched.Trigger())

	coordOpts := models.CommandOptions{
		Model:        cfg.Pool.CoordinatorModel,
		Timeout:      cfg.Defaults.Timeout,
		ToolDenyList: cfg.Tools.Deny,
	}
	if coordOpts.Model == "" {
		coordOpts.Model = cfg.Defaults.Model
	}
	coordSup := supervisor.New("coordinator", client, cfg.Workspace,
		supervisor.WithEmitter(emitter),
		supervisor.WithStartTimeout(cfg.Supervisor.StartTimeout),
		supervisor.WithGracePeriod(cfg.Supervisor.GracePeriod),
		supervisor.WithHealthInterval(cfg.Supervisor.HealthInterval),
		supervisor.WithMaxRetries(cfg.Supervisor.MaxRetries),
	)
	coord := agent.NewCoordinator("coordinator",
		agent.NewStrategy(models.RoleCoordinator, coordOpts),
		coordSup, st, emitter,
		agent.WithCommitter(gitops.New(exec.NewRunner(), 0), cfg.Workspace),
	)

	return &Pool{
		cfg:        cfg,
		store:      st,
		sched:      sched,
		emitter:    emitter,
		client:     client,
		coord:      coord,
		workers:    make(map[string]*workerHandle),
		statsEvery: DefaultStatsInterval,
	}
}

// Start launches the scheduler, the coordinator's process, and the
// configured number of worker replicas.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pool already started")
	}
	p.started = true
	p.gctx, p.cancel = context.WithCancel(ctx)
	p.group, p.gctx = errgroup.WithContext(p.gctx)
	p.mu.Unlock()

	p.group.Go(func() error {
		err := p.sched.Run(p.gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	p.group.Go(func() error {
		p.publishStats(p.gctx)
		return nil
	})

	if err := p.coord.Start(ctx); err != nil {
		p.cancel()
		return fmt.Errorf("start coordinator: %w", err)
	}

	return p.ScaleTo(p.cfg.Pool.Workers)
}

// publishStats periodically emits aggregate task counters as a
// system_stats event until the context ends.
func (p *Pool) publishStats(ctx context.Context) {
	ticker := time.NewTicker(p.statsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.store.Stats()
			p.emitter.Emit(events.Event{
				Type:  events.TypeSystemStats,
				Stats: &stats,
			})
		}
	}
}

// Submit runs one instruction through the coordinator.
func (p *Pool) Submit(ctx context.Context, instruction string) (*agent.InstructionResult, error) {
	return p.coord.RunInstruction(ctx, instruction)
}

// Workers returns the current replica count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stats returns aggregate task counters.
func (p *Pool) Stats() events.SystemStats {
	return p.store.Stats()
}

// ScaleTo grows or shrinks the worker fleet to n replicas. Growth
// registers new workers with the scheduler; shrink cancels replicas, whose
// in-flight commands are rejected and whose tasks return to the retry
// path. The scheduler rebalances immediately in both directions.
func (p *Pool) ScaleTo(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid replica count %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return errors.New("pool not started")
	}

	for len(p.workers) < n {
		p.spawnWorkerLocked()
	}
	if len(p.workers) > n {
		excess := len(p.workers) - n
		for id, handle := range p.workers {
			if excess == 0 {
				break
			}
			handle.cancel()
			delete(p.workers, id)
			excess--
		}
	}
	return nil
}

// spawnWorkerLocked creates and launches one worker replica. Callers must
// hold mu.
func (p *Pool) spawnWorkerLocked() {
	p.nextReplica++
	id := fmt.Sprintf("worker-%d", p.nextReplica)

	sup := supervisor.New(id, p.client, p.cfg.Workspace,
		supervisor.WithEmitter(p.emitter),
		supervisor.WithStartTimeout(p.cfg.Supervisor.StartTimeout),
		supervisor.WithGracePeriod(p.cfg.Supervisor.GracePeriod),
		supervisor.WithHealthInterval(p.cfg.Supervisor.HealthInterval),
		supervisor.WithMaxRetries(p.cfg.Supervisor.MaxRetries),
	)
	strategy := agent.NewStrategy(models.RoleWorker, models.CommandOptions{
		Model:         p.cfg.Defaults.Model,
		Timeout:       p.cfg.Defaults.Timeout,
		ToolAllowList: p.cfg.Tools.Allow,
		ToolDenyList:  p.cfg.Tools.Deny,
	})
	worker := agent.NewWorker(id, strategy, sup, p.store, p.sched, p.emitter,
		agent.WithCapabilities(p.cfg.Pool.Capabilities),
		agent.WithCapacity(p.cfg.Pool.Capacity),
	)

	wctx, wcancel := context.WithCancel(p.gctx)
	handle := &workerHandle{worker: worker, cancel: wcancel, done: make(chan struct{})}
	p.workers[id] = handle

	p.group.Go(func() error {
		defer close(handle.done)
		err := worker.Run(wctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// One broken replica must not take the fleet down.
			p.emitter.Log(events.SeverityError, id, "", "worker exited: %v", err)
		}
		return nil
	})
}

// Shutdown stops every agent and waits for the fleet to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	_ = p.coord.Stop(ctx)

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
