package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moltworks/colony/pkg/config"
)

// Reporter receives heartbeats and completion events from workers.
// Implemented by the store; nil-safe fakes serve in tests.
type Reporter interface {
	TouchAgentState(ctx context.Context, agentID, status string, detail map[string]any) error
	RecordActivity(ctx context.Context, agentID, kind string, detail map[string]any) error
}

type queued struct {
	task   Task
	future *Future
}

// Pool runs tasks on a fixed set of workers. Submissions beyond the
// worker count wait in FIFO order; beyond the queue depth they are
// rejected so a stuck provider cannot queue unbounded work.
type Pool struct {
	cfg        *config.Provider
	reporter   Reporter
	limiters   *limiterRegistry
	pheromones *PheromoneBook

	tasks    chan queued
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Session cancel registry: session_id → cancel function
	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
	active  int
	started bool
}

// NewPool creates a pool sized from the catalog's pool config.
func NewPool(cfg *config.Provider, reporter Reporter) *Pool {
	pc := cfg.Current().Pool
	return &Pool{
		cfg:        cfg,
		reporter:   reporter,
		limiters:   newLimiterRegistry(cfg),
		pheromones: NewPheromoneBook(),
		tasks:      make(chan queued, pc.QueueDepth),
		stopCh:     make(chan struct{}),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	p.mu.Unlock()

	workers := p.cfg.Current().Pool.MaxConcurrent
	slog.Info("Starting agent pool", "workers", workers, "queue_depth", cap(p.tasks))

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to drain and waits for in-flight tasks up to the
// configured grace period, then cancels whatever is left.
func (p *Pool) Stop() {
	slog.Info("Stopping agent pool")
	p.stopOnce.Do(func() { close(p.stopCh) })

	grace := p.cfg.Current().Pool.ShutdownGrace
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Shutdown grace elapsed, cancelling remaining tasks")
		p.mu.RLock()
		for _, cancel := range p.cancels {
			cancel()
		}
		p.mu.RUnlock()
		<-done
	}
	slog.Info("Agent pool stopped")
}

// Pheromones exposes the pool's in-memory score book.
func (p *Pool) Pheromones() *PheromoneBook {
	return p.pheromones
}

// Accepting reports whether the queue has room for another task. The
// cron scheduler checks it before advancing an entry's bookkeeping so a
// due fire is deferred, not dropped, while the pool is saturated.
func (p *Pool) Accepting() bool {
	return len(p.tasks) < cap(p.tasks)
}

// Submit enqueues a task. It never blocks: a full queue returns
// ErrQueueFull and a stopped pool returns ErrPoolStopped.
func (p *Pool) Submit(task Task) (*Future, error) {
	f := newFuture()
	select {
	case <-p.stopCh:
		return nil, ErrPoolStopped
	default:
	}

	select {
	case p.tasks <- queued{task: task, future: f}:
		return f, nil
	default:
		return nil, ErrQueueFull
	}
}

// CancelSession cancels the running task registered under a session.
// Returns true if one was found.
func (p *Pool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.cancels[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Stats is a point-in-time pool snapshot for the health endpoint.
type Stats struct {
	Workers    int `json:"workers"`
	Active     int `json:"active"`
	QueueDepth int `json:"queue_depth"`
	QueueCap   int `json:"queue_cap"`
}

// Stats returns the current pool load.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Workers:    p.cfg.Current().Pool.MaxConcurrent,
		Active:     p.active,
		QueueDepth: len(p.tasks),
		QueueCap:   cap(p.tasks),
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			// Drain what is already queued, then exit.
			select {
			case q := <-p.tasks:
				p.execute(ctx, q)
			default:
				return
			}
		case <-ctx.Done():
			return
		case q := <-p.tasks:
			p.execute(ctx, q)
		}
	}
}

func (p *Pool) execute(ctx context.Context, q queued) {
	task := q.task

	if err := p.limiters.wait(ctx, task.AgentID); err != nil {
		q.future.resolve("", err)
		return
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if task.SessionID != "" {
		p.register(task.SessionID, cancel)
		defer p.unregister(task.SessionID)
	}

	p.setActive(+1)
	defer p.setActive(-1)

	p.heartbeat(task.AgentID, "busy", map[string]any{"kind": task.Kind, "session_id": task.SessionID})
	start := time.Now()

	output, err := task.Run(taskCtx)

	detail := map[string]any{
		"kind":        task.Kind,
		"session_id":  task.SessionID,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	event := "task_completed"
	if err != nil {
		event = "task_failed"
		detail["error"] = err.Error()
		slog.Warn("Task failed", "agent", task.AgentID, "kind", task.Kind, "error", err)
	}
	p.pheromones.Record(task.AgentID, task.Kind, err == nil, time.Since(start))
	// Reporting runs on a fresh context so a cancelled task still logs.
	reportCtx, reportCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reportCancel()
	if rErr := p.reporter.RecordActivity(reportCtx, task.AgentID, event, detail); rErr != nil {
		slog.Error("Failed to record activity", "agent", task.AgentID, "error", rErr)
	}
	p.heartbeat(task.AgentID, "idle", nil)

	q.future.resolve(output, err)
}

func (p *Pool) heartbeat(agentID, status string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.reporter.TouchAgentState(ctx, agentID, status, detail); err != nil {
		slog.Error("Failed to record heartbeat", "agent", agentID, "error", err)
	}
}

func (p *Pool) register(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[sessionID] = cancel
}

func (p *Pool) unregister(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, sessionID)
}

func (p *Pool) setActive(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active += delta
}
