package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the class queue has no room
	ErrQueueFull = errors.New("worker queue full")
	// ErrPoolClosed is returned by Submit after Stop
	ErrPoolClosed = errors.New("worker pool closed")
)

// Priority is a work class. Each class has its own queue and workers so
// urgent work never waits behind background work.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityUrgent
	PriorityNormal
	PriorityBackground
)

var priorities = []Priority{PriorityCritical, PriorityUrgent, PriorityNormal, PriorityBackground}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityBackground:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Task is a unit of work. ctx is cancelled only if Stop gives up waiting.
type Task func(ctx context.Context)

type class struct {
	priority Priority
	workers  int
	queue    chan Task

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Pool is a set of bounded queues, one per priority, each drained by its own workers
type Pool struct {
	classes []*class
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
}

// New creates a pool sized from config. Classes with no workers configured get one.
func New(cfg config.WorkerPoolConfig, log *logger.Logger) *Pool {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	workers := map[Priority]int{
		PriorityCritical:   cfg.Critical,
		PriorityUrgent:     cfg.Urgent,
		PriorityNormal:     cfg.Normal,
		PriorityBackground: cfg.Background,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: log.WithComponent("worker-pool"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, prio := range priorities {
		n := workers[prio]
		if n <= 0 {
			n = 1
		}
		p.classes = append(p.classes, &class{
			priority: prio,
			workers:  n,
			queue:    make(chan Task, queueSize),
		})
	}
	return p
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for _, c := range p.classes {
			for i := 0; i < c.workers; i++ {
				p.wg.Add(1)
				go p.worker(c)
			}
		}
		p.logger.Info("Worker pool started",
			zap.Int("critical", p.classes[PriorityCritical].workers),
			zap.Int("urgent", p.classes[PriorityUrgent].workers),
			zap.Int("normal", p.classes[PriorityNormal].workers),
			zap.Int("background", p.classes[PriorityBackground].workers))
	})
}

// Submit queues task under priority. It never blocks.
func (p *Pool) Submit(priority Priority, task Task) error {
	if priority < PriorityCritical || priority > PriorityBackground {
		return fmt.Errorf("unknown %s", priority)
	}
	c := p.classes[priority]

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case c.queue <- task:
		c.submitted.Add(1)
		return nil
	default:
		c.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, priority)
	}
}

func (p *Pool) worker(c *class) {
	defer p.wg.Done()
	for task := range c.queue {
		p.run(c, task)
	}
}

func (p *Pool) run(c *class, task Task) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			p.logger.Error("Worker task panicked",
				zap.String("priority", c.priority.String()),
				zap.Any("panic", r))
		}
		c.completed.Add(1)
	}()
	task(p.ctx)
}

// Stop rejects new work, lets the workers drain what is queued and waits for
// them. If ctx expires first, running tasks see their context cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, c := range p.classes {
		close(c.queue)
	}
	p.mu.Unlock()

	// Drain queues of a pool that was never started
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("Worker pool stop timed out, cancelling running tasks")
		return ctx.Err()
	}
}

// ClassStats are the counters of one priority class
type ClassStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
}

// GetStatistics returns per-class counters keyed by class name
func (p *Pool) GetStatistics() map[string]ClassStats {
	stats := make(map[string]ClassStats, len(p.classes))
	for _, c := range p.classes {
		stats[c.priority.String()] = ClassStats{
			Workers:   c.workers,
			Queued:    len(c.queue),
			Submitted: c.submitted.Load(),
			Completed: c.completed.Load(),
			Rejected:  c.rejected.Load(),
			Panics:    c.panics.Load(),
		}
	}
	return stats
}
