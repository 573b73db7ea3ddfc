// Package worker runs a fixed set of executors against one job queue.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/applyline/applyline/internal/queue"
)

// Executor processes one leased job to its outcome (ack/requeue/abandon).
type Executor interface {
	Execute(ctx context.Context, d *queue.Descriptor)
}

// Pool is N independent workers sharing one queue handle. Workers
// coordinate only through the queue's lease mechanism. On shutdown the
// pool stops dequeuing immediately and lets in-flight jobs finish; leases
// are never released early, so a draining job is not picked up twice.
type Pool struct {
	queue   queue.Queue
	exec    Executor
	logger  *slog.Logger
	workers int
	lease   time.Duration
	block   time.Duration
	jobTime time.Duration

	wg     sync.WaitGroup
	once   sync.Once
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLease(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.lease = d
		}
	}
}

func WithBlockTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.block = d
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTime = d
		}
	}
}

func NewPool(q queue.Queue, exec Executor, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:   q,
		exec:    exec,
		logger:  logger,
		workers: 4,
		lease:   15 * time.Minute,
		block:   5 * time.Second,
		jobTime: 30 * time.Minute,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. Safe to call once; later calls are no-ops.
func (p *Pool) Start() {
	p.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.runWorker(ctx, i+1)
		}
	})
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Info("worker started", "worker_id", workerID)

	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopped", "worker_id", workerID)
			return
		}

		d, err := p.queue.Dequeue(ctx, p.lease, p.block)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("worker stopped", "worker_id", workerID)
				return
			}
			p.logger.Error("dequeue failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		// The job runs on its own context so an in-flight run survives
		// shutdown; stage timeouts bound how long the drain can take.
		jctx, cancel := context.WithTimeout(context.Background(), p.jobTime)
		p.exec.Execute(jctx, d)
		cancel()
	}
}

// Shutdown stops new dequeues and waits for in-flight jobs, bounded by
// ctx.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("worker pool drained, shutdown complete")
	}
}
