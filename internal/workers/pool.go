package workers

import (
	"context"
	"sync"

	"github.com/lazarusking/theaccelbot/internal/logger"
)

// Pool manages a fixed set of goroutines that execute submitted tasks.
type Pool struct {
	taskQueue chan Task
	workers   int
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards started and stopped; Submit holds it for reading while
	// enqueueing so Stop never closes the queue under a sender.
	mu      sync.RWMutex
	started bool
	stopped bool

	metricsMu sync.Mutex
	metrics   PoolMetrics

	onResult func(Result)
	logger   *logger.Logger
}

// NewPool creates a pool. Non-positive sizes fall back to the defaults.
func NewPool(workers, queueSize int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		taskQueue: make(chan Task, queueSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
	}
}

// OnResult registers a callback invoked after every task. Call before Start.
func (p *Pool) OnResult(fn func(Result)) {
	p.onResult = fn
}

// Start launches the worker goroutines. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "queue_size", Value: cap(p.taskQueue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues task. It blocks while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.incrementSubmitted()
		p.logger.DebugCtx(ctx, "task submitted",
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "task_type", Value: task.Type})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, lets the workers drain the queue, then cancels
// the context handed to tasks.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskQueue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	p.cancel()

	m := p.Metrics()
	p.logger.Info("worker pool stopped",
		logger.Field{Key: "tasks_submitted", Value: m.TasksSubmitted},
		logger.Field{Key: "tasks_completed", Value: m.TasksCompleted},
		logger.Field{Key: "tasks_failed", Value: m.TasksFailed})
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the number of tasks waiting in the queue.
func (p *Pool) QueueSize() int {
	return len(p.taskQueue)
}
