// Package workers provides a bounded goroutine pool for background task
// execution. The scheduler runs every reminder fire on it.
package workers

import (
	"context"
	"errors"
	"time"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is a unit of work executed by a worker.
type Task struct {
	ID   string                          // Task identifier used in logs
	Type string                          // Task type, e.g. "fire"
	Run  func(ctx context.Context) error // Work to execute
}

// Result is the outcome of a task execution.
type Result struct {
	TaskID   string
	Type     string
	Error    error
	Duration time.Duration
}

// PoolMetrics tracks execution metrics for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksPanicked  uint64
	TotalDuration  time.Duration
}

const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 256
)
