package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/lazarusking/theaccelbot/internal/logger"
)

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", logger.Field{Key: "worker_id", Value: id})

	for task := range p.taskQueue {
		p.processTask(id, task)
	}

	p.logger.Debug("worker stopping", logger.Field{Key: "worker_id", Value: id})
}

// processTask runs a single task with metrics and panic isolation.
func (p *Pool) processTask(workerID int, task Task) {
	start := time.Now()

	p.logger.Debug("processing task",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "task_type", Value: task.Type})

	panicked, err := p.execute(p.ctx, task)

	result := Result{
		TaskID:   task.ID,
		Type:     task.Type,
		Error:    err,
		Duration: time.Since(start),
	}

	switch {
	case panicked:
		p.incrementPanicked()
		p.logger.Error("task panic recovered", err,
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: task.ID})
	case err != nil:
		p.incrementFailed()
		p.logger.Warn("task failed",
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "task_type", Value: task.Type},
			logger.Field{Key: "error", Value: err.Error()})
	default:
		p.incrementCompleted()
	}
	p.recordDuration(result.Duration)

	if p.onResult != nil {
		p.onResult(result)
	}
}

func (p *Pool) execute(ctx context.Context, task Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.Run == nil {
		return false, fmt.Errorf("task %s has no function", task.ID)
	}
	return false, task.Run(ctx)
}
