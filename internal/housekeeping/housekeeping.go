// Package housekeeping runs periodic maintenance on the job store: it
// sweeps orphaned rows and logs how many jobs are stored.
package housekeeping

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
)

// Parser accepts standard five-field expressions, an optional seconds
// field and descriptors such as @hourly or @every 10m.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable schedule.
func ValidateSchedule(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Sweeper is the maintenance surface of the reminder service.
type Sweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// Runner triggers maintenance on a cron schedule.
type Runner struct {
	cron    *cron.Cron
	sweeper Sweeper
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a runner for schedule. m may be nil.
func New(schedule string, sweeper Sweeper, log *logger.Logger, m *metrics.Metrics) (*Runner, error) {
	log = log.With(logger.Field{Key: "component", Value: "housekeeping"})
	cl := cronLogger{log: log}

	r := &Runner{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper: sweeper,
		log:     log,
		metrics: m,
	}
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins running on schedule until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("housekeeping already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.cron.Start()
	r.log.Info("housekeeping started")

	go func() {
		<-r.ctx.Done()
		r.cron.Stop()
	}()
	return nil
}

// Stop cancels the schedule and waits for a running pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.log.Info("housekeeping stopped")
}

func (r *Runner) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	r.RunOnce(ctx)
}

// RunOnce sweeps orphans and records the stored job count.
func (r *Runner) RunOnce(ctx context.Context) {
	swept, err := r.sweeper.SweepOrphans(ctx)
	if err != nil {
		r.log.ErrorCtx(ctx, "orphan sweep failed", err)
	} else if swept > 0 {
		r.log.InfoCtx(ctx, "orphan sweep removed jobs", logger.Field{Key: "swept", Value: swept})
	}

	n, err := r.sweeper.Count(ctx)
	if err != nil {
		r.log.ErrorCtx(ctx, "failed to count jobs", err)
		return
	}
	r.metrics.SetStoredJobs(n)
	r.log.InfoCtx(ctx, "job store stats", logger.Field{Key: "stored_jobs", Value: n})
}

// cronLogger routes robfig/cron messages to the application logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, err, pairs(keysAndValues)...)
}

func pairs(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Field{Key: fmt.Sprint(kv[i]), Value: kv[i+1]})
	}
	return fields
}
