// Package recovery reconciles persisted jobs with wall-clock time at boot.
//
// Each stored job is either re-armed as is, caught up to its next future
// period, pruned (a one-shot whose instant passed while the process was
// down) or skipped as invalid. Recovery never fires a job itself.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
)

// ErrAlreadyRan is returned by a second Run on the same engine.
var ErrAlreadyRan = errors.New("recovery already ran")

// Registrar is the part of the scheduler recovery drives.
type Registrar interface {
	ScheduleOnce(id string, at time.Time, meta scheduler.Meta) (scheduler.Handle, error)
	ScheduleRepeating(id string, first time.Time, period time.Duration, meta scheduler.Meta) (scheduler.Handle, error)
}

// Action is what recovery does with one record.
type Action int

const (
	ActionRearm Action = iota
	ActionCatchUp
	ActionPrune
	ActionInvalid
)

func (a Action) String() string {
	switch a {
	case ActionRearm:
		return "rearm"
	case ActionCatchUp:
		return "catch-up"
	case ActionPrune:
		return "prune"
	case ActionInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of Decide for one record.
type Decision struct {
	Record jobs.Record
	Action Action
	FireAt time.Time     // instant to arm; zero for prune and invalid
	Period time.Duration // zero for one-shot
	Missed int64         // periods skipped by a catch-up
	Err    error         // set for ActionInvalid
}

// Decide classifies r against now. It has no side effects.
func Decide(r jobs.Record, catalog *jobs.Catalog, now time.Time) Decision {
	d := Decision{Record: r}

	if !r.IsRecurring() {
		if r.NextFireAt.Before(now) {
			d.Action = ActionPrune
			return d
		}
		d.Action = ActionRearm
		d.FireAt = r.NextFireAt
		return d
	}

	period, err := catalog.DurationOf(r.Recurrence)
	if err != nil {
		d.Action = ActionInvalid
		d.Err = err
		return d
	}
	d.Period = period

	if !r.NextFireAt.Before(now) {
		d.Action = ActionRearm
		d.FireAt = r.NextFireAt
		return d
	}

	// k = floor((now - next) / P) + 1, so next + k*P > now.
	k := now.Sub(r.NextFireAt)/period + 1
	d.Action = ActionCatchUp
	d.FireAt = r.NextFireAt.Add(k * period)
	d.Missed = int64(k)
	return d
}

// Plan runs Decide over records with a single now. Used for dry runs.
func Plan(records []jobs.Record, catalog *jobs.Catalog, now time.Time) []Decision {
	out := make([]Decision, 0, len(records))
	for _, r := range records {
		out = append(out, Decide(r, catalog, now))
	}
	return out
}

// Report counts what Run did. Failed counts store or scheduler operations
// that failed; a caught-up job whose new instant could not be saved is
// still armed and counted in both CaughtUp and Failed.
type Report struct {
	Total    int
	Rearmed  int
	CaughtUp int
	Pruned   int
	Invalid  int
	Failed   int
}

// Engine runs recovery once per process.
type Engine struct {
	store     jobs.Store
	registrar Registrar
	catalog   *jobs.Catalog
	clock     clockwork.Clock
	log       *logger.Logger
	metrics   *metrics.Metrics

	ran atomic.Bool
}

// New creates an engine. m may be nil.
func New(store jobs.Store, registrar Registrar, catalog *jobs.Catalog, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:     store,
		registrar: registrar,
		catalog:   catalog,
		clock:     clock,
		log:       log.With(logger.Field{Key: "component", Value: "recovery"}),
		metrics:   m,
	}
}

// Run loads every stored job and re-arms, catches up or prunes it. Only a
// failure to list the store aborts; per-record failures are logged and
// counted.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report
	if !e.ran.CompareAndSwap(false, true) {
		return report, ErrAlreadyRan
	}

	records, err := e.store.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("recovery: load jobs: %w", err)
	}
	report.Total = len(records)

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.apply(ctx, Decide(r, e.catalog, e.clock.Now()), &report)
	}

	e.log.InfoCtx(ctx, "recovery complete",
		logger.Field{Key: "total", Value: report.Total},
		logger.Field{Key: "rearmed", Value: report.Rearmed},
		logger.Field{Key: "caught_up", Value: report.CaughtUp},
		logger.Field{Key: "pruned", Value: report.Pruned},
		logger.Field{Key: "invalid", Value: report.Invalid},
		logger.Field{Key: "failed", Value: report.Failed})

	return report, nil
}

func (e *Engine) apply(ctx context.Context, d Decision, report *Report) {
	r := d.Record
	fields := []logger.Field{
		{Key: "job_id", Value: r.ID},
		{Key: "chat_id", Value: r.OwnerChat},
		{Key: "recurrence", Value: r.Recurrence.String()},
	}

	switch d.Action {
	case ActionPrune:
		if err := e.store.Delete(ctx, r.ID); err != nil {
			// Left in place; the next boot prunes it again.
			e.log.ErrorCtx(ctx, "failed to prune expired one-shot job", err, fields...)
			e.fail(report)
			return
		}
		report.Pruned++
		e.metrics.RecordRecovery(metrics.OutcomePruned)
		e.log.InfoCtx(ctx, "pruned missed one-shot job",
			append(fields, logger.Field{Key: "was_due", Value: r.NextFireAt})...)

	case ActionInvalid:
		report.Invalid++
		e.metrics.RecordRecovery(metrics.OutcomeInvalid)
		e.log.ErrorCtx(ctx, "skipping job with unknown recurrence", d.Err, fields...)

	case ActionCatchUp:
		if err := e.store.UpdateNextFire(ctx, r.ID, d.FireAt); err != nil {
			e.log.ErrorCtx(ctx, "failed to persist caught-up fire time", err, fields...)
			e.fail(report)
		}
		if !e.register(ctx, d, fields, report) {
			return
		}
		report.CaughtUp++
		e.metrics.RecordRecovery(metrics.OutcomeCaughtUp)
		e.log.InfoCtx(ctx, "caught up recurring job",
			append(fields,
				logger.Field{Key: "missed_periods", Value: d.Missed},
				logger.Field{Key: "next_fire_at", Value: d.FireAt})...)

	case ActionRearm:
		if !e.register(ctx, d, fields, report) {
			return
		}
		report.Rearmed++
		e.metrics.RecordRecovery(metrics.OutcomeRearmed)
		e.log.DebugCtx(ctx, "re-armed job",
			append(fields, logger.Field{Key: "next_fire_at", Value: d.FireAt})...)
	}
}

func (e *Engine) register(ctx context.Context, d Decision, fields []logger.Field, report *Report) bool {
	r := d.Record
	meta := scheduler.Meta{OwnerChat: r.OwnerChat, OwnerUser: r.OwnerUser, Payload: r.Payload}

	var err error
	if d.Period > 0 {
		_, err = e.registrar.ScheduleRepeating(r.ID, d.FireAt, d.Period, meta)
	} else {
		_, err = e.registrar.ScheduleOnce(r.ID, d.FireAt, meta)
	}
	if err != nil {
		e.log.ErrorCtx(ctx, "failed to arm timer", err, fields...)
		e.fail(report)
		return false
	}
	return true
}

func (e *Engine) fail(report *Report) {
	report.Failed++
	e.metrics.RecordRecovery(metrics.OutcomeFailed)
}
