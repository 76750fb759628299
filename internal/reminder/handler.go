// Package reminder connects the scheduler to the job store and the outside
// world: Handler runs on every timer expiry and Service is the entry point
// the command layer uses to create, list and cancel reminders.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
)

// Notifier delivers a payload to a chat.
type Notifier interface {
	Deliver(ctx context.Context, chat int64, payload string) error
}

// Handler is the scheduler's fire callback.
type Handler struct {
	store    jobs.Store
	notifier Notifier
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewHandler creates a fire handler. m may be nil.
func NewHandler(store jobs.Store, notifier Notifier, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		store:    store,
		notifier: notifier,
		clock:    clock,
		log:      log.With(logger.Field{Key: "component", Value: "fire"}),
		metrics:  m,
	}
}

// Fire delivers the payload and then advances or removes the stored job.
// A delivery failure is logged and does not stop the store update. A crash
// between delivery and the update redelivers on restart, so delivery is at
// least once.
//
// For a recurring job Fire returns the next instant it wrote to the store;
// the scheduler re-arms there. Otherwise it returns the zero time.
func (h *Handler) Fire(ctx context.Context, f scheduler.Fire) (time.Time, error) {
	start := h.clock.Now()
	defer func() { h.metrics.RecordFire(f.Recurring(), h.clock.Since(start)) }()

	fields := []logger.Field{
		{Key: "job_id", Value: f.JobID},
		{Key: "chat_id", Value: f.OwnerChat},
		{Key: "scheduled_at", Value: f.ScheduledAt},
	}

	var deliveryErr error
	if err := h.notifier.Deliver(ctx, f.OwnerChat, f.Payload); err != nil {
		deliveryErr = fmt.Errorf("job %s: %w", f.JobID, wrapDelivery(err))
		h.metrics.RecordDelivery(metrics.StatusFailed)
		h.log.ErrorCtx(ctx, "reminder delivery failed", err, fields...)
	} else {
		h.metrics.RecordDelivery(metrics.StatusDelivered)
		h.log.InfoCtx(ctx, "reminder delivered", fields...)
	}

	if _, err := h.store.Get(ctx, f.JobID); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			h.log.DebugCtx(ctx, "job cancelled during fire", fields...)
			return time.Time{}, deliveryErr
		}
		h.log.ErrorCtx(ctx, "failed to load fired job", err, fields...)
		return time.Time{}, errors.Join(deliveryErr, fmt.Errorf("load job %s: %w", f.JobID, err))
	}

	if !f.Recurring() {
		if err := h.store.Delete(ctx, f.JobID); err != nil {
			// The housekeeping sweep removes the leftover row.
			h.log.ErrorCtx(ctx, "failed to delete fired one-shot job", err, fields...)
			return time.Time{}, errors.Join(deliveryErr, fmt.Errorf("delete job %s: %w", f.JobID, err))
		}
		return time.Time{}, deliveryErr
	}

	next := jobs.NextAfter(f.ScheduledAt, f.Period, h.clock.Now())
	if err := h.store.UpdateNextFire(ctx, f.JobID, next); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return time.Time{}, deliveryErr
		}
		// Recovery recomputes the same instant from the stale row.
		h.log.ErrorCtx(ctx, "failed to advance recurring job", err, fields...)
		return next, errors.Join(deliveryErr, fmt.Errorf("advance job %s: %w", f.JobID, err))
	}
	h.log.DebugCtx(ctx, "recurring job advanced", append(fields, logger.Field{Key: "next_fire_at", Value: next})...)

	return next, deliveryErr
}

func wrapDelivery(err error) error {
	if errors.Is(err, jobs.ErrDeliveryFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", jobs.ErrDeliveryFailure, err)
}
