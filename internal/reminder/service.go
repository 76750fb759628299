package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
)

var (
	// ErrNotReady is returned by mutating calls before recovery completes.
	ErrNotReady = errors.New("reminder service not ready")
	// ErrIndexOutOfRange is returned by Resolve for an index past the list.
	ErrIndexOutOfRange = errors.New("no reminder at that index")
)

// Timers is the part of the scheduler the service drives.
type Timers interface {
	NewID() string
	ScheduleOnce(id string, at time.Time, meta scheduler.Meta) (scheduler.Handle, error)
	ScheduleRepeating(id string, first time.Time, period time.Duration, meta scheduler.Meta) (scheduler.Handle, error)
	CancelID(id string)
	Armed(id string) bool
}

// Service creates, lists and cancels reminders, keeping the store and the
// scheduler in step.
type Service struct {
	store   jobs.Store
	timers  Timers
	catalog *jobs.Catalog
	clock   clockwork.Clock
	log     *logger.Logger
	metrics *metrics.Metrics

	ready atomic.Bool
	// mu serializes create and cancel with the orphan sweep.
	mu sync.Mutex
}

// NewService creates a service that rejects changes until MarkReady.
func NewService(store jobs.Store, timers Timers, catalog *jobs.Catalog, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		timers:  timers,
		catalog: catalog,
		clock:   clock,
		log:     log.With(logger.Field{Key: "component", Value: "reminders"}),
		metrics: m,
	}
}

// MarkReady opens the service once recovery has run.
func (s *Service) MarkReady() {
	s.ready.Store(true)
}

// Ready reports whether MarkReady was called.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Catalog returns the recurrence catalog the service validates against.
func (s *Service) Catalog() *jobs.Catalog {
	return s.catalog
}

// CreateOnce stores and arms a one-shot reminder firing at at.
func (s *Service) CreateOnce(ctx context.Context, chat, user int64, payload string, at time.Time) (jobs.Record, error) {
	return s.create(ctx, jobs.Record{
		OwnerChat:  chat,
		OwnerUser:  user,
		Payload:    payload,
		Recurrence: jobs.RecurrenceNone,
		NextFireAt: at.UTC(),
	}, 0)
}

// CreateRecurring stores and arms a reminder firing at first and then every
// period of recurrence.
func (s *Service) CreateRecurring(ctx context.Context, chat, user int64, payload string, recurrence jobs.Recurrence, first time.Time) (jobs.Record, error) {
	period, err := s.catalog.DurationOf(recurrence)
	if err != nil {
		return jobs.Record{}, err
	}
	return s.create(ctx, jobs.Record{
		OwnerChat:  chat,
		OwnerUser:  user,
		Payload:    payload,
		Recurrence: recurrence,
		NextFireAt: first.UTC(),
	}, period)
}

func (s *Service) create(ctx context.Context, r jobs.Record, period time.Duration) (jobs.Record, error) {
	if !s.Ready() {
		return jobs.Record{}, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.timers.NewID()
	if _, err := s.store.Create(ctx, r); err != nil {
		return jobs.Record{}, fmt.Errorf("store reminder: %w", err)
	}

	meta := scheduler.Meta{OwnerChat: r.OwnerChat, OwnerUser: r.OwnerUser, Payload: r.Payload}
	var err error
	if period > 0 {
		_, err = s.timers.ScheduleRepeating(r.ID, r.NextFireAt, period, meta)
	} else {
		_, err = s.timers.ScheduleOnce(r.ID, r.NextFireAt, meta)
	}
	if err != nil {
		if delErr := s.store.Delete(ctx, r.ID); delErr != nil {
			s.log.ErrorCtx(ctx, "failed to roll back unscheduled reminder", delErr,
				logger.Field{Key: "job_id", Value: r.ID})
		}
		return jobs.Record{}, fmt.Errorf("schedule reminder: %w", err)
	}

	s.log.InfoCtx(ctx, "reminder created",
		logger.Field{Key: "job_id", Value: r.ID},
		logger.Field{Key: "chat_id", Value: r.OwnerChat},
		logger.Field{Key: "user_id", Value: r.OwnerUser},
		logger.Field{Key: "recurrence", Value: r.Recurrence.String()},
		logger.Field{Key: "next_fire_at", Value: r.NextFireAt})

	return r, nil
}

// List returns the chat's reminders in creation order.
func (s *Service) List(ctx context.Context, chat int64) ([]jobs.Record, error) {
	return s.store.ListByOwner(ctx, chat)
}

// Resolve maps the zero-based position shown to users to a record.
func (s *Service) Resolve(ctx context.Context, chat int64, index int) (jobs.Record, error) {
	list, err := s.store.ListByOwner(ctx, chat)
	if err != nil {
		return jobs.Record{}, err
	}
	if index < 0 || index >= len(list) {
		return jobs.Record{}, fmt.Errorf("index %d of %d: %w", index, len(list), ErrIndexOutOfRange)
	}
	return list[index], nil
}

// Cancel disarms the timer and then deletes the stored job. Cancelling an
// unknown id is not an error.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if !s.Ready() {
		return ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers.CancelID(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	s.log.InfoCtx(ctx, "reminder cancelled", logger.Field{Key: "job_id", Value: id})
	return nil
}

// SweepOrphans deletes stored jobs that have no armed timer. They are left
// behind when a store delete fails after a cancel or a one-shot fire.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	if !s.Ready() {
		return 0, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	swept := 0
	for _, r := range records {
		if s.timers.Armed(r.ID) {
			continue
		}
		// Jobs with an unknown recurrence were never armed; keep them for
		// an operator to inspect.
		if r.IsRecurring() {
			if _, err := s.catalog.DurationOf(r.Recurrence); err != nil {
				continue
			}
		}
		if err := s.store.Delete(ctx, r.ID); err != nil {
			s.log.WarnCtx(ctx, "failed to sweep orphaned job",
				logger.Field{Key: "job_id", Value: r.ID},
				logger.Field{Key: "error", Value: err.Error()})
			continue
		}
		swept++
		s.log.InfoCtx(ctx, "swept orphaned job",
			logger.Field{Key: "job_id", Value: r.ID},
			logger.Field{Key: "chat_id", Value: r.OwnerChat})
	}
	s.metrics.AddOrphansSwept(swept)
	return swept, nil
}

// Count returns the number of stored jobs.
func (s *Service) Count(ctx context.Context) (int, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
