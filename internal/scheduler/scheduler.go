// Package scheduler is the in-memory timer facility. It arms one timer per
// job, runs fire callbacks on a worker pool and re-arms repeating jobs only
// after their previous fire has returned, so fires of one job never overlap.
//
// The scheduler never touches persistent storage; keeping the store in step
// is the caller's job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/workers"
)

var (
	// ErrNotRunning is returned when scheduling before Start or after Stop.
	ErrNotRunning = errors.New("scheduler not running")
	// ErrInvalidPeriod is returned for a repeating job with period <= 0.
	ErrInvalidPeriod = errors.New("period must be positive")
)

// Meta is the data handed back to the fire callback.
type Meta struct {
	OwnerChat int64
	OwnerUser int64
	Payload   string
}

// Fire describes one timer expiry.
type Fire struct {
	JobID       string
	OwnerChat   int64
	OwnerUser   int64
	Payload     string
	ScheduledAt time.Time
	Period      time.Duration // zero for one-shot jobs
}

// Recurring reports whether the fire belongs to a repeating job.
func (f Fire) Recurring() bool {
	return f.Period > 0
}

// FireFunc handles a fire. For a repeating job it returns the next instant
// it recorded and the timer is re-armed there; a zero time leaves the
// choice to the scheduler. A returned error is logged only.
type FireFunc func(ctx context.Context, f Fire) (time.Time, error)

// Handle identifies a registered timer.
type Handle struct {
	id   string
	chat int64
	seq  uint64
}

func (h Handle) ID() string       { return h.id }
func (h Handle) OwnerChat() int64 { return h.chat }

type entryState int

const (
	stateScheduled entryState = iota
	stateFiring
	stateCancelled
)

type entry struct {
	handle Handle
	meta   Meta
	period time.Duration
	next   time.Time
	timer  clockwork.Timer
	state  entryState
}

// Options configures a Scheduler.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   *metrics.Metrics
}

// Scheduler owns every armed timer in the process.
type Scheduler struct {
	clock   clockwork.Clock
	fire    FireFunc
	pool    *workers.Pool
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	stopped bool
	seq     uint64
	entries map[string]*entry
}

// New creates a stopped scheduler.
func New(clock clockwork.Clock, fire FireFunc, log *logger.Logger, opts Options) *Scheduler {
	log = log.With(logger.Field{Key: "component", Value: "scheduler"})
	return &Scheduler{
		clock:   clock,
		fire:    fire,
		pool:    workers.NewPool(opts.Workers, opts.QueueSize, log),
		log:     log,
		metrics: opts.Metrics,
		entries: make(map[string]*entry),
	}
}

// Start begins accepting registrations. A stopped scheduler cannot be
// restarted.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("start: %w", ErrNotRunning)
	}
	if s.running {
		return nil
	}
	s.pool.Start()
	s.running = true
	s.log.Info("scheduler started")
	return nil
}

// Stop disarms every timer and waits for fires already dispatched to
// finish. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	armed := len(s.entries)
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.state = stateCancelled
		delete(s.entries, id)
	}
	s.metrics.SetArmedTimers(0)
	s.mu.Unlock()

	s.pool.Stop()
	s.log.Info("scheduler stopped", logger.Field{Key: "disarmed", Value: armed})
}

// NewID returns a fresh job id.
func (s *Scheduler) NewID() string {
	return uuid.NewString()
}

// ScheduleOnce arms a one-shot timer. Instants in the past fire at once.
func (s *Scheduler) ScheduleOnce(id string, at time.Time, meta Meta) (Handle, error) {
	return s.register(id, at, 0, meta)
}

// ScheduleRepeating arms a timer that fires at first and then every period
// until cancelled.
func (s *Scheduler) ScheduleRepeating(id string, first time.Time, period time.Duration, meta Meta) (Handle, error) {
	if period <= 0 {
		return Handle{}, fmt.Errorf("schedule %s: %w", id, ErrInvalidPeriod)
	}
	return s.register(id, first, period, meta)
}

func (s *Scheduler) register(id string, at time.Time, period time.Duration, meta Meta) (Handle, error) {
	if id == "" {
		return Handle{}, errors.New("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Handle{}, fmt.Errorf("schedule %s: %w", id, ErrNotRunning)
	}
	if _, exists := s.entries[id]; exists {
		return Handle{}, fmt.Errorf("schedule %s: %w", id, jobs.ErrDuplicateID)
	}

	s.seq++
	e := &entry{
		handle: Handle{id: id, chat: meta.OwnerChat, seq: s.seq},
		meta:   meta,
		period: period,
		next:   at.UTC(),
		state:  stateScheduled,
	}
	s.entries[id] = e
	s.arm(e)
	s.metrics.SetArmedTimers(len(s.entries))

	s.log.Debug("timer armed",
		logger.Field{Key: "job_id", Value: id},
		logger.Field{Key: "chat_id", Value: meta.OwnerChat},
		logger.Field{Key: "fire_at", Value: e.next},
		logger.Field{Key: "period", Value: period.String()})

	return e.handle, nil
}

// arm starts the timer for e.next. Caller holds s.mu.
func (s *Scheduler) arm(e *entry) {
	delay := e.next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.timer = s.clock.AfterFunc(delay, func() { s.onTimer(e) })
}

func (s *Scheduler) onTimer(e *entry) {
	s.mu.Lock()
	if !s.running || s.entries[e.handle.id] != e || e.state != stateScheduled {
		s.mu.Unlock()
		return
	}
	e.state = stateFiring
	f := Fire{
		JobID:       e.handle.id,
		OwnerChat:   e.meta.OwnerChat,
		OwnerUser:   e.meta.OwnerUser,
		Payload:     e.meta.Payload,
		ScheduledAt: e.next,
		Period:      e.period,
	}
	s.mu.Unlock()

	task := workers.Task{
		ID:   f.JobID,
		Type: "fire",
		Run: func(ctx context.Context) error {
			var (
				next time.Time
				err  error
			)
			defer func() { s.afterFire(e, next) }()
			next, err = s.fire(ctx, f)
			return err
		},
	}
	if err := s.pool.Submit(context.Background(), task); err != nil {
		s.log.Warn("fire dropped",
			logger.Field{Key: "job_id", Value: f.JobID},
			logger.Field{Key: "error", Value: err.Error()})
		s.afterFire(e, time.Time{})
	}
}

// afterFire removes a finished one-shot entry or re-arms a repeating one at
// planned, falling back to the next period after now.
func (s *Scheduler) afterFire(e *entry, planned time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[e.handle.id] != e || e.state != stateFiring {
		return
	}
	if e.period == 0 || !s.running {
		delete(s.entries, e.handle.id)
		s.metrics.SetArmedTimers(len(s.entries))
		return
	}

	if planned.After(e.next) {
		e.next = planned
	} else {
		e.next = jobs.NextAfter(e.next, e.period, s.clock.Now())
	}
	e.state = stateScheduled
	s.arm(e)
}

// Cancel disarms h. Cancelling an unknown or already cancelled handle is
// a no-op. A fire already running completes but is not re-armed.
func (s *Scheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h.id]
	if !ok || (h.seq != 0 && e.handle.seq != h.seq) {
		return
	}
	s.cancelLocked(e)
}

// CancelID disarms the timer registered under id, if any.
func (s *Scheduler) CancelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		s.cancelLocked(e)
	}
}

func (s *Scheduler) cancelLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = stateCancelled
	delete(s.entries, e.handle.id)
	s.metrics.SetArmedTimers(len(s.entries))

	s.log.Debug("timer cancelled", logger.Field{Key: "job_id", Value: e.handle.id})
}

// JobsForOwner returns the chat's handles in registration order.
func (s *Scheduler) JobsForOwner(chat int64) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Handle
	for _, e := range s.entries {
		if e.handle.chat == chat {
			out = append(out, e.handle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Lookup returns the handle registered under id.
func (s *Scheduler) Lookup(id string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Handle{}, false
	}
	return e.handle, true
}

// Armed reports whether a timer is registered under id.
func (s *Scheduler) Armed(id string) bool {
	_, ok := s.Lookup(id)
	return ok
}

// NextFire returns the instant the job is armed for.
func (s *Scheduler) NextFire(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Running reports whether the scheduler accepts registrations.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
