package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/jobs/jobstest"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
)

type fixture struct {
	store    *jobstest.MemStore
	clock    *clockwork.FakeClock
	sched    *scheduler.Scheduler
	svc      *Service
	notifier *mockNotifier
}

func newFixture(t *testing.T, seed ...jobs.Record) *fixture {
	t.Helper()
	f := &fixture{
		store:    jobstest.NewMemStore(seed...),
		clock:    clockwork.NewFakeClockAt(epoch),
		notifier: &mockNotifier{},
	}
	h := NewHandler(f.store, f.notifier, f.clock, logger.Nop(), nil)
	f.sched = scheduler.New(f.clock, h.Fire, logger.Nop(), scheduler.Options{Workers: 2})
	require.NoError(t, f.sched.Start())
	t.Cleanup(f.sched.Stop)

	f.svc = NewService(f.store, f.sched, jobs.DefaultCatalog(), f.clock, logger.Nop(), nil)
	f.svc.MarkReady()
	return f
}

func (f *fixture) expectDeliveries(chat int64, payload string) chan struct{} {
	delivered := make(chan struct{}, 16)
	f.notifier.On("Deliver", mock.Anything, chat, payload).
		Run(func(mock.Arguments) { delivered <- struct{}{} }).
		Return(nil)
	return delivered
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestService_NotReady(t *testing.T) {
	svc := NewService(jobstest.NewMemStore(), nil, jobs.DefaultCatalog(), clockwork.NewFakeClock(), logger.Nop(), nil)

	_, err := svc.CreateOnce(context.Background(), 1, 1, "x", epoch)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = svc.CreateRecurring(context.Background(), 1, 1, "x", jobs.RecurrenceDaily, epoch)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "x"), ErrNotReady)
	_, err = svc.SweepOrphans(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, svc.Ready())
}

func TestService_OneShotFiresOnceAndIsRemoved(t *testing.T) {
	f := newFixture(t)
	delivered := f.expectDeliveries(42, "stretch")

	r, err := f.svc.CreateOnce(context.Background(), 42, 7, "stretch", epoch.Add(10*time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.True(t, f.store.Has(r.ID))

	blockUntil(t, f.clock, 1)
	f.clock.Advance(10 * time.Second)
	waitFor(t, delivered)

	assert.Eventually(t, func() bool { return !f.store.Has(r.ID) && f.sched.Len() == 0 }, 5*time.Second, time.Millisecond)
	_, err = f.store.Get(context.Background(), r.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	f.notifier.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestService_RecurringFiresImmediatelyThenEveryPeriod(t *testing.T) {
	f := newFixture(t)
	delivered := f.expectDeliveries(5, "water")

	r, err := f.svc.CreateRecurring(context.Background(), 5, 5, "water", jobs.RecurrenceHourly, f.clock.Now())
	require.NoError(t, err)
	waitFor(t, delivered)

	assert.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), r.ID)
		return err == nil && got.NextFireAt.Equal(epoch.Add(time.Hour))
	}, 5*time.Second, time.Millisecond)

	blockUntil(t, f.clock, 1)
	f.clock.Advance(time.Hour)
	waitFor(t, delivered)

	assert.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), r.ID)
		return err == nil && got.NextFireAt.Equal(epoch.Add(2*time.Hour))
	}, 5*time.Second, time.Millisecond)
}

func TestService_CreateRecurringRejectsUnknownLabel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRecurring(context.Background(), 1, 1, "x", jobs.Recurrence("yearly"), epoch)
	assert.ErrorIs(t, err, jobs.ErrRecurrenceUnknown)
	assert.Equal(t, 0, f.store.Len())
}

func TestService_CreateRollsBackWhenSchedulingFails(t *testing.T) {
	f := newFixture(t)
	f.sched.Stop()

	_, err := f.svc.CreateOnce(context.Background(), 1, 1, "x", epoch.Add(time.Hour))
	assert.ErrorIs(t, err, scheduler.ErrNotRunning)
	assert.Equal(t, 0, f.store.Len())
}

func TestService_CreateStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailCreate = errors.New("disk full")

	_, err := f.svc.CreateOnce(context.Background(), 1, 1, "x", epoch.Add(time.Hour))
	assert.ErrorIs(t, err, f.store.FailCreate)
	assert.Equal(t, 0, f.sched.Len())
}

func TestService_ListAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, p := range []string{"first", "second", "third"} {
		r, err := f.svc.CreateOnce(ctx, 9, 1, p, epoch.Add(time.Hour))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err := f.svc.CreateOnce(ctx, 10, 1, "elsewhere", epoch.Add(time.Hour))
	require.NoError(t, err)

	list, err := f.svc.List(ctx, 9)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Payload)

	r, err := f.svc.Resolve(ctx, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[1], r.ID)

	_, err = f.svc.Resolve(ctx, 9, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.svc.Resolve(ctx, 9, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestService_CancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.CreateRecurring(ctx, 3, 3, "daily", jobs.RecurrenceDaily, epoch.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, r.ID))
	require.NoError(t, f.svc.Cancel(ctx, r.ID))
	require.NoError(t, f.svc.Cancel(ctx, "unknown"))

	assert.False(t, f.store.Has(r.ID))
	assert.False(t, f.sched.Armed(r.ID))

	f.clock.Advance(48 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	f.notifier.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CancelDisarmsEvenWhenDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.CreateOnce(ctx, 3, 3, "x", epoch.Add(time.Hour))
	require.NoError(t, err)

	boom := errors.New("database is locked")
	f.store.SetFailDelete(boom)
	assert.ErrorIs(t, f.svc.Cancel(ctx, r.ID), boom)
	assert.False(t, f.sched.Armed(r.ID))
	assert.True(t, f.store.Has(r.ID))

	// The leftover row is an orphan.
	f.store.SetFailDelete(nil)
	swept, err := f.svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.False(t, f.store.Has(r.ID))
}

func TestService_SweepOrphansKeepsArmedAndInvalid(t *testing.T) {
	f := newFixture(t,
		jobs.Record{ID: "orphan", OwnerChat: 1, NextFireAt: epoch.Add(time.Hour)},
		jobs.Record{ID: "bad-label", OwnerChat: 1, Recurrence: jobs.Recurrence("monthly"), NextFireAt: epoch},
	)
	ctx := context.Background()

	r, err := f.svc.CreateOnce(ctx, 1, 1, "live", epoch.Add(time.Hour))
	require.NoError(t, err)

	swept, err := f.svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.False(t, f.store.Has("orphan"))
	assert.True(t, f.store.Has("bad-label"))
	assert.True(t, f.store.Has(r.ID))

	n, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
