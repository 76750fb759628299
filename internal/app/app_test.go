package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazarusking/theaccelbot/internal/config"
	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/storage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Helper function to create test config
func createTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "jobs.db")
	cfg.Housekeeping.Schedule = "@every 1h"
	return cfg
}

func seed(t *testing.T, path string, records ...jobs.Record) {
	t.Helper()

	store, err := storage.Open(context.Background(), path, storage.Options{}, logger.Nop())
	require.NoError(t, err)
	defer store.Close()
	for _, r := range records {
		_, err := store.Create(context.Background(), r)
		require.NoError(t, err)
	}
}

func stored(t *testing.T, path string) map[string]jobs.Record {
	t.Helper()

	store, err := storage.Open(context.Background(), path, storage.Options{}, logger.Nop())
	require.NoError(t, err)
	defer store.Close()
	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	out := make(map[string]jobs.Record, len(all))
	for _, r := range all {
		out[r.ID] = r
	}
	return out
}

// stubBot answers the Telegram calls the application makes.
type stubBot struct {
	mu   sync.Mutex
	sent []*telego.SendMessageParams
}

func (b *stubBot) GetMe(context.Context) (*telego.User, error) {
	return &telego.User{ID: 1, Username: "accel_bot", IsBot: true}, nil
}

func (b *stubBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, params)
	return &telego.Message{MessageID: len(b.sent)}, nil
}

func (b *stubBot) SetMyCommands(context.Context, *telego.SetMyCommandsParams) error {
	return nil
}

func (b *stubBot) UpdatesViaLongPolling(ctx context.Context, _ *telego.GetUpdatesParams, _ ...telego.LongPollingOption) (<-chan telego.Update, error) {
	updates := make(chan telego.Update)
	go func() {
		<-ctx.Done()
		close(updates)
	}()
	return updates, nil
}

func (b *stubBot) GetChatAdministrators(context.Context, *telego.GetChatAdministratorsParams) ([]telego.ChatMember, error) {
	return nil, nil
}

func (b *stubBot) GetChatMember(context.Context, *telego.GetChatMemberParams) (telego.ChatMember, error) {
	return &telego.ChatMemberMember{Status: telego.MemberStatusMember}, nil
}

func (b *stubBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, p := range b.sent {
		out = append(out, p.Text)
	}
	return out
}

func TestNew(t *testing.T) {
	cfg := createTestConfig(t)
	a := New(cfg, logger.Nop(), Options{DryRun: true})

	require.NotNil(t, a)
	assert.Equal(t, cfg, a.config)
	assert.NotNil(t, a.clock)
	assert.NotNil(t, a.catalog)
	assert.False(t, a.Started())
	assert.Nil(t, a.Service())
}

func TestApp_InitializeRecoversStoredJobs(t *testing.T) {
	cfg := createTestConfig(t)
	seed(t, cfg.Storage.Path,
		jobs.Record{ID: "old", OwnerChat: 1, OwnerUser: 1, Payload: "missed", NextFireAt: epoch.Add(-time.Hour)},
		jobs.Record{ID: "soon", OwnerChat: 1, OwnerUser: 1, Payload: "later", NextFireAt: epoch.Add(time.Hour)},
		jobs.Record{ID: "hourly", OwnerChat: 2, OwnerUser: 2, Payload: "stretch", Recurrence: jobs.RecurrenceHourly, NextFireAt: epoch.Add(-3*time.Hour - 30*time.Minute)},
	)

	a := New(cfg, logger.Nop(), Options{DryRun: true, Clock: clockwork.NewFakeClockAt(epoch)})
	require.NoError(t, a.Initialize(context.Background()))
	assert.Error(t, a.Initialize(context.Background()))

	report := a.RecoveryReport()
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 1, report.Rearmed)
	assert.Equal(t, 1, report.CaughtUp)

	assert.True(t, a.Started())
	assert.True(t, a.Service().Ready())
	assert.True(t, a.Scheduler().Armed("soon"))
	next, ok := a.Scheduler().NextFire("hourly")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(30*time.Minute), next)

	require.NoError(t, a.Shutdown())
	assert.False(t, a.Started())
	assert.NoError(t, a.Shutdown())

	rows := stored(t, cfg.Storage.Path)
	assert.NotContains(t, rows, "old")
	assert.Contains(t, rows, "soon")
	assert.True(t, epoch.Add(30*time.Minute).Equal(rows["hourly"].NextFireAt))
}

func TestApp_DeliversThroughTelegram(t *testing.T) {
	cfg := createTestConfig(t)
	clock := clockwork.NewFakeClockAt(epoch)
	bot := &stubBot{}

	a := New(cfg, logger.Nop(), Options{Clock: clock, Bot: bot})
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Shutdown()

	_, err := a.Service().CreateOnce(context.Background(), 42, 7, "stand up", epoch.Add(10*time.Second))
	require.NoError(t, err)

	clock.Advance(10 * time.Second)

	assert.Eventually(t, func() bool { return len(bot.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stand up"}, bot.texts())
	assert.Eventually(t, func() bool {
		n, err := a.Service().Count(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApp_Run_ContextCancellation(t *testing.T) {
	cfg := createTestConfig(t)
	a := New(cfg, logger.Nop(), Options{DryRun: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	assert.Eventually(t, a.Started, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, a.Started())
}

func TestApp_Run_InitializeError(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.Storage.Path = ""
	a := New(cfg, logger.Nop(), Options{DryRun: true})

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job store")
	assert.False(t, a.Started())
}

func TestApp_InvalidHousekeepingSchedule(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.Housekeeping.Schedule = "whenever"
	a := New(cfg, logger.Nop(), Options{DryRun: true})

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "housekeeping")
}
