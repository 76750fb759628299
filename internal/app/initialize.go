package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lazarusking/theaccelbot/internal/housekeeping"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/notify"
	"github.com/lazarusking/theaccelbot/internal/recovery"
	"github.com/lazarusking/theaccelbot/internal/reminder"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
	"github.com/lazarusking/theaccelbot/internal/storage"
	"github.com/lazarusking/theaccelbot/internal/telegram"
)

// Initialize builds and starts every component. Reminders become
// manageable only after the recovery pass has re-armed stored jobs.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("application already initialized")
	}

	// 1. Create application context
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 2. Metrics registry
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.config.Metrics.Namespace, a.registry)

	// 3. Job store
	store, err := storage.Open(a.ctx, a.config.Storage.Path, storage.Options{
		BusyTimeout: time.Duration(a.config.Storage.BusyTimeoutMS) * time.Millisecond,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	a.store = store

	// 4. Telegram client and notifier
	api := a.opts.Bot
	if api == nil && !a.opts.DryRun {
		api, err = telegram.NewBot(a.config.Telegram.Token)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
	}
	var notifier reminder.Notifier
	if a.opts.DryRun {
		notifier = notify.NewLog(a.logger)
	} else {
		notifier = notify.NewTelegram(api, notify.Options{
			SendTimeout:   a.config.Telegram.SendTimeout(),
			RatePerSecond: a.config.Telegram.RateLimitPerSecond,
			Burst:         a.config.Telegram.RateBurst,
			Retry:         a.config.Retry.Policy(),
		}, a.logger)
	}

	// 5. Scheduler with the fire handler
	handler := reminder.NewHandler(a.store, notifier, a.clock, a.logger, a.metrics)
	a.scheduler = scheduler.New(a.clock, handler.Fire, a.logger, scheduler.Options{
		Workers:   a.config.Scheduler.Workers,
		QueueSize: a.config.Scheduler.QueueSize,
		Metrics:   a.metrics,
	})
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 6. Reminder service, closed until recovery finishes
	a.service = reminder.NewService(a.store, a.scheduler, a.catalog, a.clock, a.logger, a.metrics)

	// 7. Recovery
	report, err := recovery.New(a.store, a.scheduler, a.catalog, a.clock, a.logger, a.metrics).Run(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stored jobs: %w", err)
	}
	a.recovery = report
	a.service.MarkReady()

	// 8. Housekeeping
	if a.config.Housekeeping.Enabled {
		runner, err := housekeeping.New(a.config.Housekeeping.Schedule, a.service, a.logger, a.metrics)
		if err != nil {
			return fmt.Errorf("failed to create housekeeping: %w", err)
		}
		if err := runner.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start housekeeping: %w", err)
		}
		a.housekeeping = runner
	}

	// 9. Metrics endpoint
	if a.config.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(a.config.Metrics.Listen, a.registry, a.logger)
		a.metricsServer.Start()
	}

	// 10. Telegram front end
	if api != nil {
		a.bot = telegram.New(api, a.service, a.catalog, a.clock, telegram.Options{
			AllowedUsers:   a.config.Telegram.AllowedUsers,
			GroupID:        a.config.Telegram.GroupID,
			PersonalUserID: a.config.Telegram.PersonalUserID,
			PollTimeout:    a.config.Telegram.PollTimeoutSeconds,
		}, a.logger, a.metrics)
		if err := a.bot.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start telegram bot: %w", err)
		}
		if !a.opts.DryRun {
			a.done = make(chan struct{})
			go a.poll(a.ctx, a.done)
		}
	}

	a.started = true
	a.logger.Info("application initialized",
		logger.Field{Key: "recovered", Value: report.Total},
		logger.Field{Key: "pruned", Value: report.Pruned})

	return nil
}

func (a *App) poll(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if err := a.bot.Run(ctx); err != nil {
		a.logger.ErrorCtx(ctx, "telegram polling stopped", err)
	}
}
