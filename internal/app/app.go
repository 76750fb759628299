// Package app wires the reminder bot together and owns its lifecycle:
// storage, the scheduler, startup recovery, housekeeping, metrics and the
// Telegram front end.
package app

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lazarusking/theaccelbot/internal/config"
	"github.com/lazarusking/theaccelbot/internal/housekeeping"
	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/metrics"
	"github.com/lazarusking/theaccelbot/internal/recovery"
	"github.com/lazarusking/theaccelbot/internal/reminder"
	"github.com/lazarusking/theaccelbot/internal/scheduler"
	"github.com/lazarusking/theaccelbot/internal/storage"
	"github.com/lazarusking/theaccelbot/internal/telegram"
)

// Options adjust how the application is assembled.
type Options struct {
	// DryRun logs reminders instead of sending them and skips polling.
	DryRun bool
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Bot replaces the Telegram client built from the configured token.
	Bot telegram.BotInterface
}

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	config *config.Config
	logger *logger.Logger
	opts   Options
	clock  clockwork.Clock

	// Observability
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	// Jobs
	catalog   *jobs.Catalog
	store     *storage.SQLiteStore
	scheduler *scheduler.Scheduler
	service   *reminder.Service
	recovery  recovery.Report

	housekeeping *housekeeping.Runner
	bot          *telegram.Bot

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	started bool
}

// New creates a new App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger, opts Options) *App {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		config:  cfg,
		logger:  log,
		opts:    opts,
		clock:   clock,
		catalog: jobs.DefaultCatalog(),
	}
}

// Run initializes every component, blocks until ctx is cancelled and then
// shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			a.logger.Error("cleanup after failed start", shutdownErr)
		}
		return err
	}

	a.logger.Info("application is running",
		logger.Field{Key: "dry_run", Value: a.opts.DryRun},
		logger.Field{Key: "armed_timers", Value: a.scheduler.Len()})

	<-ctx.Done()

	return a.Shutdown()
}

// Service returns the reminder service, nil before Initialize.
func (a *App) Service() *reminder.Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.service
}

// Scheduler returns the timer scheduler, nil before Initialize.
func (a *App) Scheduler() *scheduler.Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scheduler
}

// RecoveryReport returns the outcome of the startup recovery pass.
func (a *App) RecoveryReport() recovery.Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.recovery
}

// Started reports whether Initialize completed and Shutdown has not run.
func (a *App) Started() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}
