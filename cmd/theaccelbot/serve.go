package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lazarusking/theaccelbot/internal/app"
	"github.com/lazarusking/theaccelbot/internal/config"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/version"
)

var (
	serveConfigPath string
	serveLogLevel   string
	serveDryRun     bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reminder bot (main command)",
	Long: `Start the reminder bot with the specified configuration.
Stored reminders are recovered before any command is accepted. SIGINT or
SIGTERM trigger a graceful shutdown.

With --dry-run reminders are written to the log instead of Telegram and no
token is required.`,
	RunE: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvOptional(defaultEnvPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", defaultEnvPath, err)
	}

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}

	if errs := validate(cfg, serveDryRun); len(errs) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Configuration validation failed:")
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
		return fmt.Errorf("%d configuration errors", len(errs))
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info(version.FormatStartupMessage(),
		logger.Field{Key: "config", Value: serveConfigPath},
		logger.Field{Key: "storage", Value: cfg.Storage.Path},
		logger.Field{Key: "dry_run", Value: serveDryRun})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, log, app.Options{DryRun: serveDryRun}).Run(ctx); err != nil {
		log.Error("application stopped with error", err)
		return err
	}

	log.Info("stopped gracefully")
	return nil
}

// validate runs config validation. A dry run does not talk to Telegram, so
// token problems are ignored.
func validate(cfg *config.Config, dryRun bool) []error {
	var out []error
	for _, err := range cfg.Validate() {
		var verr *config.ValidationError
		if dryRun && errors.As(err, &verr) && verr.Field == "telegram.token" {
			continue
		}
		out = append(out, err)
	}
	return out
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", defaultConfigPath, "Path to configuration file")
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Log reminders instead of sending them")
}
