package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
	"github.com/lazarusking/theaccelbot/internal/recovery"
	"github.com/lazarusking/theaccelbot/internal/storage"
)

var (
	jobsConfigPath string
	jobsChat       int64
	jobsOutput     string
)

// jobsCmd groups commands that read the job store directly.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored reminders",
	Long: `Inspect the reminder database without starting the bot. These commands
never modify the store.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *storage.SQLiteStore) error {
			var (
				records []jobs.Record
				err     error
			)
			if cmd.Flags().Changed("chat") {
				records, err = store.ListByOwner(ctx, jobsChat)
			} else {
				records, err = store.ListAll(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			return printRecords(cmd.OutOrStdout(), records, jobsOutput)
		})
	},
}

var jobsPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what startup recovery would do now",
	Long: `Compute the recovery decision for every stored reminder as if the bot
started now: re-arm, catch up past missed occurrences, prune expired
one-shots or skip records with an unknown recurrence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *storage.SQLiteStore) error {
			records, err := store.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			plan := recovery.Plan(records, jobs.DefaultCatalog(), time.Now())
			return printPlan(cmd.OutOrStdout(), plan)
		})
	},
}

func withStore(ctx context.Context, fn func(context.Context, *storage.SQLiteStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig([]string{jobsConfigPath})
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Storage.Path, storage.Options{
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMS) * time.Millisecond,
	}, logger.Nop())
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func printRecords(w io.Writer, records []jobs.Record, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(records)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCHAT\tUSER\tREPEATS\tNEXT FIRE\tPAYLOAD")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
				r.ID, r.OwnerChat, r.OwnerUser, r.Recurrence, r.NextFireAt.UTC().Format(time.DateTime), r.Payload)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (expected table, json or yaml)", format)
	}
}

func printPlan(w io.Writer, plan []recovery.Decision) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPEATS\tACTION\tFIRE AT\tMISSED\tNOTE")
	for _, d := range plan {
		fireAt := "-"
		if !d.FireAt.IsZero() {
			fireAt = d.FireAt.UTC().Format(time.DateTime)
		}
		note := ""
		if d.Err != nil {
			note = d.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.Record.ID, d.Record.Recurrence, d.Action, fireAt, d.Missed, note)
	}
	return tw.Flush()
}

func init() {
	jobsCmd.PersistentFlags().StringVarP(&jobsConfigPath, "config", "c", defaultConfigPath, "Path to configuration file")
	jobsListCmd.Flags().Int64Var(&jobsChat, "chat", 0, "Only list reminders owned by this chat")
	jobsListCmd.Flags().StringVarP(&jobsOutput, "output", "o", "table", "Output format: table, json or yaml")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsPlanCmd)
}
