package main

import (
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "./config.toml"
	defaultEnvPath    = "./.env"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "theaccelbot",
	Short: "Telegram reminder bot",
	Long: `theaccelbot delivers one-shot and recurring reminders to Telegram chats.
Reminders are stored in SQLite and re-armed after a restart, skipping
occurrences that were missed while the bot was down.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
}
