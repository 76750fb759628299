// Package config provides configuration loading and validation for theaccelbot.
// It reads a TOML file with environment variable expansion, applies defaults
// and lets the bot's historical environment variables override the file.
//
// Configuration structure:
//   - [telegram]: bot token, authorization and delivery settings
//   - [storage]: SQLite job database location
//   - [scheduler]: fire worker pool sizing
//   - [retry]: delivery retry policy
//   - [logging]: level, format, output and rotation
//   - [metrics]: Prometheus endpoint
//   - [housekeeping]: periodic orphan sweep
//
// Values can reference the environment with ${VAR} or ${VAR:default}, for
// example: token = "${BOT_TOKEN}".
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Telegram     TelegramConfig     `toml:"telegram" json:"telegram" yaml:"telegram"`
	Storage      StorageConfig      `toml:"storage" json:"storage" yaml:"storage"`
	Scheduler    SchedulerConfig    `toml:"scheduler" json:"scheduler" yaml:"scheduler"`
	Retry        RetryConfig        `toml:"retry" json:"retry" yaml:"retry"`
	Logging      LoggingConfig      `toml:"logging" json:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `toml:"metrics" json:"metrics" yaml:"metrics"`
	Housekeeping HousekeepingConfig `toml:"housekeeping" json:"housekeeping" yaml:"housekeeping"`
}

// TelegramConfig holds the bot credentials and who may manage reminders.
type TelegramConfig struct {
	Token string `toml:"token" json:"token" yaml:"token"`
	// AllowedUsers is the allow list for restricted commands.
	AllowedUsers []int64 `toml:"allowed_users" json:"allowed_users" yaml:"allowed_users"`
	// GroupID is the group whose administrators may manage reminders.
	GroupID int64 `toml:"group_id" json:"group_id" yaml:"group_id"`
	// PersonalUserID may manage reminders from any private chat.
	PersonalUserID     int64   `toml:"personal_user_id" json:"personal_user_id" yaml:"personal_user_id"`
	SendTimeoutSeconds int     `toml:"send_timeout_seconds" json:"send_timeout_seconds" yaml:"send_timeout_seconds"`
	PollTimeoutSeconds int     `toml:"poll_timeout_seconds" json:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
	RateLimitPerSecond float64 `toml:"rate_limit_per_second" json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateBurst          int     `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// SendTimeout returns the per-message delivery deadline.
func (t TelegramConfig) SendTimeout() time.Duration {
	return time.Duration(t.SendTimeoutSeconds) * time.Second
}

// StorageConfig locates the job database.
type StorageConfig struct {
	Path          string `toml:"path" json:"path" yaml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// SchedulerConfig sizes the pool that runs fire callbacks.
type SchedulerConfig struct {
	Workers   int `toml:"workers" json:"workers" yaml:"workers"`
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// RetryConfig controls delivery retries.
type RetryConfig struct {
	MaxAttempts      int `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	InitialBackoffMS int `toml:"initial_backoff_ms" json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `toml:"max_backoff_ms" json:"max_backoff_ms" yaml:"max_backoff_ms"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen    string `toml:"listen" json:"listen" yaml:"listen"`
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace"`
}

// HousekeepingConfig configures the periodic maintenance job.
type HousekeepingConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Schedule string `toml:"schedule" json:"schedule" yaml:"schedule"`
}
