package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lazarusking/theaccelbot/internal/housekeeping"
	"github.com/lazarusking/theaccelbot/internal/retry"
)

// DatabaseFile is the job database name inside VOLUME_MOUNT_PATH.
const DatabaseFile = "jobs.db"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Metrics:      MetricsConfig{Enabled: false},
		Housekeeping: HousekeepingConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads the TOML file at path. A missing file is not an error: the
// defaults are used. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(cfg)
	expandEnvVars(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills zero values.
func applyDefaults(c *Config) {
	if c.Telegram.SendTimeoutSeconds == 0 {
		c.Telegram.SendTimeoutSeconds = 15
	}
	if c.Telegram.PollTimeoutSeconds == 0 {
		c.Telegram.PollTimeoutSeconds = 30
	}
	if c.Telegram.RateLimitPerSecond == 0 {
		c.Telegram.RateLimitPerSecond = 25
	}
	if c.Telegram.RateBurst == 0 {
		c.Telegram.RateBurst = 5
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(".", DatabaseFile)
	}
	if c.Storage.BusyTimeoutMS == 0 {
		c.Storage.BusyTimeoutMS = 5000
	}

	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.QueueSize == 0 {
		c.Scheduler.QueueSize = 256
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoffMS == 0 {
		c.Retry.InitialBackoffMS = 500
	}
	if c.Retry.MaxBackoffMS == 0 {
		c.Retry.MaxBackoffMS = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "theaccelbot"
	}

	if c.Housekeeping.Schedule == "" {
		c.Housekeeping.Schedule = "@every 10m"
	}
}

// expandEnvVars resolves ${VAR} and ${VAR:default} references in string fields.
func expandEnvVars(c *Config) {
	c.Telegram.Token = expandEnv(c.Telegram.Token)
	c.Storage.Path = expandHome(expandEnv(c.Storage.Path))
	c.Logging.Output = expandHome(expandEnv(c.Logging.Output))
	c.Metrics.Listen = expandEnv(c.Metrics.Listen)
}

// applyEnvOverrides lets the bot's original environment variables win over
// the file.
func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}

	if v := os.Getenv("LIST_OF_USERS"); v != "" {
		users, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("LIST_OF_USERS: %w", err)
		}
		c.Telegram.AllowedUsers = users
	}

	if v := os.Getenv("GROUP_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("GROUP_ID: %w", err)
		}
		c.Telegram.GroupID = id
	}

	if v := os.Getenv("PERSONAL_USER_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("PERSONAL_USER_ID: %w", err)
		}
		c.Telegram.PersonalUserID = id
	}

	if v := os.Getenv("VOLUME_MOUNT_PATH"); v != "" {
		c.Storage.Path = filepath.Join(expandHome(v), DatabaseFile)
	}

	return nil
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// expandEnv resolves a value of the form ${VAR} or ${VAR:default}.
// Anything else is returned unchanged.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	rest := s[end+1:]
	if key, defaultVal, ok := strings.Cut(content, ":"); ok {
		if val := os.Getenv(key); val != "" {
			return val + rest
		}
		return defaultVal + rest
	}

	return os.Getenv(content) + rest
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, &ValidationError{Field: "telegram.token", Message: "telegram.token is required (set BOT_TOKEN)"})
	} else if err := validateTelegramToken(c.Telegram.Token); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.SendTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("telegram.send_timeout_seconds must be >= 0"))
	}
	if c.Telegram.RateLimitPerSecond < 0 {
		errs = append(errs, fmt.Errorf("telegram.rate_limit_per_second must be >= 0"))
	}

	if err := validatePath(c.Storage.Path, "storage.path"); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.BusyTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("storage.busy_timeout_ms must be >= 0"))
	}

	if c.Scheduler.Workers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be >= 1 (got %d)", c.Scheduler.Workers))
	}
	if c.Scheduler.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.queue_size must be >= 1 (got %d)", c.Scheduler.QueueSize))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Retry.MaxBackoffMS < c.Retry.InitialBackoffMS {
		errs = append(errs, fmt.Errorf("retry.max_backoff_ms must be >= retry.initial_backoff_ms"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, fmt.Errorf("metrics.listen is required when metrics are enabled"))
	}

	if c.Housekeeping.Enabled {
		if err := housekeeping.ValidateSchedule(c.Housekeeping.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.schedule: %w", err))
		}
	}

	return errs
}

// Policy converts the millisecond settings to a retry.Config.
func (r RetryConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMS) * time.Millisecond,
	}
}

func validateTelegramToken(token string) error {
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return formatValidationError("telegram.token", "invalid format (expected <bot_id>:<token>)", token)
	}

	if len(botID) < 3 || len(botID) > 15 {
		return formatValidationError("telegram.token", fmt.Sprintf("invalid bot ID length (expected 3-15 digits, got %d)", len(botID)), token)
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return formatValidationError("telegram.token", "bot ID must contain digits only", token)
		}
	}

	if len(secret) < 10 || len(secret) > 50 {
		return formatValidationError("telegram.token", fmt.Sprintf("invalid token length (expected 10-50 characters, got %d)", len(secret)), token)
	}

	return nil
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}
