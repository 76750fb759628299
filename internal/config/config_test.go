package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

func clearBotEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BOT_TOKEN", "LIST_OF_USERS", "GROUP_ID", "PERSONAL_USER_ID", "VOLUME_MOUNT_PATH"} {
		t.Setenv(key, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		want any
		got  any
	}{
		{"storage path", filepath.Join(".", "jobs.db"), cfg.Storage.Path},
		{"busy timeout", 5000, cfg.Storage.BusyTimeoutMS},
		{"workers", 4, cfg.Scheduler.Workers},
		{"queue size", 256, cfg.Scheduler.QueueSize},
		{"logging level", "info", cfg.Logging.Level},
		{"logging format", "json", cfg.Logging.Format},
		{"logging output", "stdout", cfg.Logging.Output},
		{"metrics disabled", false, cfg.Metrics.Enabled},
		{"housekeeping enabled", true, cfg.Housekeeping.Enabled},
		{"housekeeping schedule", "@every 10m", cfg.Housekeeping.Schedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearBotEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("ACCEL_TOKEN", validToken)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[telegram]
token = "${ACCEL_TOKEN}"
allowed_users = [1, 2]
group_id = -100123

[storage]
path = "${ACCEL_DB:/data/reminders.db}"

[housekeeping]
enabled = false

[logging]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, validToken, cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AllowedUsers)
	assert.Equal(t, int64(-100123), cfg.Telegram.GroupID)
	assert.Equal(t, "/data/reminders.db", cfg.Storage.Path)
	assert.False(t, cfg.Housekeeping.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("BOT_TOKEN", validToken)
	t.Setenv("LIST_OF_USERS", "10, 20,30")
	t.Setenv("GROUP_ID", "-1001")
	t.Setenv("PERSONAL_USER_ID", "77")
	t.Setenv("VOLUME_MOUNT_PATH", "/mnt/volume")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, validToken, cfg.Telegram.Token)
	assert.Equal(t, []int64{10, 20, 30}, cfg.Telegram.AllowedUsers)
	assert.Equal(t, int64(-1001), cfg.Telegram.GroupID)
	assert.Equal(t, int64(77), cfg.Telegram.PersonalUserID)
	assert.Equal(t, "/mnt/volume/jobs.db", cfg.Storage.Path)
}

func TestLoad_BadEnvOverride(t *testing.T) {
	clearBotEnv(t)
	t.Setenv("GROUP_ID", "not-a-number")

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GROUP_ID")
}

func TestLoad_InvalidTOML(t *testing.T) {
	clearBotEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[telegram\ntoken="), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Telegram.Token = validToken
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErrs int
	}{
		{name: "valid", mutate: func(*Config) {}, wantErrs: 0},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErrs: 1},
		{name: "malformed token", mutate: func(c *Config) { c.Telegram.Token = "nocolon" }, wantErrs: 1},
		{name: "non digit bot id", mutate: func(c *Config) { c.Telegram.Token = "12ab5:AAHdqTcvCH1vGWJx" }, wantErrs: 1},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }, wantErrs: 1},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErrs: 1},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErrs: 1},
		{name: "traversal path", mutate: func(c *Config) { c.Storage.Path = "../jobs.db" }, wantErrs: 1},
		{name: "bad schedule", mutate: func(c *Config) { c.Housekeeping.Schedule = "every so often" }, wantErrs: 1},
		{name: "bad schedule ignored when disabled", mutate: func(c *Config) {
			c.Housekeeping.Enabled = false
			c.Housekeeping.Schedule = "every so often"
		}, wantErrs: 0},
		{name: "backoff inverted", mutate: func(c *Config) { c.Retry.MaxBackoffMS = 1 }, wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			errs := cfg.Validate()
			assert.Len(t, errs, tt.wantErrs, "errors: %v", errs)
		})
	}
}

func TestValidate_TokenErrorsAreMasked(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "12345:short"

	errs := cfg.Validate()
	require.Len(t, errs, 1)

	var verr *ValidationError
	require.True(t, errors.As(errs[0], &verr))
	assert.Equal(t, "telegram.token", verr.Field)
	assert.NotContains(t, verr.Error(), "short")
}

func TestMasked(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = validToken

	masked := cfg.Masked()

	assert.Equal(t, validToken, cfg.Telegram.Token)
	assert.Equal(t, "123456789:", masked.Telegram.Token[:10])
	assert.NotEqual(t, validToken, masked.Telegram.Token)
}

func TestRetryPolicy(t *testing.T) {
	policy := RetryConfig{MaxAttempts: 4, InitialBackoffMS: 250, MaxBackoffMS: 2000}.Policy()

	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.InitialBackoff)
	assert.Equal(t, 2*time.Second, policy.MaxBackoff)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ACCEL_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${ACCEL_SET}", "value"},
		{"${ACCEL_UNSET_XYZ:fallback}", "fallback"},
		{"${ACCEL_SET:fallback}", "value"},
		{"${ACCEL_SET}/jobs.db", "value/jobs.db"},
		{"${broken", "${broken"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnv(tt.in), tt.in)
	}
}
