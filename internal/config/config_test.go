package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/schedule"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "streakwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STREAKWATCH_DATA_DIR", dir)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "sqlite://"+filepath.Join(dir, "streakwatch.db"), cfg.Store.DSN)
	assert.Equal(t, int64(10<<20), cfg.Store.QuotaBytes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.HTTP.CallsPerMinute)
	assert.Equal(t, 8*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Delay)
	assert.Equal(t, schedule.DefaultPreference(), cfg.Schedule)
	assert.Equal(t, "127.0.0.1:7878", cfg.Control.Addr)
	assert.False(t, cfg.GitHub.Mirror)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STREAKWATCH_DATA_DIR", dir)
	writeFile(t, dir, `
log:
  level: warn
control:
  addr: 127.0.0.1:9000
schedule:
  active_interval_minutes: 5
sync:
  delay: 2s
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "127.0.0.1:9000", cfg.Control.Addr)
		assert.Equal(t, 5, cfg.Schedule.ActiveIntervalMinutes)
		assert.Equal(t, 60, cfg.Schedule.QuietIntervalMinutes)
		assert.Equal(t, 2*time.Second, cfg.Sync.Delay)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("STREAKWATCH_LOG_LEVEL", "error")
		cfg, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
		assert.Equal(t, "127.0.0.1:9000", cfg.Control.Addr)
	})

	t.Run("flags override env", func(t *testing.T) {
		t.Setenv("STREAKWATCH_LOG_LEVEL", "error")
		cfg, err := Load(newFlags(t, "--log-level", "debug", "--store", "memory://"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "memory://", cfg.Store.DSN)
	})

	t.Run("unset flags leave lower layers alone", func(t *testing.T) {
		cfg, err := Load(newFlags(t))
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
	})
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Setenv("STREAKWATCH_DATA_DIR", t.TempDir())

	t.Run("read", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "github:\n  owner: octo\n")
		cfg, err := Load(newFlags(t, "--config", path))
		require.NoError(t, err)
		assert.Equal(t, "octo", cfg.GitHub.Owner)
		assert.Equal(t, "leetcode-solutions", cfg.GitHub.Repo)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Setenv("STREAKWATCH_DATA_DIR", t.TempDir())
	base, err := Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative quota", func(c *Config) { c.Store.QuotaBytes = -1 }, "store.quota_bytes"},
		{"zero call budget", func(c *Config) { c.HTTP.CallsPerMinute = 0 }, "http.calls_per_minute"},
		{"zero attempts", func(c *Config) { c.HTTP.Attempts = 0 }, "http.attempts"},
		{"bad schedule hour", func(c *Config) { c.Schedule.ActiveEndHour = 24 }, "activeEndHour"},
		{"mirror without client id", func(c *Config) {
			c.GitHub.Mirror = true
			c.GitHub.Owner = "octo"
		}, "github.client_id"},
		{"mirror without owner", func(c *Config) {
			c.GitHub.Mirror = true
			c.GitHub.ClientID = "Iv1.abc"
		}, "github.owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, apperror.ErrValidation)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}
