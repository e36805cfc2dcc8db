// Package config loads daemon settings.
//
// PRECEDENCE (lowest to highest):
//  1. Built-in defaults
//  2. YAML config file (--config, or streakwatch.yaml in the data dir or ".")
//  3. STREAKWATCH_* environment variables, with "." in a key written as "_"
//     (store.dsn → STREAKWATCH_STORE_DSN)
//  4. Command-line flags
//
// Viper does the merging; the result is decoded into Config once and handed
// to constructors, so nothing below cmd/ reads viper directly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/model"
	"github.com/sakif/streakwatch/internal/schedule"
)

const (
	EnvPrefix = "STREAKWATCH"
	fileName  = "streakwatch"
	dbName    = "streakwatch.db"
)

type Config struct {
	DataDir  string                   `mapstructure:"data_dir"`
	Store    StoreConfig              `mapstructure:"store"`
	Log      LogConfig                `mapstructure:"log"`
	HTTP     HTTPConfig               `mapstructure:"http"`
	Sync     SyncConfig               `mapstructure:"sync"`
	Schedule model.SchedulePreference `mapstructure:"schedule"`
	LeetCode LeetCodeConfig           `mapstructure:"leetcode"`
	GitHub   GitHubConfig             `mapstructure:"github"`
	Control  ControlConfig            `mapstructure:"control"`
	Notify   NotifyConfig             `mapstructure:"notify"`
}

type StoreConfig struct {
	// DSN selects the KV backend; empty means a SQLite file in DataDir.
	DSN        string `mapstructure:"dsn"`
	QuotaBytes int64  `mapstructure:"quota_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File enables rotated file output instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type HTTPConfig struct {
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Attempts       int           `mapstructure:"attempts"`
}

type SyncConfig struct {
	// Delay is the pause between entities inside one cycle.
	Delay time.Duration `mapstructure:"delay"`
}

type LeetCodeConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// Session is the LEETCODE_SESSION cookie used by the submission-detail query.
	Session string `mapstructure:"session"`
}

type GitHubConfig struct {
	ClientID string `mapstructure:"client_id"`
	APIBase  string `mapstructure:"api_base"`
	Owner    string `mapstructure:"owner"`
	Repo     string `mapstructure:"repo"`
	Mirror   bool   `mapstructure:"mirror"`
}

type ControlConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// flagKeys maps each command-line flag to the config key it overrides.
var flagKeys = map[string]string{
	"data-dir":  "data_dir",
	"store":     "store.dsn",
	"log-level": "log.level",
	"log-file":  "log.file",
	"addr":      "control.addr",
}

// RegisterFlags adds the persistent flags every subcommand understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("data-dir", "", "directory for the database, config file and logs")
	fs.String("store", "", "KV store DSN (memory://, sqlite://path, postgres://...)")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-file", "", "write rotated logs to this file instead of stderr")
	fs.String("addr", "", "control API listen address")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.quota_bytes", 10<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("http.calls_per_minute", 30)
	v.SetDefault("http.timeout", "8s")
	v.SetDefault("http.attempts", 3)
	v.SetDefault("sync.delay", "500ms")

	def := schedule.DefaultPreference()
	v.SetDefault("schedule.active_interval_minutes", def.ActiveIntervalMinutes)
	v.SetDefault("schedule.quiet_interval_minutes", def.QuietIntervalMinutes)
	v.SetDefault("schedule.active_start_hour", def.ActiveStartHour)
	v.SetDefault("schedule.active_end_hour", def.ActiveEndHour)

	v.SetDefault("leetcode.endpoint", "https://leetcode.com/graphql")
	v.SetDefault("leetcode.session", "")
	v.SetDefault("github.client_id", "")
	v.SetDefault("github.api_base", "https://api.github.com")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "leetcode-solutions")
	v.SetDefault("github.mirror", false)
	v.SetDefault("control.addr", "127.0.0.1:7878")
	v.SetDefault("control.jwt_secret", "")
	v.SetDefault("notify.webhook_url", "")
}

// DefaultDataDir is the per-user config directory, or ./.streakwatch when
// the platform has none.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".streakwatch"
	}
	return filepath.Join(dir, "streakwatch")
}

// Load merges every source. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var explicit string
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: binding flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
	}

	if err := readFile(v, explicit); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "sqlite://" + filepath.Join(cfg.DataDir, dbName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: reading %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString("data_dir"))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: reading config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return apperror.ValidationFailed("data_dir", "data directory must be set")
	case c.Store.QuotaBytes < 0:
		return apperror.ValidationFailed("store.quota_bytes", "quota cannot be negative")
	case c.HTTP.CallsPerMinute < 1:
		return apperror.ValidationFailed("http.calls_per_minute", "at least one call per minute is required")
	case c.HTTP.Attempts < 1:
		return apperror.ValidationFailed("http.attempts", "at least one attempt is required")
	case c.HTTP.Timeout <= 0:
		return apperror.ValidationFailed("http.timeout", "timeout must be positive")
	case c.Sync.Delay < 0:
		return apperror.ValidationFailed("sync.delay", "delay cannot be negative")
	}
	if err := schedule.Validate(c.Schedule); err != nil {
		return err
	}
	if c.GitHub.Mirror {
		if c.GitHub.ClientID == "" {
			return apperror.ValidationFailed("github.client_id", "mirroring needs a GitHub OAuth client ID")
		}
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return apperror.ValidationFailed("github.owner", "mirroring needs an owner and repository name")
		}
	}
	return nil
}
