// ABOUTME: Layered configuration for calsync
// ABOUTME: Merges config.yaml, .env, CALSYNC_ env vars and flags through viper; writes defaults with yaml.v3
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/calsync/db"
	calsync "github.com/harperreed/calsync/sync"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CALSYNC"

// Config is the resolved application configuration.
type Config struct {
	DatabasePath   string       `mapstructure:"database_path" yaml:"database_path"`
	TokenPath      string       `mapstructure:"token_path" yaml:"token_path"`
	CalendarID     string       `mapstructure:"calendar_id" yaml:"calendar_id"`
	Listen         string       `mapstructure:"listen" yaml:"listen"`
	HolidayCountry string       `mapstructure:"holiday_country" yaml:"holiday_country"`
	LogLevel       string       `mapstructure:"log_level" yaml:"log_level"`
	Google         GoogleConfig `mapstructure:"google" yaml:"google"`
	Sync           SyncConfig   `mapstructure:"sync" yaml:"sync"`
}

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`
}

// SyncConfig tunes the scheduler and credential refresh.
type SyncConfig struct {
	// Interval is a cron spec; empty disables the periodic trigger.
	Interval      string        `mapstructure:"interval" yaml:"interval"`
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin" yaml:"refresh_margin"`
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "calsync", "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath:   db.DefaultPath(),
		TokenPath:      calsync.TokenPath(),
		CalendarID:     calsync.DefaultCalendarID,
		Listen:         "127.0.0.1:34115",
		HolidayCountry: "us",
		LogLevel:       "info",
		Google: GoogleConfig{
			RedirectURL: calsync.DefaultRedirectURL,
		},
		Sync: SyncConfig{
			Interval:      calsync.DefaultInterval,
			Debounce:      calsync.DefaultDebounce,
			Timeout:       calsync.DefaultTimeout,
			RefreshMargin: calsync.DefaultRefreshMargin,
		},
	}
}

// NewViper returns a viper instance carrying the defaults and env bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("token_path", d.TokenPath)
	v.SetDefault("calendar_id", d.CalendarID)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("holiday_country", d.HolidayCountry)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", d.Google.RedirectURL)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.debounce", d.Sync.Debounce)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.refresh_margin", d.Sync.RefreshMargin)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The unprefixed Google variables are what most setups already export.
	_ = v.BindEnv("google.client_id", "CALSYNC_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	_ = v.BindEnv("google.client_secret", "CALSYNC_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")
	_ = v.BindEnv("google.redirect_url", "CALSYNC_GOOGLE_REDIRECT_URL", "GOOGLE_REDIRECT_URI")

	return v
}

// Load reads .env from the working directory, then the config file, then
// resolves everything through v. file may be empty to use Path(); a missing
// default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := file != ""
	if !explicit {
		file = Path()
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if strings.TrimSpace(c.TokenPath) == "" {
		return fmt.Errorf("token_path must not be empty")
	}
	if c.Sync.Debounce < 0 || c.Sync.Timeout < 0 || c.Sync.RefreshMargin < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Sync.Interval != "" {
		if _, err := cron.ParseStandard(c.Sync.Interval); err != nil {
			return fmt.Errorf("invalid sync.interval %q: %w", c.Sync.Interval, err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// GoogleConfigured reports whether an OAuth client is set.
func (c *Config) GoogleConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// Save writes cfg as YAML atomically with owner-only permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Init writes the default config to path unless a file already exists there.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}
	return Save(path, Default())
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Google.ClientSecret != "" {
		out.Google.ClientSecret = "********"
	}
	return &out
}
