// Package config loads the client configuration from a YAML file with
// TEMPO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TEMPO_"

// Config is the top-level client configuration.
type Config struct {
	// APIBaseURL is the backend root, without the version segment.
	APIBaseURL string `yaml:"api_base_url" env:"API_BASE_URL"`

	// DataDir holds the keychain database, settings and the disk cache.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	KeychainService string `yaml:"keychain_service" env:"KEYCHAIN_SERVICE"`

	// Timezone is the IANA zone used to decide what "today" is.
	Timezone string `yaml:"timezone" env:"TIMEZONE"`

	// DaysToFetch is the calendar window synced ahead of today.
	DaysToFetch int `yaml:"days_to_fetch" env:"DAYS_TO_FETCH"`

	PrefetchMinInterval time.Duration `yaml:"prefetch_min_interval" env:"PREFETCH_MIN_INTERVAL"`

	// SyncSchedule is the cron spec the daemon uses for background sync.
	SyncSchedule string `yaml:"sync_schedule" env:"SYNC_SCHEDULE"`

	PrefsDebounce  time.Duration `yaml:"prefs_debounce" env:"PREFS_DEBOUNCE"`
	HealthDebounce time.Duration `yaml:"health_debounce" env:"HEALTH_DEBOUNCE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	Verbose bool `yaml:"verbose" env:"VERBOSE"`
}

// DefaultPath returns the config file location under the default data root.
func DefaultPath() string {
	return filepath.Join(core.DataRoot(), "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:          core.APIBaseURL,
		DataDir:             core.DataRoot(),
		KeychainService:     core.KeychainService,
		Timezone:            core.DefaultTZ,
		DaysToFetch:         core.DefaultDaysToFetch,
		PrefetchMinInterval: core.PrefetchMinInterval,
		SyncSchedule:        core.DefaultSyncSchedule,
		PrefsDebounce:       core.DefaultPrefsDebounce,
		HealthDebounce:      core.DefaultHealthDebounce,
		RequestTimeout:      core.DefaultRequestTimeout,
	}
}

// Normalize fills zero values with defaults so partially-filled files
// still work.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.APIBaseURL == "" {
		c.APIBaseURL = d.APIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.KeychainService == "" {
		c.KeychainService = d.KeychainService
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DaysToFetch <= 0 {
		c.DaysToFetch = d.DaysToFetch
	}
	if c.PrefetchMinInterval <= 0 {
		c.PrefetchMinInterval = d.PrefetchMinInterval
	}
	if c.SyncSchedule == "" {
		c.SyncSchedule = d.SyncSchedule
	}
	if c.PrefsDebounce <= 0 {
		c.PrefsDebounce = d.PrefsDebounce
	}
	if c.HealthDebounce <= 0 {
		c.HealthDebounce = d.HealthDebounce
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("invalid sync_schedule %q: %w", c.SyncSchedule, err)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	return core.GetTZ(c.Timezone)
}

// APIURL returns the versioned API root.
func (c *Config) APIURL() string {
	return c.APIBaseURL + "/" + core.APIVersion
}

// KeychainPath is the SQLite keychain database.
func (c *Config) KeychainPath() string {
	return filepath.Join(c.DataDir, "keychain.db")
}

// SettingsPath is the YAML settings document.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.yaml")
}

// CacheDir is the root of the disk cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// Load reads path, creating it with defaults on first run, then applies
// environment overrides. Overrides are never written back to the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any TEMPO_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tempo-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
