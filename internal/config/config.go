package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"studycal/internal/fileutil"
)

// ICSConfig describes a single ICS subscription whose events are shown
// next to the local calendar.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig bounds API requests per client address.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone calendar dates are evaluated in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first column of the month grid: "sunday" (default)
	// or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Store selects the event backend: "file" (default), "postgres" or "memory".
	Store string `yaml:"store" json:"store"`

	// DataPath is the YAML document used by the file store.
	DataPath string `yaml:"data_path" json:"data_path"`

	// DatabaseURL is the PostgreSQL DSN used by the postgres store.
	DatabaseURL string `yaml:"database_url,omitempty" json:"-"`

	// ReminderCron is the cron spec the reminder scan runs on.
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// ICSCacheDir holds ETag/Last-Modified metadata and cached bodies.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// ICSGuard blocks ICS fetches to private, loopback and link-local
	// addresses. Disable only for local development.
	ICSGuard *bool `yaml:"ics_guard,omitempty" json:"ics_guard,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch c.WeekStart {
	case "sunday", "monday":
	default:
		c.WeekStart = "sunday"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.Store {
	case "file", "postgres", "memory":
	default:
		c.Store = "file"
	}
	if c.DataPath == "" {
		c.DataPath = "./var/events.yaml"
	}
	if c.ReminderCron == "" {
		c.ReminderCron = "* * * * *"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = "./var/ics-cache"
	}
	if c.ICSGuard == nil {
		on := true
		c.ICSGuard = &on
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
}

// GuardICS reports whether ICS fetches go through the SSRF-safe client.
func (c *Config) GuardICS() bool {
	return c.ICSGuard == nil || *c.ICSGuard
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshaled and normalized.
//   - In both cases STUDYCAL_* environment variables override file values
//     (see LoadDotEnv for .env files).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		cfg.ApplyEnv()
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides fields from STUDYCAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STUDYCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("STUDYCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("STUDYCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STUDYCAL_STORE"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("STUDYCAL_DATA_PATH"); v != "" {
		c.DataPath = v
	}
	if v := os.Getenv("STUDYCAL_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("STUDYCAL_ICS_GUARD"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.ICSGuard = &on
		}
	}
	c.Normalize()
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, ".studycal-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
