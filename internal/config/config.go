package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription.
type ICSConfig struct {
	// ID names the feed in logs and event source ids.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	URL  string `yaml:"url" json:"url"`
	// Username and Password are sent as HTTP basic auth to the feed.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// StoreConfig selects where preferences are kept.
type StoreConfig struct {
	// Driver is one of "file", "sqlite", "redis" or "memory".
	Driver    string `yaml:"driver" json:"driver"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	DSN       string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisKey  string `yaml:"redis_key,omitempty" json:"redis_key,omitempty"`
}

// PresenterConfig selects how reminders are shown.
type PresenterConfig struct {
	// Kind is "web" (answered through the HTTP API) or "log".
	Kind string `yaml:"kind" json:"kind"`
	// Timeout closes an unanswered web overlay. Zero waits forever.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines local midnight. "Local" uses
	// the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule for re-reading the calendars.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonHours bounds how far ahead events are fetched.
	HorizonHours int `yaml:"horizon_hours" json:"horizon_hours"`

	ICS      []ICSConfig `yaml:"ics" json:"ics"`
	CacheDir string      `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Store     StoreConfig     `yaml:"store" json:"store"`
	Presenter PresenterConfig `yaml:"presenter" json:"presenter"`

	// ErrorHistory caps the number of reported errors kept in memory.
	ErrorHistory int `yaml:"error_history" json:"error_history"`

	LogLevel   string `yaml:"log_level" json:"log_level"`
	Production bool   `yaml:"production" json:"production"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Local"
	defaultRefreshCron  = "*/5 * * * *"
	defaultHorizonHours = 24
	defaultCacheDir     = "./var/ics-cache"
	defaultStorePath    = "./var/preferences.yaml"
	defaultErrorHistory = 20
	defaultTimeout      = 10 * time.Minute
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		RefreshCron:  defaultRefreshCron,
		HorizonHours: defaultHorizonHours,
		ICS:          []ICSConfig{},
		CacheDir:     defaultCacheDir,
		Store:        StoreConfig{Driver: "file", Path: defaultStorePath},
		Presenter:    PresenterConfig{Kind: "web", Timeout: defaultTimeout},
		ErrorHistory: defaultErrorHistory,
		LogLevel:     "info",
	}
}

// Normalize fills in missing or zero values so partially written configs
// still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonHours <= 0 {
		c.HorizonHours = defaultHorizonHours
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Store.Driver == "file" && c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Presenter.Kind == "" {
		c.Presenter.Kind = "web"
	}
	if c.Presenter.Timeout < 0 {
		c.Presenter.Timeout = 0
	}
	if c.ErrorHistory <= 0 {
		c.ErrorHistory = defaultErrorHistory
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	switch c.Store.Driver {
	case "file", "sqlite", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Presenter.Kind {
	case "web", "log":
	default:
		errs = append(errs, fmt.Errorf("unknown presenter %q", c.Presenter.Kind))
	}
	for _, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics %q: url is empty", src.ID))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Horizon returns HorizonHours as a duration.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonHours) * time.Hour
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written with 0600
// permissions and returned. Otherwise the YAML is decoded and normalized.
// Environment overrides are not applied here; see ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
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

	tmp, err := os.CreateTemp(dir, ".nudgecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
