package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

// overrides mirrors the environment-settable subset of Config. Unset
// variables keep whatever value the field was prefilled with.
type overrides struct {
	Listen       string   `env:"NUDGECAL_LISTEN"`
	Timezone     string   `env:"NUDGECAL_TIMEZONE"`
	RefreshCron  string   `env:"NUDGECAL_REFRESH"`
	HorizonHours int      `env:"NUDGECAL_HORIZON_HOURS"`
	ICSURLs      []string `env:"NUDGECAL_ICS_URLS" envSeparator:","`
	CacheDir     string   `env:"NUDGECAL_CACHE_DIR"`

	BasicAuthUsername string `env:"NUDGECAL_BASIC_AUTH_USERNAME"`
	BasicAuthPassword string `env:"NUDGECAL_BASIC_AUTH_PASSWORD"`

	StoreDriver    string `env:"NUDGECAL_STORE_DRIVER"`
	StorePath      string `env:"NUDGECAL_STORE_PATH"`
	StoreDSN       string `env:"NUDGECAL_STORE_DSN"`
	StoreRedisAddr string `env:"NUDGECAL_REDIS_ADDR"`
	StoreRedisKey  string `env:"NUDGECAL_REDIS_KEY"`

	PresenterKind    string        `env:"NUDGECAL_PRESENTER"`
	PresenterTimeout time.Duration `env:"NUDGECAL_PRESENTER_TIMEOUT"`

	ErrorHistory int    `env:"NUDGECAL_ERROR_HISTORY"`
	LogLevel     string `env:"NUDGECAL_LOG_LEVEL"`
	Production   bool   `env:"NUDGECAL_PRODUCTION"`
}

// ApplyEnv overlays NUDGECAL_* environment variables onto c.
// NUDGECAL_ICS_URLS, when set, replaces the configured feeds.
func (c *Config) ApplyEnv() error {
	o := overrides{
		Listen:         c.Listen,
		Timezone:       c.Timezone,
		RefreshCron:    c.RefreshCron,
		HorizonHours:   c.HorizonHours,
		CacheDir:       c.CacheDir,
		StoreDriver:    c.Store.Driver,
		StorePath:      c.Store.Path,
		StoreDSN:       c.Store.DSN,
		StoreRedisAddr: c.Store.RedisAddr,
		StoreRedisKey:  c.Store.RedisKey,

		PresenterKind:    c.Presenter.Kind,
		PresenterTimeout: c.Presenter.Timeout,
		ErrorHistory:     c.ErrorHistory,
		LogLevel:         c.LogLevel,
		Production:       c.Production,
	}
	if c.BasicAuth != nil {
		o.BasicAuthUsername = c.BasicAuth.Username
		o.BasicAuthPassword = c.BasicAuth.Password
	}

	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	c.Listen = o.Listen
	c.Timezone = o.Timezone
	c.RefreshCron = o.RefreshCron
	c.HorizonHours = o.HorizonHours
	c.CacheDir = o.CacheDir
	c.Store = StoreConfig{
		Driver:    o.StoreDriver,
		Path:      o.StorePath,
		DSN:       o.StoreDSN,
		RedisAddr: o.StoreRedisAddr,
		RedisKey:  o.StoreRedisKey,
	}
	c.Presenter = PresenterConfig{Kind: o.PresenterKind, Timeout: o.PresenterTimeout}
	c.ErrorHistory = o.ErrorHistory
	c.LogLevel = o.LogLevel
	c.Production = o.Production

	if o.BasicAuthUsername != "" || o.BasicAuthPassword != "" {
		c.BasicAuth = &BasicAuthConfig{Username: o.BasicAuthUsername, Password: o.BasicAuthPassword}
	}

	if len(o.ICSURLs) > 0 {
		feeds := make([]ICSConfig, 0, len(o.ICSURLs))
		for i, u := range o.ICSURLs {
			if u == "" {
				continue
			}
			feeds = append(feeds, ICSConfig{ID: fmt.Sprintf("env-%d", i+1), URL: u})
		}
		c.ICS = feeds
	}

	c.Normalize()
	return nil
}
