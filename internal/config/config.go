package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvAPIURL   = "POS_API_URL"
	EnvToken    = "POS_TOKEN"
	EnvTerminal = "POS_TERMINAL"
)

// Config represents the global ~/.wtfpos/config.toml.
type Config struct {
	DefaultTerminal string `toml:"default_terminal"`
	APIURL          string `toml:"api_url"`
	Token           string `toml:"token,omitempty"`

	ProbeInterval   string `toml:"probe_interval,omitempty"`
	OfflineRecheck  string `toml:"offline_recheck,omitempty"`
	CatalogRefresh  string `toml:"catalog_refresh,omitempty"`
	ImageMaxAge     string `toml:"image_max_age,omitempty"`
	ImageMaxEntries int    `toml:"image_max_entries,omitempty"`
	BatchSize       int    `toml:"batch_size,omitempty"`
}

// Settings are the parsed, defaulted values the daemon runs with.
type Settings struct {
	APIURL          string
	Token           string
	ProbeInterval   time.Duration
	OfflineRecheck  time.Duration
	CatalogRefresh  time.Duration
	ImageMaxAge     time.Duration
	ImageMaxEntries int
	BatchSize       int
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		APIURL:          "http://localhost:5000",
		ProbeInterval:   30 * time.Second,
		OfflineRecheck:  5 * time.Second,
		CatalogRefresh:  15 * time.Minute,
		ImageMaxAge:     30 * 24 * time.Hour,
		ImageMaxEntries: 2000,
		BatchSize:       5,
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrEmpty is Load, but a missing file yields an empty config.
func LoadOrEmpty(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides config fields from POS_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvTerminal); v != "" {
		c.DefaultTerminal = v
	}
}

// Settings parses the config on top of Defaults.
func (c *Config) Settings() (Settings, error) {
	s := Defaults()
	if c.APIURL != "" {
		s.APIURL = c.APIURL
	}
	s.Token = c.Token

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"probe_interval", c.ProbeInterval, &s.ProbeInterval},
		{"offline_recheck", c.OfflineRecheck, &s.OfflineRecheck},
		{"catalog_refresh", c.CatalogRefresh, &s.CatalogRefresh},
		{"image_max_age", c.ImageMaxAge, &s.ImageMaxAge},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return Settings{}, fmt.Errorf("%s: must not be negative", d.name)
		}
		*d.dst = v
	}

	if c.ImageMaxEntries < 0 {
		return Settings{}, fmt.Errorf("image_max_entries: must not be negative, got %d", c.ImageMaxEntries)
	}
	if c.ImageMaxEntries > 0 {
		s.ImageMaxEntries = c.ImageMaxEntries
	}
	if c.BatchSize < 0 {
		return Settings{}, fmt.Errorf("batch_size: must not be negative, got %d", c.BatchSize)
	}
	if c.BatchSize > 0 {
		s.BatchSize = c.BatchSize
	}
	return s, nil
}
