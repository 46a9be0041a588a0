// Package config handles application configuration from a YAML file,
// with live reloading so interval and retry settings take effect
// without a restart.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults and bounds for the monitoring settings. Invalid configured
// values are clamped, never fatal.
const (
	DefaultPollingIntervalSeconds = 3600
	MinPollingIntervalSeconds     = 60
	DefaultMaxRetries             = 3
	MaxMaxRetries                 = 10
	DefaultRetryDelaySeconds      = 300
	MinRetryDelaySeconds          = 10
	DefaultDailyQuotaBudget       = 10000
	DefaultCostPerPoll            = 100
	DefaultRetentionDays          = 30
)

// Config holds the application configuration.
type Config struct {
	APIKey       string `yaml:"api_key"`
	DatabasePath string `yaml:"database_path"`
	ListenAddr   string `yaml:"listen_addr"`
	LogLevel     string `yaml:"log_level"`

	PollingIntervalSeconds int `yaml:"polling_interval_seconds"`
	MaxRetries             int `yaml:"max_retries"`
	RetryDelaySeconds      int `yaml:"retry_delay_seconds"`
	DailyQuotaBudget       int `yaml:"daily_quota_budget"`
	CostPerPoll            int `yaml:"cost_per_poll"`
	DeliveryRetentionDays  int `yaml:"delivery_retention_days"`
}

// Load reads and normalizes the configuration file at path.
// The YOUTUBE_API_KEY environment variable overrides the file value.
func Load(path string, log *slog.Logger) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if key := os.Getenv("YOUTUBE_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	cfg.normalize(log)
	return cfg, nil
}

func defaults() Config {
	return Config{
		DatabasePath:           "./data/monitor.db",
		ListenAddr:             ":8080",
		LogLevel:               "info",
		PollingIntervalSeconds: DefaultPollingIntervalSeconds,
		MaxRetries:             DefaultMaxRetries,
		RetryDelaySeconds:      DefaultRetryDelaySeconds,
		DailyQuotaBudget:       DefaultDailyQuotaBudget,
		CostPerPoll:            DefaultCostPerPoll,
		DeliveryRetentionDays:  DefaultRetentionDays,
	}
}

// normalize clamps out-of-range values to safe defaults. Each
// substitution is logged so the operator can see the degradation.
func (c *Config) normalize(log *slog.Logger) {
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/monitor.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.PollingIntervalSeconds <= 0 {
		log.Warn("invalid polling interval, using default",
			"configured", c.PollingIntervalSeconds, "default", DefaultPollingIntervalSeconds)
		c.PollingIntervalSeconds = DefaultPollingIntervalSeconds
	} else if c.PollingIntervalSeconds < MinPollingIntervalSeconds {
		log.Warn("polling interval below minimum, clamping",
			"configured", c.PollingIntervalSeconds, "min", MinPollingIntervalSeconds)
		c.PollingIntervalSeconds = MinPollingIntervalSeconds
	}

	if c.MaxRetries < 0 {
		log.Warn("negative max_retries, using default", "configured", c.MaxRetries)
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries > MaxMaxRetries {
		log.Warn("max_retries above maximum, clamping",
			"configured", c.MaxRetries, "max", MaxMaxRetries)
		c.MaxRetries = MaxMaxRetries
	}

	if c.RetryDelaySeconds <= 0 {
		log.Warn("invalid retry_delay_seconds, using default",
			"configured", c.RetryDelaySeconds, "default", DefaultRetryDelaySeconds)
		c.RetryDelaySeconds = DefaultRetryDelaySeconds
	} else if c.RetryDelaySeconds < MinRetryDelaySeconds {
		log.Warn("retry_delay_seconds below minimum, clamping",
			"configured", c.RetryDelaySeconds, "min", MinRetryDelaySeconds)
		c.RetryDelaySeconds = MinRetryDelaySeconds
	}

	if c.DailyQuotaBudget <= 0 {
		c.DailyQuotaBudget = DefaultDailyQuotaBudget
	}
	if c.CostPerPoll <= 0 {
		c.CostPerPoll = DefaultCostPerPoll
	}
	if c.DeliveryRetentionDays <= 0 {
		c.DeliveryRetentionDays = DefaultRetentionDays
	}
}
