package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, and
// validates the result.
//
// Fields with non-zero "absent" defaults (failover_enabled, metrics
// enabled) are seeded before unmarshalling so an omitted key means "on"
// while an explicit false is honored.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Config{}
	cfg.Scheduler.FailoverEnabled = true
	cfg.Metrics.Enabled = true

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration and applies STRATUS_*
// environment variable overrides, which always take precedence over the
// file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides using the
// STRATUS_SECTION_FIELD convention.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("STRATUS_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("STRATUS_REDIS_ADDR"); val != "" {
		cfg.Store.Redis.Addr = val
	}
	if val := os.Getenv("STRATUS_REDIS_PASSWORD"); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv("STRATUS_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Store.Redis.DB = db
		}
	}

	if val := os.Getenv("STRATUS_SCHEDULER_FAILOVER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Scheduler.FailoverEnabled = b
		}
	}
	if val := os.Getenv("STRATUS_SCHEDULER_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scheduler.MaxRetries = n
		}
	}
	if val := os.Getenv("STRATUS_SCHEDULER_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Scheduler.SessionTTL = d
		}
	}
	if val := os.Getenv("STRATUS_SCHEDULER_TEMP_ERROR_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scheduler.TempErrorThreshold = n
		}
	}

	if val := os.Getenv("STRATUS_SWEEPER_SCHEDULE"); val != "" {
		cfg.Sweeper.Schedule = val
	}
	if val := os.Getenv("STRATUS_SWEEPER_TIMEZONE"); val != "" {
		cfg.Sweeper.Timezone = val
	}

	if val := os.Getenv("STRATUS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("STRATUS_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
