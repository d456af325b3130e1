// Package config defines the engine configuration, loading, validation,
// and hot reload.
package config

import (
	"time"

	"aurora-hq/stratus/pkg/accounts"
)

// Config is the root engine configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Token     TokenConfig     `yaml:"token"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig selects and configures the coordination store backend.
type StoreConfig struct {
	// Backend is "redis" or "memory".
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig tunes selection, failover, and health marking.
type SchedulerConfig struct {
	// FailoverEnabled globally enables cross-account retry. When false
	// the executor selects once and runs without retry wrapping.
	FailoverEnabled bool `yaml:"failover_enabled"`

	// MaxRetries bounds cross-account retries per request.
	MaxRetries int `yaml:"max_retries"`

	// SessionTTL is the sliding expiry of session affinity mappings.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// RateLimitDuration is the default rate-limit disable duration when
	// neither the account config nor the upstream response supplies one.
	RateLimitDuration time.Duration `yaml:"rate_limit_duration"`

	// UnavailableTTL is the temporarily-unavailable flag TTL for single
	// upstream 5xx failures.
	UnavailableTTL time.Duration `yaml:"unavailable_ttl"`

	// OverloadedTTL is the flag TTL for capacity-exceeded (529) signals.
	OverloadedTTL time.Duration `yaml:"overloaded_ttl"`

	// FailureWindow is the rolling failure counter window.
	FailureWindow time.Duration `yaml:"failure_window"`

	// TempErrorThreshold is the failure count within FailureWindow that
	// escalates to a temp-error disable.
	TempErrorThreshold int `yaml:"temp_error_threshold"`

	// TempErrorDisable is how long a temp-error escalation disables the
	// account.
	TempErrorDisable time.Duration `yaml:"temp_error_disable"`
}

// TokenConfig tunes credential refresh coordination.
type TokenConfig struct {
	// RefreshBuffer is how close to expiry a credential may get before a
	// refresh is required.
	RefreshBuffer time.Duration `yaml:"refresh_buffer"`

	// ShortLivedThreshold: credentials whose total lifetime is below
	// this use ShortLivedBuffer instead of RefreshBuffer.
	ShortLivedThreshold time.Duration `yaml:"short_lived_threshold"`

	// ShortLivedBuffer is the extended refresh buffer for short-lived
	// credentials, which are rotated earlier than long-lived ones.
	ShortLivedBuffer time.Duration `yaml:"short_lived_buffer"`

	// LockTTL is the absolute TTL of the refresh lock, the safety net
	// against a crashed holder.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockRetryWait is how long a contended caller sleeps before
	// re-reading the stored credential.
	LockRetryWait time.Duration `yaml:"lock_retry_wait"`

	// CacheSize bounds the in-process credential cache.
	CacheSize int `yaml:"cache_size"`

	// CacheTTL time-boxes cached credentials independent of expiry.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SweeperConfig tunes the recovery sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression (robfig/cron syntax, "@every 1m"
	// style accepted) for the reconciliation sweep.
	Schedule string `yaml:"schedule"`

	// Timezone is the IANA zone used for the daily quota reset boundary.
	Timezone string `yaml:"timezone"`

	// Platforms lists the platforms to sweep.
	Platforms []string `yaml:"platforms"`
}

// ProxyConfig holds the static tail of the proxy precedence chain:
// per-platform proxies and the global fallback. Account and group
// proxies come from their records.
type ProxyConfig struct {
	Platforms map[string]*accounts.ProxyConfig `yaml:"platforms"`
	Global    *accounts.ProxyConfig            `yaml:"global"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig controls Prometheus metric naming.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}
