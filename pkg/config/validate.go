package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for values the engine cannot run
// with. It is called after defaults are applied, so zero values that
// have defaults never reach it.
func Validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be \"redis\" or \"memory\", got %q", cfg.Store.Backend)
	}

	s := cfg.Scheduler
	if s.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0, got %d", s.MaxRetries)
	}
	if s.TempErrorThreshold < 1 {
		return fmt.Errorf("scheduler.temp_error_threshold must be >= 1, got %d", s.TempErrorThreshold)
	}
	for name, d := range map[string]time.Duration{
		"scheduler.session_ttl":         s.SessionTTL,
		"scheduler.rate_limit_duration": s.RateLimitDuration,
		"scheduler.unavailable_ttl":     s.UnavailableTTL,
		"scheduler.overloaded_ttl":      s.OverloadedTTL,
		"scheduler.failure_window":      s.FailureWindow,
		"scheduler.temp_error_disable":  s.TempErrorDisable,
		"token.refresh_buffer":          cfg.Token.RefreshBuffer,
		"token.lock_ttl":                cfg.Token.LockTTL,
		"token.lock_retry_wait":         cfg.Token.LockRetryWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if cfg.Token.CacheSize < 1 {
		return fmt.Errorf("token.cache_size must be >= 1, got %d", cfg.Token.CacheSize)
	}

	if _, err := cron.ParseStandard(cfg.Sweeper.Schedule); err != nil {
		return fmt.Errorf("invalid sweeper.schedule %q: %w", cfg.Sweeper.Schedule, err)
	}
	if _, err := time.LoadLocation(cfg.Sweeper.Timezone); err != nil {
		return fmt.Errorf("invalid sweeper.timezone %q: %w", cfg.Sweeper.Timezone, err)
	}

	for platform, proxy := range cfg.Proxy.Platforms {
		if proxy != nil && !proxy.WellFormed() {
			return fmt.Errorf("proxy.platforms.%s is malformed (scheme/host/port required)", platform)
		}
	}
	if cfg.Proxy.Global != nil && !cfg.Proxy.Global.WellFormed() {
		return fmt.Errorf("proxy.global is malformed (scheme/host/port required)")
	}

	return nil
}
