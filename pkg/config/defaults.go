package config

import "time"

// Default values applied to unset fields.
const (
	DefaultStoreBackend = "redis"
	DefaultRedisAddr    = "127.0.0.1:6379"

	DefaultMaxRetries         = 3
	DefaultSessionTTL         = time.Hour
	DefaultRateLimitDuration  = time.Hour
	DefaultUnavailableTTL     = 5 * time.Minute
	DefaultOverloadedTTL      = 10 * time.Minute
	DefaultFailureWindow      = 5 * time.Minute
	DefaultTempErrorThreshold = 10
	DefaultTempErrorDisable   = 5 * time.Minute

	DefaultRefreshBuffer       = 60 * time.Second
	DefaultShortLivedThreshold = 5 * time.Minute
	DefaultShortLivedBuffer    = 2 * time.Minute
	DefaultLockTTL             = 30 * time.Second
	DefaultLockRetryWait       = 2 * time.Second
	DefaultCredCacheSize       = 1024
	DefaultCredCacheTTL        = time.Minute

	DefaultSweepSchedule = "@every 1m"
	DefaultTimezone      = "UTC"
)

// ApplyDefaults fills zero values in cfg with engine defaults.
// FailoverEnabled defaults to true: a fresh config that never mentions
// failover gets the retry behavior the engine exists for.
func ApplyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = DefaultRedisAddr
	}

	s := &cfg.Scheduler
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.SessionTTL == 0 {
		s.SessionTTL = DefaultSessionTTL
	}
	if s.RateLimitDuration == 0 {
		s.RateLimitDuration = DefaultRateLimitDuration
	}
	if s.UnavailableTTL == 0 {
		s.UnavailableTTL = DefaultUnavailableTTL
	}
	if s.OverloadedTTL == 0 {
		s.OverloadedTTL = DefaultOverloadedTTL
	}
	if s.FailureWindow == 0 {
		s.FailureWindow = DefaultFailureWindow
	}
	if s.TempErrorThreshold == 0 {
		s.TempErrorThreshold = DefaultTempErrorThreshold
	}
	if s.TempErrorDisable == 0 {
		s.TempErrorDisable = DefaultTempErrorDisable
	}

	t := &cfg.Token
	if t.RefreshBuffer == 0 {
		t.RefreshBuffer = DefaultRefreshBuffer
	}
	if t.ShortLivedThreshold == 0 {
		t.ShortLivedThreshold = DefaultShortLivedThreshold
	}
	if t.ShortLivedBuffer == 0 {
		t.ShortLivedBuffer = DefaultShortLivedBuffer
	}
	if t.LockTTL == 0 {
		t.LockTTL = DefaultLockTTL
	}
	if t.LockRetryWait == 0 {
		t.LockRetryWait = DefaultLockRetryWait
	}
	if t.CacheSize == 0 {
		t.CacheSize = DefaultCredCacheSize
	}
	if t.CacheTTL == 0 {
		t.CacheTTL = DefaultCredCacheTTL
	}

	if cfg.Sweeper.Schedule == "" {
		cfg.Sweeper.Schedule = DefaultSweepSchedule
	}
	if cfg.Sweeper.Timezone == "" {
		cfg.Sweeper.Timezone = DefaultTimezone
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "stratus"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "pool"
	}
}

// NewDefault returns a config with every default applied and failover
// enabled.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Scheduler.FailoverEnabled = true
	ApplyDefaults(cfg)
	return cfg
}
