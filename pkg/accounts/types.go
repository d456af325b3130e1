package accounts

import (
	"fmt"
	"net/url"
	"time"
)

// Platform identifies a backend provider kind.
type Platform string

// Known platforms. The engine is generic over platforms; these constants
// exist for configuration and key construction, not for behavior
// branches.
const (
	PlatformClaude Platform = "claude"
	PlatformOpenAI Platform = "openai"
	PlatformGemini Platform = "gemini"
)

// AccountType describes how an account is bound to consumers.
type AccountType string

const (
	// TypeDedicated accounts are bound to a single consumer key.
	TypeDedicated AccountType = "dedicated"
	// TypeShared accounts belong to the platform-wide shared pool.
	TypeShared AccountType = "shared"
	// TypeGroupMember accounts are selectable through group bindings.
	TypeGroupMember AccountType = "group-member"
)

// Status is the authoritative health state of an account. Exactly one
// status is authoritative at any instant; ephemeral TTL flags mirror a
// subset of these states for fast-path checks and auto-recovery.
type Status string

const (
	StatusActive                 Status = "active"
	StatusRateLimited            Status = "rate_limited"
	StatusUnauthorized           Status = "unauthorized"
	StatusBlocked                Status = "blocked"
	StatusTempError              Status = "temp_error"
	StatusTemporarilyUnavailable Status = "temporarily_unavailable"
	StatusOverloaded             Status = "overloaded"
	StatusQuotaExceeded          Status = "quota_exceeded"
	StatusError                  Status = "error"
)

// TTLGoverned reports whether the status auto-recovers when its ephemeral
// flag expires. Unauthorized, blocked, and quota_exceeded states are
// sticky: they need a successful call, an admin action, or the daily
// quota reset to clear.
func (s Status) TTLGoverned() bool {
	switch s {
	case StatusRateLimited, StatusTempError, StatusTemporarilyUnavailable, StatusOverloaded:
		return true
	default:
		return false
	}
}

// ParseStatus converts a stored status string, treating the empty string
// as active so that accounts never marked by the engine are selectable.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case "":
		return StatusActive, nil
	case StatusActive, StatusRateLimited, StatusUnauthorized, StatusBlocked,
		StatusTempError, StatusTemporarilyUnavailable, StatusOverloaded,
		StatusQuotaExceeded, StatusError:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unknown account status %q", raw)
	}
}

// ProxyConfig describes an outbound network proxy.
type ProxyConfig struct {
	// Scheme is the proxy protocol: "http", "https", or "socks5".
	Scheme string `yaml:"scheme" json:"scheme"`

	// Host is the proxy hostname or IP.
	Host string `yaml:"host" json:"host"`

	// Port is the proxy port as a string (kept as stored).
	Port string `yaml:"port" json:"port"`

	// Username and Password are optional proxy credentials.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// WellFormed reports whether the proxy config is usable: a recognized
// scheme and a non-empty host and port. Malformed configs are skipped by
// the resolver as if absent, never treated as fatal.
func (p *ProxyConfig) WellFormed() bool {
	if p == nil {
		return false
	}
	switch p.Scheme {
	case "http", "https", "socks5":
	default:
		return false
	}
	return p.Host != "" && p.Port != ""
}

// URL renders the proxy as a *url.URL suitable for http.Transport.Proxy.
func (p *ProxyConfig) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   p.Host + ":" + p.Port,
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u
}

// Account is one backend credential entry. Static identity, scheduling,
// and business fields come from the catalog; the mutable health fields
// (Status, Schedulable, ResetAt, ...) reflect the coordination store at
// decode time and are refreshed by the health registry on every check.
type Account struct {
	ID       string
	Platform Platform
	Type     AccountType

	// Scheduling attributes.
	Priority    int
	Schedulable bool
	LastUsedAt  time.Time
	CreatedAt   time.Time

	// Health.
	Status        Status
	NoFailover    bool
	RateLimitedAt time.Time
	ResetAt       time.Time
	ErrorMessage  string

	// Business attributes. SubscriptionExpiresAt is independent of any
	// credential-level expiry; an expired subscription makes the account
	// unselectable regardless of Status.
	SubscriptionExpiresAt time.Time

	// Quota. DailyQuota <= 0 means unlimited.
	DailyQuota    float64
	DailyUsage    float64
	LastResetDate string

	// Network.
	Proxy *ProxyConfig

	// RateLimitDuration overrides the engine default for this account's
	// rate-limit marks. Zero means use the default.
	RateLimitDuration time.Duration
}

// SubscriptionExpired reports whether the subscription lapsed before now.
// A zero SubscriptionExpiresAt means no subscription bound.
func (a *Account) SubscriptionExpired(now time.Time) bool {
	return !a.SubscriptionExpiresAt.IsZero() && a.SubscriptionExpiresAt.Before(now)
}

// Group is a named set of accounts restricted to one platform. Groups
// may carry a group-level proxy; ProxyPriority orders competing groups
// (lower wins) when an account belongs to several.
type Group struct {
	ID            string
	Name          string
	Platform      Platform
	Proxy         *ProxyConfig
	ProxyPriority int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
