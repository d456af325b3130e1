package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/events"
	"aurora-hq/stratus/pkg/store"
	"aurora-hq/stratus/pkg/telemetry/metrics"
)

// RegistryConfig tunes default disable durations.
type RegistryConfig struct {
	// RateLimitDuration is used when neither the caller nor the account
	// record supplies a rate-limit duration.
	RateLimitDuration time.Duration

	// UnavailableTTL is the default temporarily-unavailable flag TTL.
	UnavailableTTL time.Duration

	// OverloadedTTL is the default overloaded flag TTL.
	OverloadedTTL time.Duration
}

// Registry owns the per-account status field and ephemeral TTL flags.
// All mark and clear operations are idempotent and best-effort; health
// checks start with an opportunistic expiry reconciliation so a flag
// that quietly expired flips the status back to active without waiting
// for the sweeper.
type Registry struct {
	store   store.Store
	emitter events.Emitter
	metrics *metrics.PoolMetrics
	logger  *slog.Logger
	cfg     RegistryConfig
	now     func() time.Time
}

// NewRegistry creates a health registry. emitter may be nil to disable
// events; pm may be nil to disable metrics.
func NewRegistry(s store.Store, cfg RegistryConfig, emitter events.Emitter, pm *metrics.PoolMetrics) *Registry {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Registry{
		store:   s,
		emitter: emitter,
		metrics: pm,
		logger:  slog.Default().With("component", "health.registry"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// MarkRateLimited sets status=rate_limited with a reset deadline.
// Duration precedence: the explicit override (usually the upstream
// Retry-After), then the account's configured duration, then the engine
// default.
func (r *Registry) MarkRateLimited(ctx context.Context, acct *accounts.Account, override time.Duration) {
	duration := override
	if duration <= 0 {
		duration = acct.RateLimitDuration
	}
	if duration <= 0 {
		duration = r.cfg.RateLimitDuration
	}

	now := r.now()
	r.markDegraded(ctx, acct, accounts.StatusRateLimited, "rate limited by upstream", duration, map[string]string{
		accounts.FieldSchedulable:   "false",
		accounts.FieldRateLimitedAt: accounts.FormatTime(now),
		accounts.FieldResetAt:       accounts.FormatTime(now.Add(duration)),
	})
}

// MarkUnauthorized sets status=unauthorized. No auto-expiry: only a
// subsequent successful call or administrative action clears it. (The
// temp-error escalation path covers repeated credential failures with a
// bounded TTL instead; see the FailureTracker.)
func (r *Registry) MarkUnauthorized(ctx context.Context, acct *accounts.Account, reason string) {
	r.markDegraded(ctx, acct, accounts.StatusUnauthorized, reason, 0, map[string]string{
		accounts.FieldSchedulable:  "false",
		accounts.FieldErrorMessage: reason,
	})
}

// MarkBlocked sets status=blocked for hard policy denials. Same shape as
// unauthorized: sticky until success or admin action.
func (r *Registry) MarkBlocked(ctx context.Context, acct *accounts.Account, reason string) {
	r.markDegraded(ctx, acct, accounts.StatusBlocked, reason, 0, map[string]string{
		accounts.FieldSchedulable:  "false",
		accounts.FieldErrorMessage: reason,
	})
}

// MarkTemporarilyUnavailable sets status=temporarily_unavailable for a
// single upstream 5xx or transport failure. Schedulable is left alone;
// selection skips the account through the status check until the flag
// expires.
func (r *Registry) MarkTemporarilyUnavailable(ctx context.Context, acct *accounts.Account, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.cfg.UnavailableTTL
	}
	r.markDegraded(ctx, acct, accounts.StatusTemporarilyUnavailable, "upstream error", ttl, nil)
}

// MarkOverloaded sets status=overloaded for capacity-exceeded signals,
// kept distinct from generic 5xx so operators can tell them apart.
func (r *Registry) MarkOverloaded(ctx context.Context, acct *accounts.Account, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.cfg.OverloadedTTL
	}
	r.markDegraded(ctx, acct, accounts.StatusOverloaded, "upstream overloaded", ttl, nil)
}

// MarkQuotaExceeded sets status=quota_exceeded. Only the sweeper's daily
// reset boundary clears it.
func (r *Registry) MarkQuotaExceeded(ctx context.Context, acct *accounts.Account) {
	r.markDegraded(ctx, acct, accounts.StatusQuotaExceeded, "daily quota exceeded", 0, nil)
}

// RecordUsage accumulates daily usage and flips the account to
// quota_exceeded when the configured quota is reached. Returns the new
// accumulated usage.
func (r *Registry) RecordUsage(ctx context.Context, acct *accounts.Account, cost float64) float64 {
	key := store.AccountKey(string(acct.Platform), acct.ID)
	usage, err := r.store.HIncrByFloat(ctx, key, accounts.FieldDailyUsage, cost)
	if err != nil {
		r.logger.Warn("usage record failed",
			"account", acct.ID,
			"platform", acct.Platform,
			"error", err,
		)
		return acct.DailyUsage
	}

	if acct.DailyQuota > 0 && usage >= acct.DailyQuota {
		r.MarkQuotaExceeded(ctx, acct)
	}
	return usage
}

// ClearIfHealthy resets the account to active after a successful
// upstream call, clearing rate-limited, unauthorized, overloaded, and
// temporarily-unavailable marks. Errors here never fail the surrounding
// request.
func (r *Registry) ClearIfHealthy(ctx context.Context, acct *accounts.Account) {
	key := store.AccountKey(string(acct.Platform), acct.ID)

	raw, err := r.store.HGet(ctx, key, accounts.FieldStatus)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("health clear skipped: status read failed", "account", acct.ID, "error", err)
		return
	}
	status, err := accounts.ParseStatus(raw)
	if err != nil || !clearableOnSuccess(status) {
		return
	}

	r.resetToActive(ctx, acct, status, "successful upstream call")
}

// clearableOnSuccess lists the statuses a successful call clears.
// temp_error and quota_exceeded are excluded: the first recovers by TTL
// or sweeper, the second only at the daily reset boundary.
func clearableOnSuccess(s accounts.Status) bool {
	switch s {
	case accounts.StatusRateLimited, accounts.StatusUnauthorized,
		accounts.StatusOverloaded, accounts.StatusTemporarilyUnavailable:
		return true
	default:
		return false
	}
}

// IsHealthy reports whether the account is currently selectable:
// status active after opportunistic reconciliation, schedulable, and
// subscription not expired.
func (r *Registry) IsHealthy(ctx context.Context, acct *accounts.Account) bool {
	if acct.SubscriptionExpired(r.now()) {
		return false
	}
	if !acct.Schedulable {
		return false
	}

	key := store.AccountKey(string(acct.Platform), acct.ID)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		// Store trouble must not empty the pool: fall back to the
		// caller's decoded snapshot.
		r.logger.Warn("health check degraded to snapshot", "account", acct.ID, "error", err)
		return acct.Status == accounts.StatusActive
	}

	status, err := accounts.ParseStatus(fields[accounts.FieldStatus])
	if err != nil {
		return false
	}

	// Opportunistic reconciliation: a TTL-governed status whose flag has
	// expired means the disable window is over but nothing observed it
	// yet. Reset here instead of waiting for the sweeper.
	if status.TTLGoverned() {
		flagged, ferr := r.store.Exists(ctx, store.FlagKey(string(status), string(acct.Platform), acct.ID))
		if ferr == nil && !flagged {
			r.resetToActive(ctx, acct, status, "disable window expired")
			status = accounts.StatusActive
		}
	}

	if status != accounts.StatusActive {
		r.metrics.UpdateAccountHealth(string(acct.Platform), acct.ID, false)
		return false
	}
	if raw, ok := fields[accounts.FieldSchedulable]; ok && raw == "false" {
		return false
	}

	r.metrics.UpdateAccountHealth(string(acct.Platform), acct.ID, true)
	return true
}

// ResetToActive forcibly returns an account to active, clearing degraded
// fields, flags, and the failure counter. Used by the sweeper and by
// opportunistic reconciliation.
func (r *Registry) ResetToActive(ctx context.Context, acct *accounts.Account, from accounts.Status, reason string) {
	r.resetToActive(ctx, acct, from, reason)
}

func (r *Registry) resetToActive(ctx context.Context, acct *accounts.Account, from accounts.Status, reason string) {
	key := store.AccountKey(string(acct.Platform), acct.ID)

	err := r.store.HSet(ctx, key, map[string]string{
		accounts.FieldStatus:      string(accounts.StatusActive),
		accounts.FieldSchedulable: "true",
	})
	if err != nil {
		r.logger.Warn("health reset failed", "account", acct.ID, "error", err)
		return
	}
	if err := r.store.HDel(ctx, key,
		accounts.FieldResetAt,
		accounts.FieldRateLimitedAt,
		accounts.FieldErrorMessage,
	); err != nil {
		r.logger.Warn("health reset field cleanup failed", "account", acct.ID, "error", err)
	}

	// Drop any surviving flags so pass-two sweeps see a consistent pair.
	flagKeys := make([]string, 0, 4)
	for _, s := range []accounts.Status{
		accounts.StatusRateLimited,
		accounts.StatusTempError,
		accounts.StatusTemporarilyUnavailable,
		accounts.StatusOverloaded,
	} {
		flagKeys = append(flagKeys, store.FlagKey(string(s), string(acct.Platform), acct.ID))
	}
	if err := r.store.Del(ctx, flagKeys...); err != nil {
		r.logger.Warn("health flag cleanup failed", "account", acct.ID, "error", err)
	}
	if err := r.store.Del(ctx, store.FailureCountKey(string(acct.Platform), acct.ID)); err != nil {
		r.logger.Warn("failure counter cleanup failed", "account", acct.ID, "error", err)
	}

	r.logger.Info("account recovered",
		"account", acct.ID,
		"platform", acct.Platform,
		"previous_status", from,
		"reason", reason,
	)
	r.metrics.UpdateAccountHealth(string(acct.Platform), acct.ID, true)
	r.emitter.Emit(events.New(events.TypeAccountRecovered, string(acct.Platform), acct.ID,
		string(accounts.StatusActive), reason))
}

// markDegraded writes a degraded status, optional extra hash fields, and
// an ephemeral flag when flagTTL > 0. All writes are best-effort.
func (r *Registry) markDegraded(ctx context.Context, acct *accounts.Account, status accounts.Status, reason string, flagTTL time.Duration, extra map[string]string) {
	key := store.AccountKey(string(acct.Platform), acct.ID)

	fields := map[string]string{accounts.FieldStatus: string(status)}
	for k, v := range extra {
		fields[k] = v
	}

	if err := r.store.HSet(ctx, key, fields); err != nil {
		r.logger.Warn("health mark failed, account remains selectable",
			"account", acct.ID,
			"platform", acct.Platform,
			"status", status,
			"error", err,
		)
		return
	}

	if flagTTL > 0 {
		flag := store.FlagKey(string(status), string(acct.Platform), acct.ID)
		if err := r.store.Set(ctx, flag, "1", flagTTL); err != nil {
			r.logger.Warn("health flag write failed", "account", acct.ID, "error", err)
		}
	}

	r.logger.Warn("account marked",
		"account", acct.ID,
		"platform", acct.Platform,
		"status", status,
		"reason", reason,
		"ttl", flagTTL,
	)
	r.metrics.RecordHealthMark(string(acct.Platform), string(status))
	r.metrics.UpdateAccountHealth(string(acct.Platform), acct.ID, false)
	r.emitter.Emit(events.New(events.TypeAccountMarked, string(acct.Platform), acct.ID,
		string(status), reason))
}
