package health

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/store"
)

// tempErrorLockTTL bounds the escalation critical section. Short on
// purpose: the section is two store round-trips.
const tempErrorLockTTL = 10 * time.Second

// TrackerConfig tunes the rolling failure window and its escalation.
type TrackerConfig struct {
	// Window is the rolling counter window, anchored at the first
	// failure.
	Window time.Duration

	// Threshold is the failure count that escalates to a temp-error
	// disable.
	Threshold int

	// DisableDuration is how long the escalation disables the account.
	DisableDuration time.Duration
}

// FailureTracker detects "many failures in a short window" independent
// of single-request marks. Individual 5xx responses each cost only a
// short unavailability; the tracker layers a coarser bounded disable on
// top when they keep coming.
type FailureTracker struct {
	store    store.Store
	registry *Registry
	cfg      TrackerConfig
	logger   *slog.Logger
}

// NewFailureTracker creates a tracker that escalates through the given
// registry.
func NewFailureTracker(s store.Store, registry *Registry, cfg TrackerConfig) *FailureTracker {
	return &FailureTracker{
		store:    s,
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default().With("component", "health.failures"),
	}
}

// RecordFailure atomically increments the account's windowed counter and
// returns the new count. Store errors return zero: a missed increment
// only delays escalation.
func (t *FailureTracker) RecordFailure(ctx context.Context, acct *accounts.Account) int64 {
	count, err := t.store.IncrWindow(ctx, store.FailureCountKey(string(acct.Platform), acct.ID), t.cfg.Window)
	if err != nil {
		t.logger.Warn("failure count increment failed", "account", acct.ID, "error", err)
		return 0
	}
	return count
}

// FailureCount returns the current windowed count without incrementing.
func (t *FailureTracker) FailureCount(ctx context.Context, acct *accounts.Account) int64 {
	raw, err := t.store.Get(ctx, store.FailureCountKey(string(acct.Platform), acct.ID))
	if errors.Is(err, store.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.logger.Warn("failure count read failed", "account", acct.ID, "error", err)
		return 0
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// ClearFailures resets the rolling counter, called after a successful
// upstream call.
func (t *FailureTracker) ClearFailures(ctx context.Context, acct *accounts.Account) {
	if err := t.store.Del(ctx, store.FailureCountKey(string(acct.Platform), acct.ID)); err != nil {
		t.logger.Warn("failure count clear failed", "account", acct.ID, "error", err)
	}
}

// RecordAndEscalate increments the counter and, when the window count
// reaches the threshold, escalates to a temp-error disable. Returns the
// new count and whether escalation fired.
func (t *FailureTracker) RecordAndEscalate(ctx context.Context, acct *accounts.Account) (int64, bool) {
	count := t.RecordFailure(ctx, acct)
	if count < int64(t.cfg.Threshold) {
		return count, false
	}
	return count, t.MarkTempError(ctx, acct)
}

// MarkTempError applies the bounded temp-error disable: status=temp_error,
// schedulable=false, flag TTL = DisableDuration, counter cleared.
//
// The section is guarded by a short distributed lock so two callers
// crossing the threshold concurrently do not double-fire; if the account
// is already temp_error the call no-ops. Returns true if this call
// performed the escalation.
func (t *FailureTracker) MarkTempError(ctx context.Context, acct *accounts.Account) bool {
	lockKey := store.TempErrorLockKey(string(acct.Platform), acct.ID)
	acquired, err := t.store.AcquireLock(ctx, lockKey, uuid.NewString(), tempErrorLockTTL)
	if err != nil {
		t.logger.Warn("temp-error lock failed", "account", acct.ID, "error", err)
		return false
	}
	if !acquired {
		// Another caller is escalating right now.
		return false
	}
	defer func() {
		// Release must survive request cancellation so a disconnecting
		// client cannot wedge the escalation section for other callers.
		if err := t.store.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
			t.logger.Warn("temp-error lock release failed", "account", acct.ID, "error", err)
		}
	}()

	key := store.AccountKey(string(acct.Platform), acct.ID)
	raw, err := t.store.HGet(ctx, key, accounts.FieldStatus)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		t.logger.Warn("temp-error status read failed", "account", acct.ID, "error", err)
		return false
	}
	if accounts.Status(raw) == accounts.StatusTempError {
		return false
	}

	t.registry.markDegraded(ctx, acct, accounts.StatusTempError,
		"failure threshold reached", t.cfg.DisableDuration, map[string]string{
			accounts.FieldSchedulable: "false",
		})
	t.ClearFailures(ctx, acct)
	return true
}
