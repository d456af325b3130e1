// Package sweeper periodically reconciles account health state.
//
// The TTL flags and the authoritative status field can drift: a flag
// expires with nobody looking, or a reset races with a mark and leaves a
// flag behind. The sweeper runs two passes to converge them, plus the
// daily quota reset at the configured date boundary.
package sweeper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/health"
	"aurora-hq/stratus/pkg/store"
)

// Config tunes the sweeper passes.
type Config struct {
	// Platforms lists the platforms to reconcile.
	Platforms []accounts.Platform

	// Location is the timezone whose midnight is the daily quota reset
	// boundary.
	Location *time.Location
}

// Stats summarizes one sweep.
type Stats struct {
	// OrphanFlags is the number of flag keys deleted because their
	// account no longer carries the flagged status.
	OrphanFlags int

	// Recovered is the number of accounts reset to active because their
	// disable flag had expired.
	Recovered int

	// QuotaResets is the number of accounts whose daily usage was zeroed
	// at the date boundary.
	QuotaResets int
}

// Sweeper reconciles flags against statuses and applies quota resets.
type Sweeper struct {
	store    store.Store
	catalog  accounts.Catalog
	registry *health.Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a sweeper. A nil Location defaults to UTC.
func New(s store.Store, catalog accounts.Catalog, registry *health.Registry, cfg Config) *Sweeper {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Sweeper{
		store:    s,
		catalog:  catalog,
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default().With("component", "sweeper"),
		now:      time.Now,
	}
}

// Sweep runs one full reconciliation cycle. Every step is best-effort:
// a failure on one account is logged and the sweep moves on.
func (s *Sweeper) Sweep(ctx context.Context) Stats {
	var stats Stats
	stats.OrphanFlags = s.sweepOrphanFlags(ctx)

	for _, platform := range s.cfg.Platforms {
		recovered, resets := s.sweepPlatform(ctx, platform)
		stats.Recovered += recovered
		stats.QuotaResets += resets
	}

	if stats.OrphanFlags > 0 || stats.Recovered > 0 || stats.QuotaResets > 0 {
		s.logger.Info("sweep completed",
			"orphan_flags", stats.OrphanFlags,
			"recovered", stats.Recovered,
			"quota_resets", stats.QuotaResets,
		)
	}
	return stats
}

// sweepOrphanFlags is the first pass: a flag key whose account no longer
// carries the flagged status is leftover state from a reset that raced a
// mark. Delete it so the flag namespace mirrors reality.
func (s *Sweeper) sweepOrphanFlags(ctx context.Context) int {
	keys, err := s.store.Scan(ctx, store.FlagScanPattern())
	if err != nil {
		s.logger.Warn("flag scan failed", "error", err)
		return 0
	}

	deleted := 0
	for _, key := range keys {
		state, platform, accountID, ok := parseFlagKey(key)
		if !ok {
			continue
		}

		raw, err := s.store.HGet(ctx, store.AccountKey(platform, accountID), accounts.FieldStatus)
		if err != nil {
			continue
		}
		if raw == state {
			continue
		}

		if err := s.store.Del(ctx, key); err != nil {
			s.logger.Warn("orphan flag delete failed", "key", key, "error", err)
			continue
		}
		s.logger.Debug("orphan flag removed",
			"platform", platform,
			"account", accountID,
			"flag", state,
			"status", raw,
		)
		deleted++
	}
	return deleted
}

// sweepPlatform is the second pass plus the quota boundary check: every
// account whose authoritative status is TTL-governed but whose flag has
// expired gets reset, and stale daily usage is zeroed at the date
// boundary.
func (s *Sweeper) sweepPlatform(ctx context.Context, platform accounts.Platform) (recovered, quotaResets int) {
	accts, err := s.catalog.ListPlatform(ctx, platform)
	if err != nil {
		s.logger.Warn("platform listing failed", "platform", platform, "error", err)
		return 0, 0
	}

	today := s.now().In(s.cfg.Location).Format(time.DateOnly)
	for _, acct := range accts {
		if s.resetQuotaIfNewDay(ctx, acct, today) {
			quotaResets++
		}

		if !acct.Status.TTLGoverned() {
			continue
		}
		flagged, err := s.store.Exists(ctx, store.FlagKey(string(acct.Status), string(platform), acct.ID))
		if err != nil || flagged {
			continue
		}
		s.registry.ResetToActive(ctx, acct, acct.Status, "disable flag expired")
		recovered++
	}
	return recovered, quotaResets
}

// resetQuotaIfNewDay zeroes the usage counter when the stored reset date
// is not today in the configured timezone, and lifts quota_exceeded.
func (s *Sweeper) resetQuotaIfNewDay(ctx context.Context, acct *accounts.Account, today string) bool {
	if acct.LastResetDate == today {
		return false
	}
	if acct.LastResetDate == "" && acct.DailyUsage == 0 && acct.Status != accounts.StatusQuotaExceeded {
		// A never-used account only needs its reset date stamped.
		err := s.store.HSet(ctx, store.AccountKey(string(acct.Platform), acct.ID), map[string]string{
			accounts.FieldLastResetDate: today,
		})
		if err != nil {
			s.logger.Warn("reset date stamp failed", "account", acct.ID, "error", err)
		}
		return false
	}

	err := s.store.HSet(ctx, store.AccountKey(string(acct.Platform), acct.ID), map[string]string{
		accounts.FieldDailyUsage:    "0",
		accounts.FieldLastResetDate: today,
	})
	if err != nil {
		s.logger.Warn("quota reset failed", "account", acct.ID, "error", err)
		return false
	}

	if acct.Status == accounts.StatusQuotaExceeded {
		s.registry.ResetToActive(ctx, acct, acct.Status, "daily quota boundary")
	}
	s.logger.Info("daily usage reset",
		"account", acct.ID,
		"platform", acct.Platform,
		"previous_usage", acct.DailyUsage,
		"date", today,
	)
	return true
}

// parseFlagKey splits "stratus:flag:<state>:<platform>:<accountID>".
func parseFlagKey(key string) (state, platform, accountID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[1] != "flag" {
		return "", "", "", false
	}
	return parts[2], parts[3], parts[4], true
}
