package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/store"
	"aurora-hq/stratus/pkg/telemetry/metrics"
)

// ErrNoCredential is returned when an account has neither an access
// token nor a refresh token on record.
var ErrNoCredential = errors.New("token: account has no stored credential")

// Refresher performs the platform-specific token exchange. It is called
// with the current (stale) credential and returns the replacement.
// Implementations are invoked under the refresh lock: at most one call
// per account runs at a time across all processes.
type Refresher interface {
	Refresh(ctx context.Context, acct *accounts.Account, current Credential) (Credential, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, acct *accounts.Account, current Credential) (Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, acct *accounts.Account, current Credential) (Credential, error) {
	return f(ctx, acct, current)
}

// Config tunes refresh buffers, lock behavior, and the local cache.
// Zero fields take the engine defaults.
type Config struct {
	// RefreshBuffer is how close to expiry a credential may get before a
	// refresh is required.
	RefreshBuffer time.Duration

	// ShortLivedThreshold: tokens whose total lifetime is below this use
	// ShortLivedBuffer instead of RefreshBuffer.
	ShortLivedThreshold time.Duration

	// ShortLivedBuffer is the extended refresh buffer for short-lived
	// tokens. Larger than RefreshBuffer: a token that expires in minutes
	// leaves no room to absorb a refresh hiccup, so it is rotated earlier.
	ShortLivedBuffer time.Duration

	// LockTTL is the absolute TTL of the refresh lock, the safety net
	// against a holder that crashes mid-refresh.
	LockTTL time.Duration

	// LockRetryWait is how long a contended caller sleeps before
	// re-reading the stored credential.
	LockRetryWait time.Duration

	// CacheSize bounds the in-process credential cache.
	CacheSize int

	// CacheTTL time-boxes cached credentials independent of their expiry.
	CacheTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = 60 * time.Second
	}
	if c.ShortLivedThreshold <= 0 {
		c.ShortLivedThreshold = 5 * time.Minute
	}
	if c.ShortLivedBuffer <= 0 {
		c.ShortLivedBuffer = 2 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockRetryWait <= 0 {
		c.LockRetryWait = 2 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
}

// Coordinator hands out valid credentials, refreshing them under a
// distributed lock when they near expiry.
type Coordinator struct {
	store     store.Store
	refresher Refresher
	cfg       Config
	cache     *credCache
	metrics   *metrics.PoolMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator. pm may be nil to disable metrics.
func NewCoordinator(s store.Store, refresher Refresher, cfg Config, pm *metrics.PoolMetrics) *Coordinator {
	cfg.applyDefaults()
	now := time.Now
	return &Coordinator{
		store:     s,
		refresher: refresher,
		cfg:       cfg,
		cache:     newCredCache(cfg.CacheSize, cfg.CacheTTL, now),
		metrics:   pm,
		logger:    slog.Default().With("component", "token.coordinator"),
		now:       now,
	}
}

// ValidCredential returns a credential expected to be accepted upstream.
//
// A fresh stored credential is returned as-is. A credential inside its
// refresh buffer triggers a locked refresh; losing the lock race means
// another process is already refreshing, so the caller waits briefly and
// re-reads. The re-read may still be stale in rare races — that is
// deliberate: the resulting 401 flows through failover rather than
// retrying the refresh here indefinitely.
func (c *Coordinator) ValidCredential(ctx context.Context, acct *accounts.Account) (Credential, error) {
	cacheKey := string(acct.Platform) + ":" + acct.ID

	if cred, ok := c.cache.get(cacheKey); ok && c.fresh(cred) {
		return cred, nil
	}

	cred, err := c.load(ctx, acct)
	if err != nil {
		return Credential{}, err
	}
	if c.fresh(cred) {
		c.cache.put(cacheKey, cred)
		return cred, nil
	}
	if cred.RefreshToken == "" {
		// Nothing to refresh with: hand back what we have and let the
		// upstream verdict drive health marking.
		return cred, nil
	}

	lockKey := store.RefreshLockKey(string(acct.Platform), acct.ID)
	acquired, err := c.store.AcquireLock(ctx, lockKey, uuid.NewString(), c.cfg.LockTTL)
	if err != nil {
		return Credential{}, fmt.Errorf("token: acquire refresh lock for %s: %w", acct.ID, err)
	}

	if !acquired {
		return c.awaitHolder(ctx, acct, cacheKey, cred)
	}

	defer func() {
		// Release must survive request cancellation, or the lock wedges
		// every other process's refresh for the full LockTTL.
		if err := c.store.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
			c.logger.Warn("refresh lock release failed", "account", acct.ID, "error", err)
		}
	}()

	// Double-check under the lock: the previous holder may have finished
	// between our first read and the acquire.
	cred, err = c.load(ctx, acct)
	if err != nil {
		return Credential{}, err
	}
	if c.fresh(cred) {
		c.cache.put(cacheKey, cred)
		return cred, nil
	}

	refreshed, err := c.refresher.Refresh(ctx, acct, cred)
	if err != nil {
		return Credential{}, fmt.Errorf("token: refresh for %s: %w", acct.ID, err)
	}

	key := store.AccountKey(string(acct.Platform), acct.ID)
	if err := c.store.HSet(ctx, key, EncodeCredential(refreshed)); err != nil {
		// The refreshed token is still good for this request even if the
		// write failed; the next caller will refresh again.
		c.logger.Warn("refreshed credential write failed", "account", acct.ID, "error", err)
	}

	c.cache.put(cacheKey, refreshed)
	c.logger.Info("credential refreshed",
		"account", acct.ID,
		"platform", acct.Platform,
		"expires_at", refreshed.ExpiresAt,
	)
	return refreshed, nil
}

// Invalidate drops the in-process cache entry for an account, used when
// an upstream 401 proves a cached credential bad.
func (c *Coordinator) Invalidate(acct *accounts.Account) {
	c.cache.drop(string(acct.Platform) + ":" + acct.ID)
}

// awaitHolder is the contended path: sleep one retry interval, then
// re-read whatever the lock holder stored.
func (c *Coordinator) awaitHolder(ctx context.Context, acct *accounts.Account, cacheKey string, stale Credential) (Credential, error) {
	start := c.now()

	timer := time.NewTimer(c.cfg.LockRetryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case <-timer.C:
	}
	c.metrics.ObserveRefreshLockWait(c.now().Sub(start).Seconds())

	cred, err := c.load(ctx, acct)
	if err != nil {
		return Credential{}, err
	}
	if c.fresh(cred) {
		c.cache.put(cacheKey, cred)
		return cred, nil
	}

	// Holder still running or failed. Surface the stale credential; the
	// upstream 401, if any, is handled by failover.
	c.logger.Debug("refresh lock contended, proceeding with stored credential",
		"account", acct.ID,
		"platform", acct.Platform,
	)
	if cred.Empty() {
		return stale, nil
	}
	return cred, nil
}

func (c *Coordinator) load(ctx context.Context, acct *accounts.Account) (Credential, error) {
	key := store.AccountKey(string(acct.Platform), acct.ID)
	fields, err := c.store.HGetAll(ctx, key)
	if err != nil {
		return Credential{}, fmt.Errorf("token: load credential for %s: %w", acct.ID, err)
	}

	cred := DecodeCredential(fields)
	if cred.Empty() {
		return Credential{}, fmt.Errorf("%w: %s/%s", ErrNoCredential, acct.Platform, acct.ID)
	}
	return cred, nil
}

func (c *Coordinator) fresh(cred Credential) bool {
	return cred.FreshAt(c.now(), c.cfg.RefreshBuffer, c.cfg.ShortLivedThreshold, c.cfg.ShortLivedBuffer)
}
