// Package session maps request-derived session fingerprints to the
// account that served them, keeping multi-turn conversations on the same
// backend.
//
// Mappings live in the coordination store with a sliding TTL: each
// successful reuse refreshes the window, so active conversations persist
// and idle ones expire. A mapping can outlive its account's health — the
// selector must re-verify before reuse and the failover executor
// invalidates mappings whose account just failed.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/store"
)

// Key identifies one session mapping.
type Key struct {
	Platform      accounts.Platform
	ConsumerKeyID string
	Fingerprint   string
}

func (k Key) storeKey() string {
	return store.SessionKey(string(k.Platform), k.ConsumerKeyID, k.Fingerprint)
}

// Map is the session affinity store.
type Map struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewMap creates an affinity map with the given sliding TTL.
func NewMap(s store.Store, ttl time.Duration) *Map {
	return &Map{
		store:  s,
		ttl:    ttl,
		logger: slog.Default().With("component", "session.affinity"),
	}
}

// Resolve returns the account ID previously bound to the key, or ""
// when no live mapping exists. A hit is a cache hit, not a guarantee:
// the caller must re-verify the account is still healthy.
func (m *Map) Resolve(ctx context.Context, key Key) string {
	accountID, err := m.store.Get(ctx, key.storeKey())
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		m.logger.Warn("session lookup failed", "platform", key.Platform, "error", err)
		return ""
	}
	return accountID
}

// Bind creates or overwrites the mapping with a fresh TTL.
func (m *Map) Bind(ctx context.Context, key Key, accountID string) {
	if err := m.store.Set(ctx, key.storeKey(), accountID, m.ttl); err != nil {
		m.logger.Warn("session bind failed",
			"platform", key.Platform,
			"account", accountID,
			"error", err,
		)
	}
}

// Extend refreshes the mapping's TTL without changing its value, called
// on every successful reuse so the expiry slides with activity.
func (m *Map) Extend(ctx context.Context, key Key) {
	err := m.store.Expire(ctx, key.storeKey(), m.ttl)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("session extend failed", "platform", key.Platform, "error", err)
	}
}

// Invalidate deletes the mapping. The failover executor calls this when
// the mapped account is excluded after a failure, so the next request in
// the conversation does not land on a known-bad account.
func (m *Map) Invalidate(ctx context.Context, key Key) {
	if err := m.store.Del(ctx, key.storeKey()); err != nil {
		m.logger.Warn("session invalidate failed", "platform", key.Platform, "error", err)
	}
}
