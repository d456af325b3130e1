// Package scheduler selects the account that will carry a request.
//
// Selection walks three pool tiers — the consumer key's dedicated
// account, its bound group, then the platform-wide shared pool — falling
// through only when the prior tier has no healthy, non-excluded
// candidate left. Within a tier, survivors are ordered by priority, then
// least-recently-used, then age.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/health"
	"aurora-hq/stratus/pkg/session"
	"aurora-hq/stratus/pkg/store"
	"aurora-hq/stratus/pkg/telemetry/metrics"
)

// Tier names the pool tier a selection came from.
type Tier string

const (
	// TierSession means a sticky-session mapping was reused.
	TierSession Tier = "session"
	// TierDedicated means the consumer key's own bound account was used.
	TierDedicated Tier = "dedicated"
	// TierGroup means a member of the consumer key's bound group was used.
	TierGroup Tier = "group"
	// TierShared means the platform-wide shared pool was used.
	TierShared Tier = "shared"
)

// Request carries the pool-resolution inputs for one inbound request.
type Request struct {
	// Platform is the backend provider kind.
	Platform accounts.Platform

	// ConsumerKeyID identifies the calling API key.
	ConsumerKeyID string

	// DedicatedAccountID is the key's explicit account binding, if any.
	DedicatedAccountID string

	// GroupID is the key's group binding, if any.
	GroupID string

	// SessionFingerprint is the opaque conversation fingerprint used for
	// sticky routing. Empty disables affinity for this request.
	SessionFingerprint string
}

// SessionKey returns the affinity key for the request, and false when
// the request carries no fingerprint.
func (r *Request) SessionKey() (session.Key, bool) {
	if r.SessionFingerprint == "" {
		return session.Key{}, false
	}
	return session.Key{
		Platform:      r.Platform,
		ConsumerKeyID: r.ConsumerKeyID,
		Fingerprint:   r.SessionFingerprint,
	}, true
}

// Selector picks the single best account for a request.
type Selector struct {
	catalog  accounts.Catalog
	registry *health.Registry
	sessions *session.Map
	store    store.Store
	metrics  *metrics.PoolMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSelector creates a selector. pm may be nil to disable metrics.
func NewSelector(catalog accounts.Catalog, registry *health.Registry, sessions *session.Map, s store.Store, pm *metrics.PoolMetrics) *Selector {
	return &Selector{
		catalog:  catalog,
		registry: registry,
		sessions: sessions,
		store:    s,
		metrics:  pm,
		logger:   slog.Default().With("component", "scheduler.selector"),
		now:      time.Now,
	}
}

// Select returns the best available account for the request, excluding
// the given account IDs (the failover executor's tried-and-failed set).
//
// A sticky-session hit short-circuits tier resolution, but only after
// re-verifying the mapped account is still healthy and not excluded — a
// mapping is a cache hit, not a guarantee. On a fresh selection the
// mapping is (re)bound and the account's lastUsedAt is touched.
func (s *Selector) Select(ctx context.Context, req *Request, exclude map[string]struct{}) (*accounts.Account, Tier, error) {
	if acct := s.resolveSession(ctx, req, exclude); acct != nil {
		s.metrics.RecordSelection(string(req.Platform), string(TierSession))
		return acct, TierSession, nil
	}

	for _, tier := range []Tier{TierDedicated, TierGroup, TierShared} {
		candidates, err := s.tierCandidates(ctx, req, tier)
		if err != nil {
			return nil, "", err
		}

		survivors := s.filter(ctx, candidates, exclude)
		if len(survivors) == 0 {
			continue
		}

		sortCandidates(survivors)
		chosen := survivors[0]

		s.touch(ctx, chosen)
		if key, ok := req.SessionKey(); ok {
			s.sessions.Bind(ctx, key, chosen.ID)
		}

		s.logger.Debug("account selected",
			"platform", req.Platform,
			"account", chosen.ID,
			"tier", tier,
			"candidates", len(survivors),
		)
		s.metrics.RecordSelection(string(req.Platform), string(tier))
		return chosen, tier, nil
	}

	s.metrics.RecordSelectionError(string(req.Platform))
	return nil, "", fmt.Errorf("%w: platform %s, %d excluded",
		ErrNoAvailableAccount, req.Platform, len(exclude))
}

// resolveSession tries the sticky-session mapping. Returns nil on miss,
// on an excluded or unhealthy mapped account, or when the request has no
// fingerprint.
func (s *Selector) resolveSession(ctx context.Context, req *Request, exclude map[string]struct{}) *accounts.Account {
	key, ok := req.SessionKey()
	if !ok {
		return nil
	}

	accountID := s.sessions.Resolve(ctx, key)
	if accountID == "" {
		s.metrics.RecordSessionLookup(string(req.Platform), "miss")
		return nil
	}
	if _, excluded := exclude[accountID]; excluded {
		s.metrics.RecordSessionLookup(string(req.Platform), "invalid")
		return nil
	}

	acct, err := s.catalog.Get(ctx, req.Platform, accountID)
	if err != nil || !s.registry.IsHealthy(ctx, acct) {
		// Stale mapping: the account vanished or degraded since it was
		// bound. Drop it so the fresh selection below rebinds.
		s.sessions.Invalidate(ctx, key)
		s.metrics.RecordSessionLookup(string(req.Platform), "invalid")
		return nil
	}

	s.sessions.Extend(ctx, key)
	s.touch(ctx, acct)
	s.metrics.RecordSessionLookup(string(req.Platform), "hit")
	return acct
}

// tierCandidates resolves the raw candidate list for one tier. Tiers the
// request is not bound to yield no candidates.
func (s *Selector) tierCandidates(ctx context.Context, req *Request, tier Tier) ([]*accounts.Account, error) {
	switch tier {
	case TierDedicated:
		if req.DedicatedAccountID == "" {
			return nil, nil
		}
		acct, err := s.catalog.Get(ctx, req.Platform, req.DedicatedAccountID)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*accounts.Account{acct}, nil

	case TierGroup:
		if req.GroupID == "" {
			return nil, nil
		}
		return s.catalog.ListGroup(ctx, req.Platform, req.GroupID)

	case TierShared:
		all, err := s.catalog.ListPlatform(ctx, req.Platform)
		if err != nil {
			return nil, err
		}
		shared := make([]*accounts.Account, 0, len(all))
		for _, acct := range all {
			if acct.Type == accounts.TypeShared {
				shared = append(shared, acct)
			}
		}
		return shared, nil

	default:
		return nil, nil
	}
}

// filter drops excluded and unhealthy candidates.
func (s *Selector) filter(ctx context.Context, candidates []*accounts.Account, exclude map[string]struct{}) []*accounts.Account {
	survivors := make([]*accounts.Account, 0, len(candidates))
	for _, acct := range candidates {
		if _, excluded := exclude[acct.ID]; excluded {
			continue
		}
		if !s.registry.IsHealthy(ctx, acct) {
			s.logger.Debug("candidate excluded by health",
				"platform", acct.Platform,
				"account", acct.ID,
				"status", acct.Status,
			)
			continue
		}
		survivors = append(survivors, acct)
	}
	return survivors
}

// sortCandidates orders by priority ascending, then lastUsedAt ascending
// (least recently used first, with never-used accounts at the front),
// then createdAt ascending.
func sortCandidates(candidates []*accounts.Account) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// touch records the selection time for LRU ordering. Best-effort.
func (s *Selector) touch(ctx context.Context, acct *accounts.Account) {
	now := s.now()
	acct.LastUsedAt = now
	err := s.store.HSet(ctx, store.AccountKey(string(acct.Platform), acct.ID), map[string]string{
		accounts.FieldLastUsedAt: accounts.FormatTime(now),
	})
	if err != nil {
		s.logger.Warn("lastUsedAt update failed", "account", acct.ID, "error", err)
	}
}
