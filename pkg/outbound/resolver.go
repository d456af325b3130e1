// Package outbound resolves the network proxy a request to an upstream
// provider should egress through.
//
// Resolution walks a fixed precedence chain — account, group, platform,
// global — and takes the first well-formed proxy it finds. Malformed
// proxy configurations are skipped as if absent; a bad record must never
// take an account out of service.
package outbound

import (
	"context"
	"log/slog"
	"sort"

	"aurora-hq/stratus/pkg/accounts"
)

// Source names the precedence level a proxy came from.
type Source string

const (
	SourceAccount  Source = "account"
	SourceGroup    Source = "group"
	SourcePlatform Source = "platform"
	SourceGlobal   Source = "global"
	SourceNone     Source = "none"
)

// Resolution is the outcome of a proxy lookup.
type Resolution struct {
	// Proxy is the proxy to use, nil when Source is "none".
	Proxy *accounts.ProxyConfig

	// Source records which precedence level supplied the proxy.
	Source Source
}

// Config holds the static tail of the precedence chain.
type Config struct {
	// Platforms maps platform names to platform-wide proxies.
	Platforms map[accounts.Platform]*accounts.ProxyConfig

	// Global is the last-resort fallback proxy.
	Global *accounts.ProxyConfig
}

// Resolver resolves outbound proxies.
type Resolver struct {
	catalog accounts.Catalog
	cfg     Config
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given catalog and static chain.
func NewResolver(catalog accounts.Catalog, cfg Config) *Resolver {
	return &Resolver{
		catalog: catalog,
		cfg:     cfg,
		logger:  slog.Default().With("component", "outbound.resolver"),
	}
}

// Resolve walks the precedence chain for the account: (1) the account's
// own proxy, (2) the account's groups on the same platform, lowest
// proxyPriority first (ties broken by most recent update, then most
// recent creation), (3) the platform proxy, (4) the global fallback,
// (5) no proxy.
//
// Group lookup failures degrade to the next level rather than failing
// the request.
func (r *Resolver) Resolve(ctx context.Context, acct *accounts.Account) Resolution {
	if acct.Proxy.WellFormed() {
		return Resolution{Proxy: acct.Proxy, Source: SourceAccount}
	}

	if proxy := r.groupProxy(ctx, acct); proxy != nil {
		return Resolution{Proxy: proxy, Source: SourceGroup}
	}

	if proxy := r.cfg.Platforms[acct.Platform]; proxy.WellFormed() {
		return Resolution{Proxy: proxy, Source: SourcePlatform}
	}

	if r.cfg.Global.WellFormed() {
		return Resolution{Proxy: r.cfg.Global, Source: SourceGlobal}
	}

	return Resolution{Source: SourceNone}
}

// groupProxy returns the best group-level proxy for the account, or nil.
func (r *Resolver) groupProxy(ctx context.Context, acct *accounts.Account) *accounts.ProxyConfig {
	groups, err := r.catalog.GroupsFor(ctx, acct.Platform, acct.ID)
	if err != nil {
		r.logger.Warn("group proxy lookup failed, falling through",
			"account", acct.ID,
			"platform", acct.Platform,
			"error", err,
		)
		return nil
	}
	if len(groups) == 0 {
		return nil
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.ProxyPriority != b.ProxyPriority {
			return a.ProxyPriority < b.ProxyPriority
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	for _, g := range groups {
		if g.Proxy.WellFormed() {
			return g.Proxy
		}
	}
	return nil
}
