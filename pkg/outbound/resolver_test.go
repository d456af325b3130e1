package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"aurora-hq/stratus/pkg/accounts"
)

// fakeCatalog serves canned group memberships.
type fakeCatalog struct {
	groups map[string][]*accounts.Group
	err    error
}

func (f *fakeCatalog) Get(context.Context, accounts.Platform, string) (*accounts.Account, error) {
	return nil, accounts.ErrAccountNotFound
}

func (f *fakeCatalog) ListPlatform(context.Context, accounts.Platform) ([]*accounts.Account, error) {
	return nil, nil
}

func (f *fakeCatalog) ListGroup(context.Context, accounts.Platform, string) ([]*accounts.Account, error) {
	return nil, nil
}

func (f *fakeCatalog) GroupsFor(_ context.Context, _ accounts.Platform, accountID string) ([]*accounts.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[accountID], nil
}

func (f *fakeCatalog) Close() error { return nil }

func proxy(host string) *accounts.ProxyConfig {
	return &accounts.ProxyConfig{Scheme: "http", Host: host, Port: "8080"}
}

func TestResolve_Precedence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	global := proxy("global.proxy")
	platform := proxy("platform.proxy")

	tests := []struct {
		name       string
		acct       *accounts.Account
		groups     []*accounts.Group
		cfg        Config
		wantSource Source
		wantHost   string
	}{
		{
			name:       "account proxy wins",
			acct:       &accounts.Account{ID: "a", Platform: "claude", Proxy: proxy("account.proxy")},
			groups:     []*accounts.Group{{ID: "g", Platform: "claude", Proxy: proxy("group.proxy")}},
			cfg:        Config{Global: global},
			wantSource: SourceAccount,
			wantHost:   "account.proxy",
		},
		{
			name: "group beats global",
			acct: &accounts.Account{ID: "a", Platform: "claude"},
			groups: []*accounts.Group{
				{ID: "g", Platform: "claude", Proxy: proxy("group.proxy"), ProxyPriority: 5},
			},
			cfg:        Config{Global: global},
			wantSource: SourceGroup,
			wantHost:   "group.proxy",
		},
		{
			name: "lowest group proxyPriority wins",
			acct: &accounts.Account{ID: "a", Platform: "claude"},
			groups: []*accounts.Group{
				{ID: "g1", Platform: "claude", Proxy: proxy("high.proxy"), ProxyPriority: 10},
				{ID: "g2", Platform: "claude", Proxy: proxy("low.proxy"), ProxyPriority: 1},
			},
			wantSource: SourceGroup,
			wantHost:   "low.proxy",
		},
		{
			name: "group priority tie broken by most recent update",
			acct: &accounts.Account{ID: "a", Platform: "claude"},
			groups: []*accounts.Group{
				{ID: "g1", Platform: "claude", Proxy: proxy("stale.proxy"), ProxyPriority: 5, UpdatedAt: base},
				{ID: "g2", Platform: "claude", Proxy: proxy("fresh.proxy"), ProxyPriority: 5, UpdatedAt: base.Add(time.Hour)},
			},
			wantSource: SourceGroup,
			wantHost:   "fresh.proxy",
		},
		{
			name: "malformed group proxy skipped",
			acct: &accounts.Account{ID: "a", Platform: "claude"},
			groups: []*accounts.Group{
				{ID: "g1", Platform: "claude", Proxy: &accounts.ProxyConfig{Scheme: "bogus"}, ProxyPriority: 1},
				{ID: "g2", Platform: "claude", Proxy: proxy("good.proxy"), ProxyPriority: 2},
			},
			wantSource: SourceGroup,
			wantHost:   "good.proxy",
		},
		{
			name:       "platform proxy",
			acct:       &accounts.Account{ID: "a", Platform: "claude"},
			cfg:        Config{Platforms: map[accounts.Platform]*accounts.ProxyConfig{"claude": platform}, Global: global},
			wantSource: SourcePlatform,
			wantHost:   "platform.proxy",
		},
		{
			name:       "global fallback",
			acct:       &accounts.Account{ID: "a", Platform: "claude"},
			cfg:        Config{Global: global},
			wantSource: SourceGlobal,
			wantHost:   "global.proxy",
		},
		{
			name:       "no proxy anywhere",
			acct:       &accounts.Account{ID: "a", Platform: "claude"},
			wantSource: SourceNone,
		},
		{
			name:       "malformed account proxy falls through to global",
			acct:       &accounts.Account{ID: "a", Platform: "claude", Proxy: &accounts.ProxyConfig{Host: "no-scheme"}},
			cfg:        Config{Global: global},
			wantSource: SourceGlobal,
			wantHost:   "global.proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &fakeCatalog{groups: map[string][]*accounts.Group{tt.acct.ID: tt.groups}}
			r := NewResolver(catalog, tt.cfg)

			got := r.Resolve(context.Background(), tt.acct)
			if got.Source != tt.wantSource {
				t.Fatalf("Resolve().Source = %q, want %q", got.Source, tt.wantSource)
			}
			if tt.wantHost != "" && (got.Proxy == nil || got.Proxy.Host != tt.wantHost) {
				t.Fatalf("Resolve().Proxy = %+v, want host %q", got.Proxy, tt.wantHost)
			}
			if tt.wantSource == SourceNone && got.Proxy != nil {
				t.Fatalf("Resolve().Proxy = %+v, want nil", got.Proxy)
			}
		})
	}
}

func TestResolve_GroupLookupErrorFallsThrough(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("store down")}
	r := NewResolver(catalog, Config{Global: proxy("global.proxy")})

	got := r.Resolve(context.Background(), &accounts.Account{ID: "a", Platform: "claude"})
	if got.Source != SourceGlobal {
		t.Fatalf("Resolve().Source = %q, want global despite group lookup failure", got.Source)
	}
}
