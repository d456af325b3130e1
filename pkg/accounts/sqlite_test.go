package accounts

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"aurora-hq/stratus/pkg/store"
)

// newTestCatalog creates a populated admin database and a catalog over
// it backed by the given health store.
func newTestCatalog(t *testing.T, health store.Store) *SQLiteCatalog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "admin.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	defer db.Close()

	schema := []string{
		`CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			account_type TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			schedulable INTEGER NOT NULL DEFAULT 1,
			no_failover INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT,
			created_at TEXT,
			subscription_expires_at TEXT,
			daily_quota REAL,
			proxy_json TEXT,
			rate_limit_duration_minutes INTEGER
		)`,
		`CREATE TABLE account_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			platform TEXT NOT NULL,
			proxy_json TEXT,
			proxy_priority INTEGER NOT NULL DEFAULT 0,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE TABLE group_members (
			group_id TEXT NOT NULL,
			account_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	inserts := []struct {
		query string
		args  []any
	}{
		{
			`INSERT INTO accounts (id, platform, account_type, priority, schedulable, daily_quota, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"acct-1", "claude", "shared", 10, 1, 10.0, "2026-01-01T00:00:00Z"},
		},
		{
			`INSERT INTO accounts (id, platform, account_type, priority, schedulable)
			 VALUES (?, ?, ?, ?, ?)`,
			[]any{"acct-2", "claude", "shared", 20, 1},
		},
		{
			`INSERT INTO account_groups (id, name, platform, proxy_priority, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"g1", "primary", "claude", 5, "2026-01-01T00:00:00Z", "2026-02-01T00:00:00Z"},
		},
		{
			`INSERT INTO group_members (group_id, account_id) VALUES (?, ?)`,
			[]any{"g1", "acct-1"},
		},
	}
	for _, ins := range inserts {
		if _, err := db.Exec(ins.query, ins.args...); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}

	catalog, err := NewSQLiteCatalog(dbPath, health)
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestSQLiteCatalog_GetOverlaysHealthFields(t *testing.T) {
	ctx := context.Background()
	health := store.NewMemoryStore()

	// The engine marked the account and recorded usage since the admin
	// layer created the row.
	err := health.HSet(ctx, store.AccountKey("claude", "acct-1"), map[string]string{
		FieldStatus:        string(StatusRateLimited),
		FieldSchedulable:   "false",
		FieldDailyUsage:    "7.25",
		FieldLastResetDate: "2026-03-01",
		FieldLastUsedAt:    "2026-03-01T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	catalog := newTestCatalog(t, health)

	acct, err := catalog.Get(ctx, PlatformClaude, "acct-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if acct.Status != StatusRateLimited {
		t.Fatalf("Status = %s, want rate_limited from the health overlay", acct.Status)
	}
	if acct.Schedulable {
		t.Fatal("Schedulable = true, want overlay false")
	}
	if acct.DailyUsage != 7.25 {
		t.Fatalf("DailyUsage = %v, want 7.25", acct.DailyUsage)
	}
	if acct.LastResetDate != "2026-03-01" {
		t.Fatalf("LastResetDate = %q, want 2026-03-01", acct.LastResetDate)
	}
	if acct.LastUsedAt.IsZero() {
		t.Fatal("LastUsedAt zero, want overlay value for LRU ordering")
	}
	// Static admin fields still come from SQLite.
	if acct.DailyQuota != 10.0 || acct.Priority != 10 {
		t.Fatalf("static fields = quota %v / priority %d, want 10.0 / 10", acct.DailyQuota, acct.Priority)
	}
}

func TestSQLiteCatalog_ListPlatformOverlaysEachAccount(t *testing.T) {
	ctx := context.Background()
	health := store.NewMemoryStore()
	err := health.HSet(ctx, store.AccountKey("claude", "acct-2"), map[string]string{
		FieldStatus: string(StatusTemporarilyUnavailable),
	})
	if err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	catalog := newTestCatalog(t, health)

	accts, err := catalog.ListPlatform(ctx, PlatformClaude)
	if err != nil {
		t.Fatalf("ListPlatform() error = %v", err)
	}
	byID := make(map[string]*Account, len(accts))
	for _, acct := range accts {
		byID[acct.ID] = acct
	}

	if got := byID["acct-2"].Status; got != StatusTemporarilyUnavailable {
		t.Fatalf("acct-2 status = %s, want temporarily_unavailable (TTL-governed for the sweeper)", got)
	}
	// No hash record yet: the SQLite snapshot stands.
	if got := byID["acct-1"].Status; got != StatusActive {
		t.Fatalf("acct-1 status = %s, want active with no health record", got)
	}
}

func TestSQLiteCatalog_GetUnknownAccount(t *testing.T) {
	catalog := newTestCatalog(t, store.NewMemoryStore())

	_, err := catalog.Get(context.Background(), PlatformClaude, "nope")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Get() error = %v, want ErrAccountNotFound", err)
	}
}

func TestSQLiteCatalog_GroupsFor(t *testing.T) {
	catalog := newTestCatalog(t, store.NewMemoryStore())

	groups, err := catalog.GroupsFor(context.Background(), PlatformClaude, "acct-1")
	if err != nil {
		t.Fatalf("GroupsFor() error = %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g1" || groups[0].ProxyPriority != 5 {
		t.Fatalf("GroupsFor() = %+v, want the single g1 membership", groups)
	}
}
