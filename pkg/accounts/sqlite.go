package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"aurora-hq/stratus/pkg/store"
)

// SQLiteCatalog reads account and group records from a SQLite database
// written by the administrative layer. It serves deployments whose admin
// stack persists to SQLite rather than the coordination store; health
// state still lives in the coordination store either way, so every
// account read overlays the store's hash fields onto the SQLite row.
// Without the overlay a SQLite-cataloged account would look permanently
// active to the sweeper and the quota reset would never see its usage.
//
// The catalog opens the database read-only in WAL mode so the admin
// process can keep writing concurrently.
type SQLiteCatalog struct {
	db     *sql.DB
	health store.Store
	logger *slog.Logger

	getStmt       *sql.Stmt
	listStmt      *sql.Stmt
	membersStmt   *sql.Stmt
	groupsForStmt *sql.Stmt
}

// NewSQLiteCatalog opens the admin database at dbPath. The health store
// supplies the mutable status/usage fields; nil disables the overlay
// (snapshots then always read as their SQLite defaults).
func NewSQLiteCatalog(dbPath string, health store.Store) (*SQLiteCatalog, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&mode=ro", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	c := &SQLiteCatalog{
		db:     db,
		health: health,
		logger: slog.Default().With("component", "accounts.sqlite"),
	}
	if err := c.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

const accountColumns = `id, platform, account_type, priority, schedulable, no_failover,
	last_used_at, created_at, subscription_expires_at, daily_quota, proxy_json,
	rate_limit_duration_minutes`

func (c *SQLiteCatalog) prepare() error {
	var err error

	if c.getStmt, err = c.db.Prepare(
		`SELECT ` + accountColumns + ` FROM accounts WHERE platform = ? AND id = ?`); err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}
	if c.listStmt, err = c.db.Prepare(
		`SELECT ` + accountColumns + ` FROM accounts WHERE platform = ?`); err != nil {
		return fmt.Errorf("prepare list: %w", err)
	}
	if c.membersStmt, err = c.db.Prepare(
		`SELECT ` + accountColumns + ` FROM accounts
		 JOIN group_members ON group_members.account_id = accounts.id
		 WHERE group_members.group_id = ? AND accounts.platform = ?`); err != nil {
		return fmt.Errorf("prepare members: %w", err)
	}
	if c.groupsForStmt, err = c.db.Prepare(
		`SELECT g.id, g.name, g.platform, g.proxy_json, g.proxy_priority, g.created_at, g.updated_at
		 FROM account_groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.account_id = ? AND g.platform = ?`); err != nil {
		return fmt.Errorf("prepare groups-for: %w", err)
	}
	return nil
}

// Get implements Catalog.
func (c *SQLiteCatalog) Get(ctx context.Context, platform Platform, accountID string) (*Account, error) {
	row := c.getStmt.QueryRowContext(ctx, string(platform), accountID)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s/%s: %w", platform, accountID, err)
	}
	c.overlay(ctx, acct)
	return acct, nil
}

// ListPlatform implements Catalog.
func (c *SQLiteCatalog) ListPlatform(ctx context.Context, platform Platform) ([]*Account, error) {
	rows, err := c.listStmt.QueryContext(ctx, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", platform, err)
	}
	defer rows.Close()

	accts, err := scanAccounts(rows)
	if err != nil {
		return nil, err
	}
	for _, acct := range accts {
		c.overlay(ctx, acct)
	}
	return accts, nil
}

// ListGroup implements Catalog.
func (c *SQLiteCatalog) ListGroup(ctx context.Context, platform Platform, groupID string) ([]*Account, error) {
	rows, err := c.membersStmt.QueryContext(ctx, groupID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list group %s members: %w", groupID, err)
	}
	defer rows.Close()

	accts, err := scanAccounts(rows)
	if err != nil {
		return nil, err
	}
	for _, acct := range accts {
		c.overlay(ctx, acct)
	}
	return accts, nil
}

// GroupsFor implements Catalog.
func (c *SQLiteCatalog) GroupsFor(ctx context.Context, platform Platform, accountID string) ([]*Group, error) {
	rows, err := c.groupsForStmt.QueryContext(ctx, accountID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", accountID, err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Close implements Catalog.
func (c *SQLiteCatalog) Close() error {
	for _, stmt := range []*sql.Stmt{c.getStmt, c.listStmt, c.membersStmt, c.groupsForStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return c.db.Close()
}

// overlay applies the coordination store's mutable fields to a SQLite
// snapshot. Best-effort: a store error leaves the snapshot as-is, the
// same degradation IsHealthy applies.
func (c *SQLiteCatalog) overlay(ctx context.Context, acct *Account) {
	if c.health == nil {
		return
	}
	fields, err := c.health.HGetAll(ctx, store.AccountKey(string(acct.Platform), acct.ID))
	if err != nil {
		c.logger.Warn("health overlay failed, serving catalog snapshot",
			"account", acct.ID,
			"platform", acct.Platform,
			"error", err,
		)
		return
	}
	ApplyHealthFields(acct, fields)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acct         Account
		platform     string
		acctType     string
		schedulable  bool
		noFailover   bool
		lastUsed     sql.NullString
		created      sql.NullString
		subExpires   sql.NullString
		dailyQuota   sql.NullFloat64
		proxyJSON    sql.NullString
		rateLimitMin sql.NullInt64
	)

	err := row.Scan(&acct.ID, &platform, &acctType, &acct.Priority, &schedulable,
		&noFailover, &lastUsed, &created, &subExpires, &dailyQuota, &proxyJSON, &rateLimitMin)
	if err != nil {
		return nil, err
	}

	acct.Platform = Platform(platform)
	acct.Type = AccountType(acctType)
	acct.Schedulable = schedulable
	acct.NoFailover = noFailover
	acct.Status = StatusActive
	acct.LastUsedAt = parseTime(lastUsed.String)
	acct.CreatedAt = parseTime(created.String)
	acct.SubscriptionExpiresAt = parseTime(subExpires.String)
	if dailyQuota.Valid {
		acct.DailyQuota = dailyQuota.Float64
	}
	if rateLimitMin.Valid && rateLimitMin.Int64 > 0 {
		acct.RateLimitDuration = time.Duration(rateLimitMin.Int64) * time.Minute
	}
	if proxyJSON.Valid && proxyJSON.String != "" {
		var proxy ProxyConfig
		if err := json.Unmarshal([]byte(proxyJSON.String), &proxy); err == nil {
			acct.Proxy = &proxy
		}
	}
	return &acct, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var accts []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

func scanGroup(row rowScanner) (*Group, error) {
	var (
		g         Group
		platform  string
		proxyJSON sql.NullString
		created   sql.NullString
		updated   sql.NullString
	)

	if err := row.Scan(&g.ID, &g.Name, &platform, &proxyJSON, &g.ProxyPriority, &created, &updated); err != nil {
		return nil, err
	}

	g.Platform = Platform(platform)
	g.CreatedAt = parseTime(created.String)
	g.UpdatedAt = parseTime(updated.String)
	if proxyJSON.Valid && proxyJSON.String != "" {
		var proxy ProxyConfig
		if err := json.Unmarshal([]byte(proxyJSON.String), &proxy); err == nil {
			g.Proxy = &proxy
		}
	}
	return &g, nil
}
