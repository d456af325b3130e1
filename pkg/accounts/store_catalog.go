package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"aurora-hq/stratus/pkg/store"
)

// StoreCatalog reads account and group records from the coordination
// store. This is the primary catalog: the admin layer writes records into
// the same keyspace the engine coordinates through, so decoded accounts
// carry current health fields with no second lookup.
type StoreCatalog struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreCatalog creates a catalog over the coordination store.
func NewStoreCatalog(s store.Store) *StoreCatalog {
	return &StoreCatalog{
		store:  s,
		logger: slog.Default().With("component", "accounts.catalog"),
	}
}

// Get implements Catalog.
func (c *StoreCatalog) Get(ctx context.Context, platform Platform, accountID string) (*Account, error) {
	fields, err := c.store.HGetAll(ctx, store.AccountKey(string(platform), accountID))
	if err != nil {
		return nil, fmt.Errorf("load account %s/%s: %w", platform, accountID, err)
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}
	return DecodeAccount(fields)
}

// ListPlatform implements Catalog.
func (c *StoreCatalog) ListPlatform(ctx context.Context, platform Platform) ([]*Account, error) {
	ids, err := c.store.SMembers(ctx, store.PlatformSetKey(string(platform)))
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", platform, err)
	}
	return c.loadAll(ctx, platform, ids)
}

// ListGroup implements Catalog.
func (c *StoreCatalog) ListGroup(ctx context.Context, platform Platform, groupID string) ([]*Account, error) {
	ids, err := c.store.SMembers(ctx, store.GroupMembersKey(string(platform), groupID))
	if err != nil {
		return nil, fmt.Errorf("list group %s members: %w", groupID, err)
	}
	return c.loadAll(ctx, platform, ids)
}

// GroupsFor implements Catalog.
func (c *StoreCatalog) GroupsFor(ctx context.Context, platform Platform, accountID string) ([]*Group, error) {
	ids, err := c.store.SMembers(ctx, store.AccountGroupsKey(string(platform), accountID))
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", accountID, err)
	}

	groups := make([]*Group, 0, len(ids))
	for _, id := range ids {
		fields, err := c.store.HGetAll(ctx, store.GroupKey(string(platform), id))
		if err != nil {
			return nil, fmt.Errorf("load group %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		g, err := DecodeGroup(fields)
		if err != nil {
			c.logger.Warn("skipping undecodable group record", "group", id, "error", err)
			continue
		}
		if g.Platform == platform {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// loadAll fetches and decodes a list of account IDs, skipping records
// that vanished between the set read and the hash read.
func (c *StoreCatalog) loadAll(ctx context.Context, platform Platform, ids []string) ([]*Account, error) {
	accts := make([]*Account, 0, len(ids))
	for _, id := range ids {
		acct, err := c.Get(ctx, platform, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn("skipping undecodable account record", "account", id, "error", err)
			continue
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// Close implements Catalog. The underlying store is owned by the caller.
func (c *StoreCatalog) Close() error {
	return nil
}
