package accounts

import (
	"context"
	"errors"
)

// ErrAccountNotFound is returned by catalog lookups for unknown accounts.
var ErrAccountNotFound = errors.New("accounts: account not found")

// Catalog is the read model over account and group records. The engine
// never creates or destroys records; it reads them here and writes only
// health, session, and lock state through the coordination store.
//
// Implementations must be safe for concurrent use.
type Catalog interface {
	// Get returns one account. Returns ErrAccountNotFound if absent.
	Get(ctx context.Context, platform Platform, accountID string) (*Account, error)

	// ListPlatform returns every account registered for the platform,
	// in no particular order.
	ListPlatform(ctx context.Context, platform Platform) ([]*Account, error)

	// ListGroup returns the accounts belonging to a group.
	ListGroup(ctx context.Context, platform Platform, groupID string) ([]*Account, error)

	// GroupsFor returns the groups an account belongs to, restricted to
	// the given platform.
	GroupsFor(ctx context.Context, platform Platform, accountID string) ([]*Group, error)

	// Close releases catalog resources.
	Close() error
}
