package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist.
// Callers that treat absence as a normal condition should check for it
// with errors.Is.
var ErrNotFound = errors.New("store: key not found")

// Store defines the coordination-store primitives the pool engine needs.
// Implementations must be safe for concurrent use by multiple goroutines
// and, for RedisStore, by multiple processes.
//
// All mutating health writes through this interface are advisory: callers
// are expected to log and continue on error rather than fail the request
// they are serving.
type Store interface {
	// HGetAll returns all fields of the hash at key.
	// Returns an empty map (not ErrNotFound) if the hash does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HGet returns a single hash field. Returns ErrNotFound if the key
	// or field is absent.
	HGet(ctx context.Context, key, field string) (string, error)

	// HSet writes the given fields into the hash at key, creating the
	// hash if needed. Existing fields not named are left untouched.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HDel removes fields from the hash at key. Missing fields are a no-op.
	HDel(ctx context.Context, key string, fields ...string) error

	// HIncrByFloat atomically adds delta to a numeric hash field and
	// returns the new value. A missing field starts at zero.
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key. Returns an empty
	// slice if the set does not exist.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a string value with an optional TTL (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys unconditionally. Missing keys are a no-op.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether the key currently exists (TTL not expired).
	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets the TTL on an existing key. Returns ErrNotFound if
	// the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key. Returns ErrNotFound
	// for a missing key and zero for a key with no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrWindow atomically increments the counter at key and returns the
	// new count. When the increment creates the key, the window TTL is
	// set; subsequent increments do not extend it, so the counter expires
	// a fixed window after the first increment.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// AcquireLock attempts a SETNX-style lock at key with the given
	// holder token and absolute TTL. Returns true if the lock was
	// acquired, false if another holder owns it.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock key unconditionally.
	ReleaseLock(ctx context.Context, key string) error

	// Scan returns all keys matching a glob-style pattern. Intended for
	// the recovery sweeper's low-frequency reconciliation scans, not for
	// request-path use.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying connection resources.
	Close() error
}
