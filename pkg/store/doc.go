// Package store provides the coordination-store adapter used by every
// stateful component of the pool engine.
//
// The adapter exposes a small set of primitives over a shared key-value
// store: hash records, set membership, atomic increment with window
// expiry, TTL keys, and SETNX-style locks. Two implementations are
// provided: RedisStore for multi-process deployments and MemoryStore for
// tests and single-process runs.
//
// All health flags, session affinity mappings, rolling failure counters,
// and distributed locks live behind this interface; no component holds
// pool state outside of it.
package store
