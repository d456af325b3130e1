package store

import "fmt"

// Key schema shared with the administrative layer. The admin layer owns
// account and group record creation; the pool engine owns health flags,
// session mappings, counters, and locks.
const keyPrefix = "stratus"

// AccountKey returns the hash key holding an account record and its
// health fields.
func AccountKey(platform, accountID string) string {
	return fmt.Sprintf("%s:account:%s:%s", keyPrefix, platform, accountID)
}

// PlatformSetKey returns the set key listing all account IDs for a platform.
func PlatformSetKey(platform string) string {
	return fmt.Sprintf("%s:accounts:%s", keyPrefix, platform)
}

// GroupKey returns the hash key holding a group record.
func GroupKey(platform, groupID string) string {
	return fmt.Sprintf("%s:group:%s:%s", keyPrefix, platform, groupID)
}

// GroupSetKey returns the set key listing all group IDs for a platform.
func GroupSetKey(platform string) string {
	return fmt.Sprintf("%s:groups:%s", keyPrefix, platform)
}

// GroupMembersKey returns the set key listing account IDs in a group.
func GroupMembersKey(platform, groupID string) string {
	return fmt.Sprintf("%s:group:%s:%s:members", keyPrefix, platform, groupID)
}

// AccountGroupsKey returns the set key listing group IDs an account
// belongs to (reverse index of GroupMembersKey).
func AccountGroupsKey(platform, accountID string) string {
	return fmt.Sprintf("%s:account:%s:%s:groups", keyPrefix, platform, accountID)
}

// FlagKey returns the ephemeral TTL flag key for a degraded state.
// The key existing implies the account currently carries that state;
// the key expiring is the auto-recovery signal.
func FlagKey(state, platform, accountID string) string {
	return fmt.Sprintf("%s:flag:%s:%s:%s", keyPrefix, state, platform, accountID)
}

// FlagScanPattern returns the glob pattern matching every ephemeral flag
// key, used by the recovery sweeper.
func FlagScanPattern() string {
	return keyPrefix + ":flag:*"
}

// FailureCountKey returns the rolling failure counter key for an account.
func FailureCountKey(platform, accountID string) string {
	return fmt.Sprintf("%s:failcount:%s:%s", keyPrefix, platform, accountID)
}

// SessionKey returns the session affinity key for a composite
// (platform, consumer key, session fingerprint) tuple.
func SessionKey(platform, consumerKeyID, fingerprint string) string {
	return fmt.Sprintf("%s:session:%s:%s:%s", keyPrefix, platform, consumerKeyID, fingerprint)
}

// RefreshLockKey returns the distributed lock key guarding credential
// refresh for an account.
func RefreshLockKey(platform, accountID string) string {
	return fmt.Sprintf("%s:lock:refresh:%s:%s", keyPrefix, platform, accountID)
}

// TempErrorLockKey returns the distributed lock key guarding the
// temp-error escalation critical section for an account.
func TempErrorLockKey(platform, accountID string) string {
	return fmt.Sprintf("%s:lock:temperror:%s:%s", keyPrefix, platform, accountID)
}
