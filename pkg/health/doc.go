// Package health owns account health state: the authoritative status
// field, the ephemeral TTL flags that drive auto-recovery, the rolling
// failure counter, and the temp-error escalation.
//
// Health writes are advisory. Every mark and clear is best-effort: a
// coordination-store error degrades to a logged no-op, because wrongly
// excluding a healthy pool from service is worse than missing one mark.
// The failover executor decides what to mark; this package only records
// facts and never decides whether to retry.
package health
