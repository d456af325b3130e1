// Package token coordinates credential refresh across processes.
//
// At most one refresh runs per account at any time, enforced by a
// TTL-bounded distributed lock. Contended callers wait briefly and
// re-read rather than fail: a still-stale credential in a rare race
// surfaces as an upstream 401 through the normal failover path instead
// of wedging the request here.
package token

import (
	"time"

	"aurora-hq/stratus/pkg/accounts"
)

// Credential is the stored upstream credential for an account.
type Credential struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is when the access token stops working. Zero means the
	// token has no known expiry and is never refreshed proactively.
	ExpiresAt time.Time

	// IssuedAt is when the token was minted, used to derive its lifetime.
	IssuedAt time.Time
}

// Lifetime returns the token's total validity span, or zero when either
// endpoint is unknown.
func (c Credential) Lifetime() time.Duration {
	if c.ExpiresAt.IsZero() || c.IssuedAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// Empty reports whether the credential carries no usable token at all.
func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// FreshAt reports whether the access token is still comfortably inside
// its validity window at the given instant. Short-lived tokens (total
// lifetime under shortLivedThreshold) use the extended shortLivedBuffer
// and are rotated earlier: with only minutes of total lifetime there is
// no slack to ride out a slow or failed refresh near the edge.
func (c Credential) FreshAt(now time.Time, buffer, shortLivedThreshold, shortLivedBuffer time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}

	b := buffer
	if lifetime := c.Lifetime(); lifetime > 0 && lifetime < shortLivedThreshold {
		b = shortLivedBuffer
	}
	return now.Add(b).Before(c.ExpiresAt)
}

// DecodeCredential extracts the credential fields from a raw account
// hash record.
func DecodeCredential(fields map[string]string) Credential {
	cred := Credential{
		AccessToken:  fields[accounts.FieldAccessToken],
		RefreshToken: fields[accounts.FieldRefreshToken],
	}
	if raw := fields[accounts.FieldTokenExpires]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cred.ExpiresAt = t
		}
	}
	if raw := fields[accounts.FieldTokenIssued]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cred.IssuedAt = t
		}
	}
	return cred
}

// EncodeCredential renders the credential as account hash fields.
func EncodeCredential(cred Credential) map[string]string {
	fields := map[string]string{
		accounts.FieldAccessToken:  cred.AccessToken,
		accounts.FieldRefreshToken: cred.RefreshToken,
	}
	if !cred.ExpiresAt.IsZero() {
		fields[accounts.FieldTokenExpires] = accounts.FormatTime(cred.ExpiresAt)
	}
	if !cred.IssuedAt.IsZero() {
		fields[accounts.FieldTokenIssued] = accounts.FormatTime(cred.IssuedAt)
	}
	return fields
}
