package accounts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Hash field names shared with the administrative layer. Booleans are
// stored as "true"/"false" strings, timestamps as RFC 3339, the proxy as
// a JSON blob.
const (
	FieldID                    = "id"
	FieldPlatform              = "platform"
	FieldAccountType           = "accountType"
	FieldPriority              = "priority"
	FieldSchedulable           = "schedulable"
	FieldLastUsedAt            = "lastUsedAt"
	FieldCreatedAt             = "createdAt"
	FieldStatus                = "status"
	FieldNoFailover            = "noFailover"
	FieldRateLimitedAt         = "rateLimitedAt"
	FieldResetAt               = "resetAt"
	FieldErrorMessage          = "errorMessage"
	FieldSubscriptionExpiresAt = "subscriptionExpiresAt"
	FieldDailyQuota            = "dailyQuota"
	FieldDailyUsage            = "dailyUsage"
	FieldLastResetDate         = "lastResetDate"
	FieldProxy                 = "proxy"
	FieldRateLimitDuration     = "rateLimitDurationMinutes"

	FieldAccessToken  = "accessToken"
	FieldRefreshToken = "refreshToken"
	FieldTokenExpires = "tokenExpiresAt"
	FieldTokenIssued  = "tokenIssuedAt"
)

// DecodeAccount converts a raw hash record into a typed Account. Fields
// the admin layer has not written take zero values; an absent status
// decodes as active and an absent schedulable as true, so a bare record
// is selectable until something marks it otherwise.
func DecodeAccount(fields map[string]string) (*Account, error) {
	if fields[FieldID] == "" {
		return nil, fmt.Errorf("account record missing id")
	}

	status, err := ParseStatus(fields[FieldStatus])
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", fields[FieldID], err)
	}

	acct := &Account{
		ID:            fields[FieldID],
		Platform:      Platform(fields[FieldPlatform]),
		Type:          AccountType(fields[FieldAccountType]),
		Status:        status,
		Schedulable:   parseBool(fields[FieldSchedulable], true),
		NoFailover:    parseBool(fields[FieldNoFailover], false),
		ErrorMessage:  fields[FieldErrorMessage],
		LastResetDate: fields[FieldLastResetDate],
	}
	if acct.Type == "" {
		acct.Type = TypeShared
	}

	if raw := fields[FieldPriority]; raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("account %s: bad priority %q: %w", acct.ID, raw, err)
		}
		acct.Priority = p
	}

	acct.LastUsedAt = parseTime(fields[FieldLastUsedAt])
	acct.CreatedAt = parseTime(fields[FieldCreatedAt])
	acct.RateLimitedAt = parseTime(fields[FieldRateLimitedAt])
	acct.ResetAt = parseTime(fields[FieldResetAt])
	acct.SubscriptionExpiresAt = parseTime(fields[FieldSubscriptionExpiresAt])

	acct.DailyQuota = parseFloat(fields[FieldDailyQuota])
	acct.DailyUsage = parseFloat(fields[FieldDailyUsage])

	if raw := fields[FieldRateLimitDuration]; raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			acct.RateLimitDuration = time.Duration(mins) * time.Minute
		}
	}

	if raw := fields[FieldProxy]; raw != "" {
		var proxy ProxyConfig
		if err := json.Unmarshal([]byte(raw), &proxy); err == nil {
			acct.Proxy = &proxy
		}
		// A malformed proxy blob is ignored; the resolver treats the
		// account as having no proxy of its own.
	}

	return acct, nil
}

// ApplyHealthFields overlays the mutable coordination-store fields onto
// a catalog snapshot. Catalogs that read static records from somewhere
// other than the store (SQLite) call this so Status, Schedulable, usage,
// and LRU ordering reflect what the engine has written since the record
// was created. Absent fields leave the snapshot untouched.
func ApplyHealthFields(acct *Account, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if raw, ok := fields[FieldStatus]; ok {
		if status, err := ParseStatus(raw); err == nil {
			acct.Status = status
		}
	}
	if raw, ok := fields[FieldSchedulable]; ok {
		acct.Schedulable = parseBool(raw, acct.Schedulable)
	}
	if raw, ok := fields[FieldLastUsedAt]; ok {
		acct.LastUsedAt = parseTime(raw)
	}
	if raw, ok := fields[FieldRateLimitedAt]; ok {
		acct.RateLimitedAt = parseTime(raw)
	}
	if raw, ok := fields[FieldResetAt]; ok {
		acct.ResetAt = parseTime(raw)
	}
	if raw, ok := fields[FieldErrorMessage]; ok {
		acct.ErrorMessage = raw
	}
	if raw, ok := fields[FieldDailyUsage]; ok {
		acct.DailyUsage = parseFloat(raw)
	}
	if raw, ok := fields[FieldLastResetDate]; ok {
		acct.LastResetDate = raw
	}
}

// DecodeGroup converts a raw hash record into a typed Group.
func DecodeGroup(fields map[string]string) (*Group, error) {
	if fields["id"] == "" {
		return nil, fmt.Errorf("group record missing id")
	}

	g := &Group{
		ID:       fields["id"],
		Name:     fields["name"],
		Platform: Platform(fields["platform"]),
	}

	if raw := fields["proxyPriority"]; raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("group %s: bad proxyPriority %q: %w", g.ID, raw, err)
		}
		g.ProxyPriority = p
	}

	g.CreatedAt = parseTime(fields["createdAt"])
	g.UpdatedAt = parseTime(fields["updatedAt"])

	if raw := fields["proxy"]; raw != "" {
		var proxy ProxyConfig
		if err := json.Unmarshal([]byte(raw), &proxy); err == nil {
			g.Proxy = &proxy
		}
	}

	return g, nil
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}

// FormatTime renders a timestamp the way account hash fields store them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
