// Package events defines the structured notifications the pool engine
// emits when account health changes. Events are plain data; delivery
// (webhooks, chat notifications) is the host application's concern.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

const (
	// TypeAccountMarked fires when an account transitions into a
	// degraded status.
	TypeAccountMarked Type = "account.marked"

	// TypeAccountRecovered fires when an account returns to active,
	// whether by a successful call, TTL expiry, or the sweeper.
	TypeAccountRecovered Type = "account.recovered"
)

// Event is one account health transition.
type Event struct {
	// ID is a unique identifier for deduplication downstream.
	ID string `json:"id"`

	// Type is the event classification.
	Type Type `json:"type"`

	// Platform and AccountID identify the affected account.
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`

	// Status is the status the account moved to.
	Status string `json:"status"`

	// Reason carries the upstream error context, when known.
	Reason string `json:"reason,omitempty"`

	// Time is when the transition was observed.
	Time time.Time `json:"time"`
}

// New constructs an event with a fresh ID and the current time.
func New(typ Type, platform, accountID, status, reason string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Platform:  platform,
		AccountID: accountID,
		Status:    status,
		Reason:    reason,
		Time:      time.Now().UTC(),
	}
}
