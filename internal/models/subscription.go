package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Valid state transitions: from -> []to. A triggered subscription stays
// active and may retrigger; cancelled and expired are terminal.
var ValidSubscriptionTransitions = map[string][]string{
	SubscriptionStatusActive:    {SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusCancelled: {},
	SubscriptionStatusExpired:   {},
}

func IsValidSubscriptionTransition(from, to string) bool {
	allowed, ok := ValidSubscriptionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Subscription struct {
	ID          uuid.UUID      `json:"id"`
	OwnerWallet string         `json:"owner_wallet"`
	Target      string         `json:"target"`
	Params      map[string]any `json:"params"`
	Condition   Condition      `json:"condition"`
	WebhookURL  string         `json:"webhook_url"`
	Status      string         `json:"status"`
	// LastValueMatched records whether the condition held on the previous
	// evaluation; a notification fires only on a false -> true edge.
	LastValueMatched bool       `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at,omitempty"`
}

func (s *Subscription) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
