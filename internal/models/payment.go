package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment record statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusVerified = "verified"
	PaymentStatusCredited = "credited"
	PaymentStatusRejected = "rejected"
)

// Valid state transitions: from -> []to. Credited and rejected are terminal;
// the record itself is the replay-protection guard, so a reference can reach
// credited at most once.
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:  {PaymentStatusVerified, PaymentStatusCredited, PaymentStatusRejected},
	PaymentStatusVerified: {PaymentStatusCredited, PaymentStatusRejected},
	PaymentStatusCredited: {},
	PaymentStatusRejected: {},
}

func IsValidPaymentTransition(from, to string) bool {
	allowed, ok := ValidPaymentTransitions[from]
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

// PaymentRecord tracks one externally supplied transaction reference. The
// row doubles as the verification reservation: it is inserted as pending
// before the chain is queried, so concurrent duplicate submissions never
// race the lite server.
type PaymentRecord struct {
	ReferenceID  string           `json:"reference_id"`
	Wallet       string           `json:"wallet"`
	Recipient    string           `json:"recipient"`
	Sender       *string          `json:"sender,omitempty"`
	AmountNano   *int64           `json:"amount_nano,omitempty"`
	AmountUSD    *decimal.Decimal `json:"amount_usd,omitempty"`
	Status       string           `json:"status"`
	RejectReason *string          `json:"reject_reason,omitempty"`
	FirstSeenAt  time.Time        `json:"first_seen_at"`
	CreditedAt   *time.Time       `json:"credited_at,omitempty"`
}
