package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is keyed by the client's wallet address; there is no separate
// authentication. Rows are created lazily on first contact.
type Account struct {
	Wallet              string          `json:"wallet"`
	BalanceUSD          decimal.Decimal `json:"balance_usd"`
	TotalCreditedUSD    decimal.Decimal `json:"total_credited_usd"`
	TotalSpentUSD       decimal.Decimal `json:"total_spent_usd"`
	WelcomeBonusGranted bool            `json:"welcome_bonus_granted"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Ledger transaction kinds
const (
	TxKindCredit = "credit"
	TxKindDebit  = "debit"
	TxKindRefund = "refund"
)

type LedgerTransaction struct {
	ID        int64           `json:"id"`
	Wallet    string          `json:"wallet"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
