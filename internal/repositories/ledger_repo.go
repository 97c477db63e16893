package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/travelpay/backend/internal/models"
)

// Balances never go negative: every debit is a conditional UPDATE guarded by
// the current balance, so concurrent spends against the same wallet serialize
// on the row and the loser gets ErrInsufficientFunds instead of an overdraft.
var ErrInsufficientFunds = errors.New("insufficient funds")

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// EnsureAccount creates the balance row on first contact. Safe to call on
// every request.
func (r *LedgerRepo) EnsureAccount(ctx context.Context, wallet string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO balances (wallet) VALUES ($1)
		ON CONFLICT (wallet) DO NOTHING
	`, wallet)
	return err
}

func (r *LedgerRepo) GetAccount(ctx context.Context, wallet string) (*models.Account, error) {
	a := models.Account{Wallet: wallet}
	var balance, credited, spent string
	err := r.pool.QueryRow(ctx, `
		SELECT balance_usd::text, total_credited_usd::text, total_spent_usd::text,
		       welcome_bonus_granted, created_at, updated_at
		FROM balances WHERE wallet = $1
	`, wallet).Scan(&balance, &credited, &spent, &a.WelcomeBonusGranted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.BalanceUSD, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	if a.TotalCreditedUSD, err = decimal.NewFromString(credited); err != nil {
		return nil, err
	}
	if a.TotalSpentUSD, err = decimal.NewFromString(spent); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *LedgerRepo) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	var s string
	err := r.pool.QueryRow(ctx, `
		SELECT balance_usd::text FROM balances WHERE wallet = $1
	`, wallet).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

// Credit adds to the balance and records a history row in one transaction.
func (r *LedgerRepo) Credit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	return r.apply(ctx, wallet, amount, models.TxKindCredit, reason)
}

// Refund is a credit with its own kind so compensations are distinguishable
// in the history.
func (r *LedgerRepo) Refund(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	return r.apply(ctx, wallet, amount, models.TxKindRefund, reason)
}

func (r *LedgerRepo) apply(ctx context.Context, wallet string, amount decimal.Decimal, kind, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (wallet, balance_usd, total_credited_usd)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (wallet) DO UPDATE SET
			balance_usd = balances.balance_usd + $2::numeric,
			total_credited_usd = balances.total_credited_usd + $2::numeric,
			updated_at = now()
	`, wallet, amount.String())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (wallet, amount_usd, kind, reason)
		VALUES ($1, $2::numeric, $3, $4)
	`, wallet, amount.String(), kind, reason)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Debit atomically withdraws amount if the balance covers it. The balance
// guard in the WHERE clause rejects overdrafts without a read-modify-write
// window.
func (r *LedgerRepo) Debit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE balances SET
			balance_usd = balance_usd - $2::numeric,
			total_spent_usd = total_spent_usd + $2::numeric,
			updated_at = now()
		WHERE wallet = $1 AND balance_usd >= $2::numeric
	`, wallet, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (wallet, amount_usd, kind, reason)
		VALUES ($1, $2::numeric, $3, $4)
	`, wallet, amount.String(), models.TxKindDebit, reason)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GrantWelcomeBonusOnce credits the signup bonus at most once per wallet.
// The welcome_bonus_granted flag is flipped in the same statement that keys
// the grant, so concurrent first requests cannot double it. Returns true if
// this call granted the bonus.
func (r *LedgerRepo) GrantWelcomeBonusOnce(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (wallet) VALUES ($1)
		ON CONFLICT (wallet) DO NOTHING
	`, wallet)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE balances SET
			balance_usd = balance_usd + $2::numeric,
			total_credited_usd = total_credited_usd + $2::numeric,
			welcome_bonus_granted = true,
			updated_at = now()
		WHERE wallet = $1 AND welcome_bonus_granted = false
	`, wallet, amount.String())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (wallet, amount_usd, kind, reason)
		VALUES ($1, $2::numeric, $3, 'welcome bonus')
	`, wallet, amount.String(), models.TxKindCredit)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *LedgerRepo) RecentTransactions(ctx context.Context, wallet string, limit int) ([]models.LedgerTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet, amount_usd::text, kind, reason, created_at
		FROM ledger_transactions
		WHERE wallet = $1
		ORDER BY id DESC
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerTransaction
	for rows.Next() {
		var t models.LedgerTransaction
		var amount string
		if err := rows.Scan(&t.ID, &t.Wallet, &amount, &t.Kind, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.AmountUSD, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
