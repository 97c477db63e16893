package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/travelpay/backend/internal/models"
)

var (
	// ErrReferenceTaken means another request holds the pending reservation
	// for this reference right now.
	ErrReferenceTaken = errors.New("payment reference is being verified")
	// ErrAlreadyCredited means the reference was consumed by a past request.
	ErrAlreadyCredited = errors.New("payment reference already credited")
)

// RejectedReferenceError reports a reference that already failed
// verification. Reason carries the verification code recorded when the
// record was rejected.
type RejectedReferenceError struct {
	Reason string
}

func (e *RejectedReferenceError) Error() string {
	return "payment reference was rejected: " + e.Reason
}

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Reserve claims a reference for verification by inserting the pending row.
// Exactly one caller wins the insert; losers learn the current status of the
// existing row so they can report replay, prior rejection or in-flight.
func (r *PaymentRepo) Reserve(ctx context.Context, referenceID, wallet, recipient string) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO payment_records (reference_id, wallet, recipient, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reference_id) DO NOTHING
	`, referenceID, wallet, recipient, models.PaymentStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	var reason *string
	err = r.pool.QueryRow(ctx, `
		SELECT status, reject_reason FROM payment_records WHERE reference_id = $1
	`, referenceID).Scan(&status, &reason)
	if err != nil {
		return err
	}
	switch status {
	case models.PaymentStatusCredited:
		return ErrAlreadyCredited
	case models.PaymentStatusRejected:
		rejErr := &RejectedReferenceError{}
		if reason != nil {
			rejErr.Reason = *reason
		}
		return rejErr
	}
	return ErrReferenceTaken
}

// CreditOnce settles a verified payment: the record moves to credited, the
// balance grows, and a history row lands, all in one transaction. The
// status guard on the UPDATE makes the whole settlement happen at most once
// per reference.
func (r *PaymentRepo) CreditOnce(ctx context.Context, referenceID, wallet, sender string, amountNano int64, amountUSD decimal.Decimal) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payment_records SET
			status = $2, sender = $3, amount_nano = $4, amount_usd = $5::numeric,
			credited_at = now()
		WHERE reference_id = $1 AND status IN ($6, $7)
	`, referenceID, models.PaymentStatusCredited, sender, amountNano, amountUSD.String(),
		models.PaymentStatusPending, models.PaymentStatusVerified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCredited
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (wallet, balance_usd, total_credited_usd)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (wallet) DO UPDATE SET
			balance_usd = balances.balance_usd + $2::numeric,
			total_credited_usd = balances.total_credited_usd + $2::numeric,
			updated_at = now()
	`, wallet, amountUSD.String())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (wallet, amount_usd, kind, reason)
		VALUES ($1, $2::numeric, $3, 'payment ' || $4)
	`, wallet, amountUSD.String(), models.TxKindCredit, referenceID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkRejected records why verification failed and releases the reservation
// into a terminal state. A rejected reference can be retried only by a new
// on-chain transaction.
func (r *PaymentRepo) MarkRejected(ctx context.Context, referenceID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_records SET status = $2, reject_reason = $3
		WHERE reference_id = $1 AND status IN ($4, $5)
	`, referenceID, models.PaymentStatusRejected, reason,
		models.PaymentStatusPending, models.PaymentStatusVerified)
	return err
}

// Release drops a pending reservation when verification could not complete,
// for example when the lite servers were unreachable. The reference stays
// usable for a later retry.
func (r *PaymentRepo) Release(ctx context.Context, referenceID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM payment_records WHERE reference_id = $1 AND status = $2
	`, referenceID, models.PaymentStatusPending)
	return err
}

func (r *PaymentRepo) GetByReference(ctx context.Context, referenceID string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	var amountUSD *string
	err := r.pool.QueryRow(ctx, `
		SELECT reference_id, wallet, recipient, sender, amount_nano, amount_usd::text,
		       status, reject_reason, first_seen_at, credited_at
		FROM payment_records WHERE reference_id = $1
	`, referenceID).Scan(&p.ReferenceID, &p.Wallet, &p.Recipient, &p.Sender, &p.AmountNano,
		&amountUSD, &p.Status, &p.RejectReason, &p.FirstSeenAt, &p.CreditedAt)
	if err != nil {
		return nil, err
	}
	if amountUSD != nil {
		d, err := decimal.NewFromString(*amountUSD)
		if err != nil {
			return nil, err
		}
		p.AmountUSD = &d
	}
	return &p, nil
}
