package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/travelpay/backend/internal/models"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `
	id, owner_wallet, target, params, condition_field, condition_op, condition_value,
	webhook_url, status, last_value_matched, created_at, expires_at,
	last_checked_at, last_triggered_at`

func (r *SubscriptionRepo) Create(ctx context.Context, s *models.Subscription) error {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return err
	}
	condValue, err := json.Marshal(s.Condition.Value)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (
			id, owner_wallet, target, params,
			condition_field, condition_op, condition_value,
			webhook_url, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, s.ID, s.OwnerWallet, s.Target, params,
		s.Condition.Field, s.Condition.Op, condValue,
		s.WebhookURL, s.Status, s.ExpiresAt,
	).Scan(&s.CreatedAt)
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = $1
	`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (r *SubscriptionRepo) ListByOwner(ctx context.Context, wallet string) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE owner_wallet = $1
		ORDER BY created_at DESC
	`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListActive returns the subscriptions the engine should be watching. Called
// on worker startup to rebuild the supervision set.
func (r *SubscriptionRepo) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND expires_at > now()
		ORDER BY created_at
	`, models.SubscriptionStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateStatus moves a subscription to a terminal state. The status guard
// keeps the transition table honest under concurrent cancel/expire.
func (r *SubscriptionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	if !models.IsValidSubscriptionTransition(from, to) {
		return false, errors.New("invalid subscription transition " + from + " -> " + to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordCheck persists the outcome of one evaluation tick.
func (r *SubscriptionRepo) RecordCheck(ctx context.Context, id uuid.UUID, matched bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET last_checked_at = now(), last_value_matched = $2
		WHERE id = $1
	`, id, matched)
	return err
}

func (r *SubscriptionRepo) RecordTriggered(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET last_triggered_at = now() WHERE id = $1
	`, id)
	return err
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	var params, condValue []byte
	err := row.Scan(&s.ID, &s.OwnerWallet, &s.Target, &params,
		&s.Condition.Field, &s.Condition.Op, &condValue,
		&s.WebhookURL, &s.Status, &s.LastValueMatched, &s.CreatedAt, &s.ExpiresAt,
		&s.LastCheckedAt, &s.LastTriggeredAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &s.Params); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(condValue, &s.Condition.Value); err != nil {
		return nil, err
	}
	return &s, nil
}
