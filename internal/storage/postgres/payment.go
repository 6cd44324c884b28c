package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/payment"
)

const (
	intentColumns = `id, order_id::text, amount, currency, status, client_secret,
		idempotency_key, attempt, created_at, updated_at`

	// One row per order: a replacement intent overwrites the previous one.
	saveIntentSQL = `INSERT INTO payment_intents (id, order_id, amount, currency, status,
		client_secret, idempotency_key, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO UPDATE SET
			id = EXCLUDED.id,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			client_secret = EXCLUDED.client_secret,
			idempotency_key = EXCLUDED.idempotency_key,
			attempt = EXCLUDED.attempt,
			updated_at = EXCLUDED.updated_at`

	getIntentByIDSQL    = `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	getIntentByOrderSQL = `SELECT ` + intentColumns + ` FROM payment_intents WHERE order_id = $1`

	updateIntentStatusSQL = `UPDATE payment_intents SET status = $2, updated_at = now() WHERE id = $1`

	eventProcessedSQL = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE id = $1)`

	recordEventSQL = `INSERT INTO processed_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`

	recentEventsSQL = `SELECT id FROM processed_events ORDER BY processed_at DESC LIMIT $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Save(ctx context.Context, in *payment.Intent) error {
	_, err := r.pool.Exec(ctx, saveIntentSQL,
		in.ID, in.OrderID, in.Amount, in.Currency, string(in.Status),
		in.ClientSecret, in.IdempotencyKey, in.Attempt, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving payment intent %q: %w", in.ID, err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*payment.Intent, error) {
	return r.one(ctx, getIntentByIDSQL, id)
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (*payment.Intent, error) {
	return r.one(ctx, getIntentByOrderSQL, orderID)
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status payment.Status) error {
	tag, err := r.pool.Exec(ctx, updateIntentStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating payment intent %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, eventProcessedSQL, eventID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking event %q: %w", eventID, err)
	}
	return ok, nil
}

func (r *PaymentRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	if _, err := r.pool.Exec(ctx, recordEventSQL, eventID, eventType); err != nil {
		return fmt.Errorf("recording event %q: %w", eventID, err)
	}
	return nil
}

func (r *PaymentRepository) RecentEvents(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, recentEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent events: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PaymentRepository) one(ctx context.Context, sql, arg string) (*payment.Intent, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment intent %q: %w", arg, err)
	}
	in, err := pgx.CollectExactlyOneRow(rows, scanIntent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment intent %q: %w", arg, err)
	}
	return &in, nil
}

func scanIntent(row pgx.CollectableRow) (payment.Intent, error) {
	var (
		in      payment.Intent
		status  string
		attempt int32
	)
	err := row.Scan(
		&in.ID, &in.OrderID, &in.Amount, &in.Currency, &status, &in.ClientSecret,
		&in.IdempotencyKey, &attempt, &in.CreatedAt, &in.UpdatedAt,
	)
	in.Status = payment.Status(status)
	in.Attempt = int(attempt)
	return in, err
}
