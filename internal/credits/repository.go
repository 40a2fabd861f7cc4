package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Assumed tables:
// - credit_ledger   (immutable append-only, UNIQUE (subscriber_id, idempotency_key))
// - credit_balances (projection)

func getBalance(ctx context.Context, db *sql.DB, subscriberID string) (Balance, error) {
	const q = `
SELECT subscriber_id, credits, updated_at
FROM credit_balances
WHERE subscriber_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, subscriberID).Scan(&b.SubscriberID, &b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, subscriberID string) (Balance, error) {
	const q = `
SELECT subscriber_id, credits, updated_at
FROM credit_balances
WHERE subscriber_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, subscriberID).Scan(&b.SubscriberID, &b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, subscriberID string) (Balance, error) {
	// Lock the balance row to serialize concurrent consumption per subscriber.
	const q = `
SELECT subscriber_id, credits, updated_at
FROM credit_balances
WHERE subscriber_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, subscriberID).Scan(&b.SubscriberID, &b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findEntryByIdempotency(ctx context.Context, tx *sql.Tx, subscriberID, key string) (Entry, bool, error) {
	const q = `
SELECT id, subscriber_id, delta, reason, idempotency_key, created_at
FROM credit_ledger
WHERE subscriber_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Entry
	err := tx.QueryRowContext(ctx, q, subscriberID, key).Scan(
		&e.ID, &e.SubscriberID, &e.Delta, &e.Reason, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const q = `
INSERT INTO credit_ledger (id, subscriber_id, delta, reason, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := tx.ExecContext(ctx, q, e.ID, e.SubscriberID, e.Delta, e.Reason, e.IdempotencyKey, e.CreatedAt)
	return err
}

func applyDelta(ctx context.Context, tx *sql.Tx, subscriberID string, delta int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO credit_balances (subscriber_id, credits, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (subscriber_id)
DO UPDATE SET credits = credit_balances.credits + EXCLUDED.credits,
              updated_at = EXCLUDED.updated_at
RETURNING subscriber_id, credits, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, subscriberID, delta, now).Scan(&b.SubscriberID, &b.Credits, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}
