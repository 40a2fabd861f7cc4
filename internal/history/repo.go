// Package history persists completed call attempts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkline/internal/calls"
)

var ErrNotFound = errors.New("history: not found")

// Repository abstracts call-history persistence.
//
// Rows are written once when a session resolves; the only later mutation is
// attaching a recording reference, which arrives on its own webhook.
type Repository interface {
	Insert(ctx context.Context, rec calls.Record) error
	AttachRecording(ctx context.Context, sessionID, recordingURL string) error
	GetBySession(ctx context.Context, sessionID string) (calls.Record, error)
	ListBySubscriber(ctx context.Context, subscriberID string, limit int) ([]calls.Record, error)
	// CountForSubscriberSince supports schedule reconciliation: a completed
	// run for today exists when the count since local midnight is non-zero.
	CountForSubscriberSince(ctx context.Context, subscriberID string, since time.Time) (int, error)
}

// PGRepo is the Postgres implementation over the call_history table.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Insert(ctx context.Context, rec calls.Record) error {
	const q = `
INSERT INTO call_history (
  session_id, subscriber_id, office_id, target_number, provider_call_id,
  result, color, transcript, retry_attempt, recording_url, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID, rec.SubscriberID, rec.OfficeID, rec.TargetNumber, rec.ProviderCallID,
		rec.Result, rec.Color, rec.Transcript, rec.RetryAttempt, rec.RecordingURL, rec.CreatedAt,
	)
	return err
}

func (r *PGRepo) AttachRecording(ctx context.Context, sessionID, recordingURL string) error {
	const q = `
UPDATE call_history SET recording_url = $2 WHERE session_id = $1
`
	res, err := r.db.ExecContext(ctx, q, sessionID, recordingURL)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) GetBySession(ctx context.Context, sessionID string) (calls.Record, error) {
	const q = `
SELECT session_id, subscriber_id, office_id, target_number, provider_call_id,
       result, color, transcript, retry_attempt, recording_url, created_at
FROM call_history
WHERE session_id = $1
`
	var rec calls.Record
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&rec.SessionID, &rec.SubscriberID, &rec.OfficeID, &rec.TargetNumber, &rec.ProviderCallID,
		&rec.Result, &rec.Color, &rec.Transcript, &rec.RetryAttempt, &rec.RecordingURL, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Record{}, ErrNotFound
	}
	return rec, err
}

func (r *PGRepo) ListBySubscriber(ctx context.Context, subscriberID string, limit int) ([]calls.Record, error) {
	if limit <= 0 {
		limit = 30
	}
	const q = `
SELECT session_id, subscriber_id, office_id, target_number, provider_call_id,
       result, color, transcript, retry_attempt, recording_url, created_at
FROM call_history
WHERE subscriber_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, subscriberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Record, 0, limit)
	for rows.Next() {
		var rec calls.Record
		if err := rows.Scan(
			&rec.SessionID, &rec.SubscriberID, &rec.OfficeID, &rec.TargetNumber, &rec.ProviderCallID,
			&rec.Result, &rec.Color, &rec.Transcript, &rec.RetryAttempt, &rec.RecordingURL, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountForSubscriberSince(ctx context.Context, subscriberID string, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*) FROM call_history
WHERE subscriber_id = $1 AND created_at >= $2
`
	var n int
	err := r.db.QueryRowContext(ctx, q, subscriberID, since).Scan(&n)
	return n, err
}
