package sched

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkline/internal/callflow"
)

// Repository abstracts user_schedules persistence.
type Repository interface {
	Upsert(ctx context.Context, s Schedule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Schedule, error)
	ListEnabled(ctx context.Context) ([]Schedule, error)
	ListBySubscriber(ctx context.Context, subscriberID string) ([]Schedule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetSkips(ctx context.Context, id string, skips int) error

	// ListOfficeRecipients feeds the office color fan-out: every enabled
	// schedule attached to the office is a recipient.
	ListOfficeRecipients(ctx context.Context, officeID string) ([]callflow.Recipient, error)
}

// PGRepo is the Postgres implementation over the user_schedules table.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

const scheduleColumns = `
id, subscriber_id, office_id, target_number, code,
notify_target, notify_email, notify_channel,
hour, minute, timezone, retry_on_unknown, enabled, consecutive_skips,
created_at, updated_at
`

func (r *PGRepo) Upsert(ctx context.Context, s Schedule) error {
	const q = `
INSERT INTO user_schedules (` + scheduleColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  office_id = EXCLUDED.office_id,
  target_number = EXCLUDED.target_number,
  code = EXCLUDED.code,
  notify_target = EXCLUDED.notify_target,
  notify_email = EXCLUDED.notify_email,
  notify_channel = EXCLUDED.notify_channel,
  hour = EXCLUDED.hour,
  minute = EXCLUDED.minute,
  timezone = EXCLUDED.timezone,
  retry_on_unknown = EXCLUDED.retry_on_unknown,
  enabled = EXCLUDED.enabled,
  consecutive_skips = EXCLUDED.consecutive_skips,
  updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.SubscriberID, s.OfficeID, s.TargetNumber, s.Code,
		s.NotifyTarget, s.NotifyEmail, s.NotifyChannel,
		s.Hour, s.Minute, s.Timezone, s.RetryOnUnknown, s.Enabled, s.ConsecutiveSkips,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *PGRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (Schedule, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM user_schedules WHERE id = $1`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return s, err
}

func (r *PGRepo) ListEnabled(ctx context.Context) ([]Schedule, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM user_schedules WHERE enabled ORDER BY created_at`
	return r.list(ctx, q)
}

func (r *PGRepo) ListBySubscriber(ctx context.Context, subscriberID string) ([]Schedule, error) {
	const q = `SELECT ` + scheduleColumns + ` FROM user_schedules WHERE subscriber_id = $1 ORDER BY created_at`
	return r.list(ctx, q, subscriberID)
}

func (r *PGRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	const q = `UPDATE user_schedules SET enabled = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, enabled, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) SetSkips(ctx context.Context, id string, skips int) error {
	const q = `UPDATE user_schedules SET consecutive_skips = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, skips, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ListOfficeRecipients(ctx context.Context, officeID string) ([]callflow.Recipient, error) {
	const q = `
SELECT subscriber_id, notify_target, notify_email, notify_channel, hour, minute, timezone
FROM user_schedules
WHERE office_id = $1 AND enabled
ORDER BY subscriber_id
`
	rows, err := r.db.QueryContext(ctx, q, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []callflow.Recipient
	for rows.Next() {
		var rec callflow.Recipient
		if err := rows.Scan(&rec.SubscriberID, &rec.Target, &rec.Email, &rec.Channel,
			&rec.Hour, &rec.Minute, &rec.Timezone); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepo) list(ctx context.Context, q string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID, &s.SubscriberID, &s.OfficeID, &s.TargetNumber, &s.Code,
		&s.NotifyTarget, &s.NotifyEmail, &s.NotifyChannel,
		&s.Hour, &s.Minute, &s.Timezone, &s.RetryOnUnknown, &s.Enabled, &s.ConsecutiveSkips,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}
