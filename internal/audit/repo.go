package audit

import (
	"context"
	"database/sql"
)

// PGRepo persists audit events in Postgres.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, subscriber_id, session_id, office_id, channel, message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, e.SubscriberID, e.SessionID, e.OfficeID, e.Channel, e.Message, e.CreatedAt,
	)
	return err
}

// Recent returns the newest events for operational review.
func (r *PGRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, type, subscriber_id, session_id, office_id, channel, message, created_at
FROM audit_events
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.Type, &e.SubscriberID, &e.SessionID, &e.OfficeID, &e.Channel, &e.Message, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
