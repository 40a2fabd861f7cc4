package office

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("office: not found")

// Repository abstracts office and daily-status persistence.
type Repository interface {
	ListEnabled(ctx context.Context) ([]Office, error)
	Get(ctx context.Context, officeID string) (Office, error)

	// UpsertDailyStatus replaces the row for (office, day) if one exists.
	UpsertDailyStatus(ctx context.Context, st DailyStatus) error
	GetDailyStatus(ctx context.Context, officeID, day string) (DailyStatus, error)
	AttachDailyRecording(ctx context.Context, officeID, day, recordingURL string) error
}

type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) ListEnabled(ctx context.Context) ([]Office, error) {
	const q = `
SELECT id, name, hotline_number, dual_track, poll_hour, poll_minute, timezone, enabled
FROM offices
WHERE enabled = TRUE
ORDER BY id
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Office
	for rows.Next() {
		var o Office
		if err := rows.Scan(&o.ID, &o.Name, &o.HotlineNumber, &o.DualTrack, &o.PollHour, &o.PollMinute, &o.Timezone, &o.Enabled); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepo) Get(ctx context.Context, officeID string) (Office, error) {
	const q = `
SELECT id, name, hotline_number, dual_track, poll_hour, poll_minute, timezone, enabled
FROM offices
WHERE id = $1
`
	var o Office
	err := r.db.QueryRowContext(ctx, q, officeID).Scan(&o.ID, &o.Name, &o.HotlineNumber, &o.DualTrack, &o.PollHour, &o.PollMinute, &o.Timezone, &o.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Office{}, ErrNotFound
	}
	return o, err
}

func (r *PGRepo) UpsertDailyStatus(ctx context.Context, st DailyStatus) error {
	const q = `
INSERT INTO office_daily_status (office_id, day, color, color2, transcript, recording_url, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (office_id, day)
DO UPDATE SET color = EXCLUDED.color,
              color2 = EXCLUDED.color2,
              transcript = EXCLUDED.transcript,
              recording_url = EXCLUDED.recording_url,
              updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q, st.OfficeID, st.Day, st.Color, st.Color2, st.Transcript, st.RecordingURL, st.UpdatedAt)
	return err
}

func (r *PGRepo) GetDailyStatus(ctx context.Context, officeID, day string) (DailyStatus, error) {
	const q = `
SELECT office_id, day, color, color2, transcript, recording_url, updated_at
FROM office_daily_status
WHERE office_id = $1 AND day = $2
`
	var st DailyStatus
	err := r.db.QueryRowContext(ctx, q, officeID, day).Scan(&st.OfficeID, &st.Day, &st.Color, &st.Color2, &st.Transcript, &st.RecordingURL, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyStatus{}, ErrNotFound
	}
	return st, err
}

func (r *PGRepo) AttachDailyRecording(ctx context.Context, officeID, day, recordingURL string) error {
	const q = `
UPDATE office_daily_status SET recording_url = $3 WHERE office_id = $1 AND day = $2
`
	res, err := r.db.ExecContext(ctx, q, officeID, day, recordingURL)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
