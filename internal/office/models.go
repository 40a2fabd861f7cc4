// Package office models the multi-office status hotlines and their daily
// color announcements.
package office

import "time"

// Office is one status hotline polled system-wide once a day.
type Office struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	HotlineNumber string `json:"hotline_number" db:"hotline_number"`

	// DualTrack offices announce two parallel color tracks.
	DualTrack bool `json:"dual_track" db:"dual_track"`

	// PollHour/PollMinute is the fixed system-wide poll time in Timezone.
	PollHour   int    `json:"poll_hour" db:"poll_hour"`
	PollMinute int    `json:"poll_minute" db:"poll_minute"`
	Timezone   string `json:"timezone" db:"timezone"`

	Enabled bool `json:"enabled" db:"enabled"`
}

// DailyStatus is the detected announcement for one (office, calendar day).
// At most one row exists per pair; a later call the same day replaces it.
type DailyStatus struct {
	OfficeID string `json:"office_id" db:"office_id"`
	// Day is the calendar day in the office's timezone, formatted 2006-01-02.
	Day string `json:"day" db:"day"`

	Color  string `json:"color" db:"color"`
	Color2 string `json:"color2,omitempty" db:"color2"`

	Transcript   string `json:"transcript,omitempty" db:"transcript"`
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DayKey formats t as a calendar-day key in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02")
}
