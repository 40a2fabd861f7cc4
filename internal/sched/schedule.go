// Package sched runs the recurring per-subscriber check-in schedules and the
// daily office polls.
package sched

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"checkline/internal/calls"
	"checkline/internal/dtmf"
)

var ErrNotFound = errors.New("sched: not found")

// Schedule is one subscriber's recurring check-in configuration.
type Schedule struct {
	ID           string `json:"id" db:"id"`
	SubscriberID string `json:"subscriber_id" db:"subscriber_id"`
	// OfficeID links the subscriber to an office's daily color fan-out;
	// empty for subscribers on a dedicated check-in line.
	OfficeID string `json:"office_id,omitempty" db:"office_id"`

	TargetNumber string `json:"target_number" db:"target_number"`
	Code         string `json:"code,omitempty" db:"code"`

	NotifyTarget  string              `json:"notify_target" db:"notify_target"`
	NotifyEmail   string              `json:"notify_email,omitempty" db:"notify_email"`
	NotifyChannel calls.NotifyChannel `json:"notify_channel" db:"notify_channel"`

	// Hour/Minute is the local trigger time in Timezone.
	Hour     int    `json:"hour" db:"hour"`
	Minute   int    `json:"minute" db:"minute"`
	Timezone string `json:"timezone" db:"timezone"`

	RetryOnUnknown bool `json:"retry_on_unknown" db:"retry_on_unknown"`
	Enabled        bool `json:"enabled" db:"enabled"`

	// ConsecutiveSkips counts schedule firings skipped for exhausted
	// credits; it resets on the first successful call.
	ConsecutiveSkips int `json:"consecutive_skips" db:"consecutive_skips"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the fields a subscriber controls.
func (s Schedule) Validate() error {
	if s.SubscriberID == "" {
		return errors.New("sched: subscriber id is required")
	}
	if s.TargetNumber == "" {
		return errors.New("sched: target number is required")
	}
	if s.Code != "" {
		if err := dtmf.ValidateCode(s.Code); err != nil {
			return fmt.Errorf("sched: %w", err)
		}
	}
	if !s.NotifyChannel.Valid() {
		return fmt.Errorf("sched: unknown notify channel %q", s.NotifyChannel)
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("sched: trigger time %02d:%02d out of range", s.Hour, s.Minute)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("sched: bad timezone %q", s.Timezone)
	}
	return nil
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Stagger derives a deterministic per-subscriber delay in [0, window) so a
// popular trigger minute does not dial the hotline for everyone at once. The
// same subscriber always gets the same offset.
func Stagger(subscriberID string, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(subscriberID))
	return time.Duration(h.Sum64() % uint64(window))
}

// NextFire computes the next local firing instant strictly after now,
// including the subscriber's stagger offset.
func (s Schedule) NextFire(now time.Time, window time.Duration) time.Time {
	loc := s.Location()
	local := now.In(loc)
	fire := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc).
		Add(Stagger(s.SubscriberID, window))
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}
