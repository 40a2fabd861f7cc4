package audit

import "time"

// Event is an immutable, append-only operational log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; no delivery or call flow blocks on audit failure.
//
// The notification layer writes one event per failed delivery so undelivered
// outcomes are visible for manual follow-up (a call that completes with no
// notification at all is the one failure mode that must never pass silently).
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	SubscriberID string `json:"subscriber_id,omitempty" db:"subscriber_id"`
	SessionID    string `json:"session_id,omitempty" db:"session_id"`
	OfficeID     string `json:"office_id,omitempty" db:"office_id"`

	// Channel is the notification channel involved, when applicable.
	Channel string `json:"channel,omitempty" db:"channel"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDeliveryFailure EventType = "delivery_failure"
	EventTypeCallFailure     EventType = "call_failure"
	EventTypeScheduleSkip    EventType = "schedule_skip"
)
