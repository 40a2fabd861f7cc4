package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// Append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operational events. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDeliveryFailure records a notification that could not be delivered.
func (s *Service) LogDeliveryFailure(ctx context.Context, subscriberID, sessionID, channel, message string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeDeliveryFailure,
		SubscriberID: subscriberID,
		SessionID:    sessionID,
		Channel:      channel,
		Message:      message,
	})
}

// LogScheduleSkip records a schedule firing skipped without placing a call.
func (s *Service) LogScheduleSkip(ctx context.Context, subscriberID, message string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeScheduleSkip,
		SubscriberID: subscriberID,
		Message:      message,
	})
}

// LogCallFailure records a call that never produced a usable result.
func (s *Service) LogCallFailure(ctx context.Context, subscriberID, sessionID, officeID, message string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeCallFailure,
		SubscriberID: subscriberID,
		SessionID:    sessionID,
		OfficeID:     officeID,
		Message:      message,
	})
}
