package audit

import (
	"context"
	"testing"
)

func TestAppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.LogDeliveryFailure(context.Background(), "sub1", "s1", "sms", "provider rejected")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected defaults filled: %+v", e)
	}
	if e.Type != EventTypeDeliveryFailure || e.Channel != "sms" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestAppendRejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Event{}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
