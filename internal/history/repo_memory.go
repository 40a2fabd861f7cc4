package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkline/internal/calls"
)

// MemoryRepo is an in-memory call-history repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []calls.Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, rec calls.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) AttachRecording(ctx context.Context, sessionID, recordingURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].SessionID == sessionID {
			r.records[i].RecordingURL = recordingURL
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) GetBySession(ctx context.Context, sessionID string) (calls.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			return rec, nil
		}
	}
	return calls.Record{}, ErrNotFound
}

func (r *MemoryRepo) ListBySubscriber(ctx context.Context, subscriberID string, limit int) ([]calls.Record, error) {
	if limit <= 0 {
		limit = 30
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Record, 0)
	for _, rec := range r.records {
		if rec.SubscriberID == subscriberID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountForSubscriberSince(ctx context.Context, subscriberID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.SubscriberID == subscriberID && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every record. Test helper.
func (r *MemoryRepo) All() []calls.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Record, len(r.records))
	copy(out, r.records)
	return out
}
