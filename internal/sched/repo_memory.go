package sched

import (
	"context"
	"sort"
	"sync"

	"checkline/internal/callflow"
)

// MemoryRepo is an in-memory schedule repository for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	schedules map[string]Schedule
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{schedules: map[string]Schedule{}}
}

func (r *MemoryRepo) Upsert(ctx context.Context, s Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = s
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(r.schedules, id)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) ListEnabled(ctx context.Context) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, s := range r.schedules {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) ListBySubscriber(ctx context.Context, subscriberID string) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, s := range r.schedules {
		if s.SubscriberID == subscriberID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.Enabled = enabled
	r.schedules[id] = s
	return nil
}

func (r *MemoryRepo) SetSkips(ctx context.Context, id string, skips int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.ConsecutiveSkips = skips
	r.schedules[id] = s
	return nil
}

func (r *MemoryRepo) ListOfficeRecipients(ctx context.Context, officeID string) ([]callflow.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []callflow.Recipient
	for _, s := range r.schedules {
		if s.OfficeID == officeID && s.Enabled {
			out = append(out, callflow.Recipient{
				SubscriberID: s.SubscriberID,
				Target:       s.NotifyTarget,
				Email:        s.NotifyEmail,
				Channel:      s.NotifyChannel,
				Hour:         s.Hour,
				Minute:       s.Minute,
				Timezone:     s.Timezone,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}
