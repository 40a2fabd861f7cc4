package office

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory office repository for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	Offices  []Office
	statuses map[string]DailyStatus // key: office_id|day
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{statuses: map[string]DailyStatus{}}
}

func (r *MemoryRepo) ListEnabled(ctx context.Context) ([]Office, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Office, 0)
	for _, o := range r.Offices {
		if o.Enabled {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, officeID string) (Office, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Offices {
		if o.ID == officeID {
			return o, nil
		}
	}
	return Office{}, ErrNotFound
}

func (r *MemoryRepo) UpsertDailyStatus(ctx context.Context, st DailyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[st.OfficeID+"|"+st.Day] = st
	return nil
}

func (r *MemoryRepo) GetDailyStatus(ctx context.Context, officeID, day string) (DailyStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[officeID+"|"+day]
	if !ok {
		return DailyStatus{}, ErrNotFound
	}
	return st, nil
}

func (r *MemoryRepo) AttachDailyRecording(ctx context.Context, officeID, day, recordingURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[officeID+"|"+day]
	if !ok {
		return ErrNotFound
	}
	st.RecordingURL = recordingURL
	r.statuses[officeID+"|"+day] = st
	return nil
}
