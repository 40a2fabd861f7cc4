package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/audit"
	"checkline/internal/callflow"
	"checkline/internal/calls"
	"checkline/internal/history"
	"checkline/internal/notify"
	"checkline/internal/office"
)

type fakeStarter struct {
	mu       sync.Mutex
	started  []callflow.StartRequest
	polled   []string
	startErr error
	pollErr  error
}

func (f *fakeStarter) StartCall(ctx context.Context, req callflow.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "sess1", nil
}

func (f *fakeStarter) StartOfficePoll(ctx context.Context, o office.Office) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return "", f.pollErr
	}
	f.polled = append(f.polled, o.ID)
	return "sess2", nil
}

func (f *fakeStarter) calls() []callflow.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]callflow.StartRequest, len(f.started))
	copy(out, f.started)
	return out
}

type engineFixture struct {
	engine  *Engine
	repo    *MemoryRepo
	starter *fakeStarter
	sms     *captureSender
}

type captureSender struct {
	mu    sync.Mutex
	tasks []notify.Task
}

func (s *captureSender) Channel() calls.NotifyChannel { return calls.ChannelSMS }

func (s *captureSender) Send(ctx context.Context, t notify.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *captureSender) all() []notify.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func newEngineFixture(t *testing.T, cfg Config, completions CompletionSource) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:    NewMemoryRepo(),
		starter: &fakeStarter{},
		sms:     &captureSender{},
	}
	queue := notify.NewQueue(32, 1, nil, nil, f.sms)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)

	if completions == nil {
		completions = history.NewMemoryRepo()
	}
	f.engine = NewEngine(cfg, f.repo, office.NewMemoryRepo(), f.starter, completions, queue, audit.NewService(audit.NewMemoryRepo()), nil)
	t.Cleanup(func() {
		f.engine.Close()
		cancel()
	})
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestRun_StartsCallAndResetsSkips(t *testing.T) {
	f := newEngineFixture(t, Config{}, nil)
	s := validSchedule()
	s.ConsecutiveSkips = 2
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	keep := f.engine.Run(context.Background(), s)
	assert.True(t, keep)

	started := f.starter.calls()
	require.Len(t, started, 1)
	assert.Equal(t, "sub1", started[0].SubscriberID)
	assert.Equal(t, "sch1", started[0].ScheduleID)
	assert.Equal(t, "123456", started[0].Code)

	got, err := f.repo.Get(context.Background(), "sch1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveSkips)
}

func TestRun_CreditSkipNotifiesAndCounts(t *testing.T) {
	f := newEngineFixture(t, Config{MaxSkips: 3}, nil)
	f.starter.startErr = callflow.ErrNoCredits

	s := validSchedule()
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	keep := f.engine.Run(context.Background(), s)
	assert.True(t, keep, "first skip keeps the schedule armed")

	got, err := f.repo.Get(context.Background(), "sch1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveSkips)
	assert.True(t, got.Enabled)

	waitFor(t, func() bool { return len(f.sms.all()) == 1 })
	assert.Contains(t, f.sms.all()[0].Message.Body, "credits")
}

func TestRun_RepeatedSkipsDisableSchedule(t *testing.T) {
	f := newEngineFixture(t, Config{MaxSkips: 3}, nil)
	f.starter.startErr = callflow.ErrNoCredits

	s := validSchedule()
	s.ConsecutiveSkips = 2
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	keep := f.engine.Run(context.Background(), s)
	assert.False(t, keep, "hitting the skip limit disarms the schedule")

	got, err := f.repo.Get(context.Background(), "sch1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 3, got.ConsecutiveSkips)

	waitFor(t, func() bool { return len(f.sms.all()) == 1 })
	assert.Contains(t, f.sms.all()[0].Message.Body, "disabled")
}

func TestRun_ProviderErrorKeepsSchedule(t *testing.T) {
	f := newEngineFixture(t, Config{}, nil)
	f.starter.startErr = assert.AnError

	s := validSchedule()
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	keep := f.engine.Run(context.Background(), s)
	assert.True(t, keep)

	got, err := f.repo.Get(context.Background(), "sch1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 0, got.ConsecutiveSkips, "provider errors are not credit skips")
}

func TestUpsert_ValidatesAndArms(t *testing.T) {
	f := newEngineFixture(t, Config{}, nil)

	bad := validSchedule()
	bad.Timezone = "Nowhere/Nope"
	assert.Error(t, f.engine.Upsert(context.Background(), bad))

	good := validSchedule()
	require.NoError(t, f.engine.Upsert(context.Background(), good))
	got, err := f.repo.Get(context.Background(), "sch1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())

	f.engine.mu.Lock()
	_, armed := f.engine.timers["sch1"]
	f.engine.mu.Unlock()
	assert.True(t, armed)
}

func TestRemove_CancelsTimer(t *testing.T) {
	f := newEngineFixture(t, Config{}, nil)
	require.NoError(t, f.engine.Upsert(context.Background(), validSchedule()))
	require.NoError(t, f.engine.Remove(context.Background(), "sch1"))

	f.engine.mu.Lock()
	_, armed := f.engine.timers["sch1"]
	f.engine.mu.Unlock()
	assert.False(t, armed)

	_, err := f.repo.Get(context.Background(), "sch1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcile_RecoversMissedSchedule(t *testing.T) {
	completions := history.NewMemoryRepo()
	f := newEngineFixture(t, Config{RecoverySpacing: time.Millisecond, ReconcileGrace: time.Minute}, completions)

	s := validSchedule()
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	// Pin the engine clock well past today's trigger window.
	loc := s.Location()
	f.engine.clock = func() time.Time {
		return time.Date(2026, 3, 2, 20, 0, 0, 0, loc)
	}

	f.engine.Reconcile(context.Background())
	waitFor(t, func() bool { return len(f.starter.calls()) == 1 })
	assert.Equal(t, "sch1", f.starter.calls()[0].ScheduleID)
}

func TestReconcile_CloseCancelsPendingRecoveries(t *testing.T) {
	completions := history.NewMemoryRepo()
	f := newEngineFixture(t, Config{RecoverySpacing: time.Hour, ReconcileGrace: time.Minute}, completions)

	first := validSchedule()
	second := validSchedule()
	second.ID = "sch2"
	second.SubscriberID = "sub2"
	require.NoError(t, f.repo.Upsert(context.Background(), first))
	require.NoError(t, f.repo.Upsert(context.Background(), second))

	loc := first.Location()
	f.engine.clock = func() time.Time {
		return time.Date(2026, 3, 2, 20, 0, 0, 0, loc)
	}

	// The first recovery dials right away; the second waits out the spacing
	// and must stay tracked until it fires or the engine closes.
	f.engine.Reconcile(context.Background())
	waitFor(t, func() bool { return len(f.starter.calls()) == 1 })
	f.engine.mu.Lock()
	pending := len(f.engine.recoveries)
	f.engine.mu.Unlock()
	require.Equal(t, 1, pending, "the spaced recovery timer must be tracked")

	f.engine.Close()
	f.engine.mu.Lock()
	pending = len(f.engine.recoveries)
	f.engine.mu.Unlock()
	assert.Zero(t, pending, "Close must cancel pending recoveries")
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, f.starter.calls(), 1, "a canceled recovery must not dial")
}

func TestReconcile_SkipsCompletedSchedule(t *testing.T) {
	completions := history.NewMemoryRepo()
	f := newEngineFixture(t, Config{RecoverySpacing: time.Millisecond, ReconcileGrace: time.Minute}, completions)

	s := validSchedule()
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	loc := s.Location()
	f.engine.clock = func() time.Time {
		return time.Date(2026, 3, 2, 20, 0, 0, 0, loc)
	}
	require.NoError(t, completions.Insert(context.Background(), calls.Record{
		SessionID:    "done",
		SubscriberID: "sub1",
		Result:       calls.ResultNoActionNeeded,
		CreatedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
	}))

	f.engine.Reconcile(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.starter.calls(), "a completed run today must not be re-dialed")
}

func TestReconcile_SkipsNotYetDue(t *testing.T) {
	f := newEngineFixture(t, Config{RecoverySpacing: time.Millisecond, ReconcileGrace: time.Minute}, nil)

	s := validSchedule()
	require.NoError(t, f.repo.Upsert(context.Background(), s))

	loc := s.Location()
	f.engine.clock = func() time.Time {
		return time.Date(2026, 3, 2, 6, 0, 0, 0, loc)
	}

	f.engine.Reconcile(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.starter.calls())
}
