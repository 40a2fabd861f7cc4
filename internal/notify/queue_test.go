package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/audit"
	"checkline/internal/calls"
)

type recordingSender struct {
	mu      sync.Mutex
	channel calls.NotifyChannel
	sent    []Task
	fail    error
}

func (s *recordingSender) Channel() calls.NotifyChannel { return s.channel }

func (s *recordingSender) Send(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, t)
	return nil
}

func (s *recordingSender) tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.sent))
	copy(out, s.sent)
	return out
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

func TestQueue_DispatchesToChannelSender(t *testing.T) {
	sms := &recordingSender{channel: calls.ChannelSMS}
	q := NewQueue(8, 1, nil, nil, sms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(Task{SubscriberID: "sub1", Channel: calls.ChannelSMS, Target: "+15550001111", Message: RenderResult(calls.ResultMustReport)})

	waitFor(t, func() bool { return len(sms.tasks()) == 1 })
	got := sms.tasks()[0]
	assert.Equal(t, "+15550001111", got.Target)
	assert.Contains(t, got.Message.Body, "required to report")
}

func TestQueue_BothFansOutToSMSAndEmail(t *testing.T) {
	sms := &recordingSender{channel: calls.ChannelSMS}
	mail := &recordingSender{channel: calls.ChannelEmail}
	q := NewQueue(8, 2, nil, nil, sms, mail)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(Task{SubscriberID: "sub1", Channel: calls.ChannelBoth, Target: "+15550001111", Email: "sub@example.com"})

	waitFor(t, func() bool { return len(sms.tasks()) == 1 && len(mail.tasks()) == 1 })
}

func TestQueue_SenderFailureIsLoggedNotFatal(t *testing.T) {
	repo := audit.NewMemoryRepo()
	sms := &recordingSender{channel: calls.ChannelSMS, fail: assert.AnError}
	q := NewQueue(8, 1, audit.NewService(repo), nil, sms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(Task{SubscriberID: "sub1", SessionID: "s1", Channel: calls.ChannelSMS, Target: "+15550001111"})

	waitFor(t, func() bool { return len(repo.Events()) == 1 })
	e := repo.Events()[0]
	assert.Equal(t, audit.EventTypeDeliveryFailure, e.Type)
	assert.Equal(t, "s1", e.SessionID)
}

func TestQueue_MissingSenderIsLogged(t *testing.T) {
	repo := audit.NewMemoryRepo()
	q := NewQueue(8, 1, audit.NewService(repo), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(Task{SubscriberID: "sub1", Channel: calls.ChannelEmail, Email: "sub@example.com"})
	waitFor(t, func() bool { return len(repo.Events()) == 1 })
}

func TestQueue_DelayedTaskWaitsForNotBefore(t *testing.T) {
	sms := &recordingSender{channel: calls.ChannelSMS}
	q := NewQueue(8, 1, nil, nil, sms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(Task{Channel: calls.ChannelSMS, Target: "+1555", NotBefore: time.Now().Add(50 * time.Millisecond)})
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, sms.tasks(), "task must not be dispatched before NotBefore")

	waitFor(t, func() bool { return len(sms.tasks()) == 1 })
}

func TestQueue_FiredTimersAreForgotten(t *testing.T) {
	sms := &recordingSender{channel: calls.ChannelSMS}
	q := NewQueue(8, 1, nil, nil, sms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 5; i++ {
		q.Enqueue(Task{Channel: calls.ChannelSMS, Target: "+1555", NotBefore: time.Now().Add(5 * time.Millisecond)})
	}
	waitFor(t, func() bool { return len(sms.tasks()) == 5 })

	// Every fired timer must unregister itself; only undelivered ones stay.
	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.timers) == 0
	})
}

func TestRenderMessages(t *testing.T) {
	m := RenderResult(calls.ResultNoActionNeeded)
	assert.Contains(t, m.Body, "NOT required")

	m = RenderResult(calls.ResultUnknown)
	assert.Contains(t, m.Body, "verify")

	m = RenderColor("Downtown Office", "Canary", "Tan")
	assert.Contains(t, m.Subject, "Canary")
	assert.Contains(t, m.Body, "Tan")

	m = RenderColor("Downtown Office", "Red", "")
	assert.Contains(t, m.Subject, "Red")
	assert.NotContains(t, m.Subject, "/")
}
