package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkline/internal/audit"
	"checkline/internal/calls"
)

// Queue is the bounded dispatch queue between the webhook path and the
// channel senders. Webhook handlers enqueue and return immediately; workers
// drain. Backpressure is explicit: a full queue drops the task with a logged
// delivery failure instead of blocking a webhook response.
type Queue struct {
	tasks   chan Task
	senders map[calls.NotifyChannel]Sender
	audit   *audit.Service
	log     *slog.Logger

	workers int
	clock   func() time.Time

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	timerID uint64

	wg sync.WaitGroup
}

func NewQueue(capacity, workers int, auditSvc *audit.Service, log *slog.Logger, senders ...Sender) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		tasks:   make(chan Task, capacity),
		senders: make(map[calls.NotifyChannel]Sender, len(senders)),
		audit:   auditSvc,
		log:     log,
		workers: workers,
		clock:   time.Now,
		timers:  make(map[uint64]*time.Timer),
	}
	for _, s := range senders {
		q.senders[s.Channel()] = s
	}
	return q
}

// Start launches the worker pool. Workers stop when ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-q.tasks:
					q.dispatch(ctx, t)
				}
			}
		}()
	}
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		for id, t := range q.timers {
			t.Stop()
			delete(q.timers, id)
		}
		q.mu.Unlock()
	}()
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() { q.wg.Wait() }

// Enqueue schedules a task. Delayed tasks arm an independent timer so they
// never occupy a worker while waiting; many fan-out deliveries can be pending
// concurrently.
func (q *Queue) Enqueue(t Task) {
	delay := time.Until(t.NotBefore)
	if t.NotBefore.IsZero() || delay <= 0 {
		q.push(t)
		return
	}
	q.mu.Lock()
	id := q.timerID
	q.timerID++
	// The fired timer removes itself; the registry holds pending ones only,
	// so a long-lived process does not accumulate an entry per delivery.
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
		q.push(t)
	})
	q.mu.Unlock()
}

func (q *Queue) push(t Task) {
	select {
	case q.tasks <- t:
	default:
		q.log.Error("notify queue full, dropping task",
			"subscriber_id", t.SubscriberID, "session_id", t.SessionID, "channel", t.Channel)
		q.logFailure(t, "queue full")
	}
}

// dispatch fans a task out to its channel senders. The "both" channel means
// sms + email; one channel failing does not stop the other.
func (q *Queue) dispatch(ctx context.Context, t Task) {
	channels := []calls.NotifyChannel{t.Channel}
	if t.Channel == calls.ChannelBoth {
		channels = []calls.NotifyChannel{calls.ChannelSMS, calls.ChannelEmail}
	}
	for _, ch := range channels {
		s, ok := q.senders[ch]
		if !ok {
			q.log.Warn("no sender for channel", "channel", ch, "subscriber_id", t.SubscriberID)
			q.logFailure(t, "no sender for channel "+string(ch))
			continue
		}
		sub := t
		sub.Channel = ch
		if err := s.Send(ctx, sub); err != nil {
			q.log.Error("notification delivery failed",
				"channel", ch, "subscriber_id", t.SubscriberID, "session_id", t.SessionID, "err", err)
			q.logFailure(sub, err.Error())
		}
	}
}

func (q *Queue) logFailure(t Task, reason string) {
	if q.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.audit.LogDeliveryFailure(ctx, t.SubscriberID, t.SessionID, string(t.Channel), reason); err != nil {
		q.log.Error("audit append failed", "err", err)
	}
}
