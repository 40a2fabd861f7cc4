package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"checkline/internal/audit"
	"checkline/internal/callflow"
	"checkline/internal/notify"
	"checkline/internal/office"
)

// Starter places calls; satisfied by the callflow service.
type Starter interface {
	StartCall(ctx context.Context, req callflow.StartRequest) (string, error)
	StartOfficePoll(ctx context.Context, o office.Office) (string, error)
}

// CompletionSource answers "did this subscriber get a completed call today";
// satisfied by the history repository.
type CompletionSource interface {
	CountForSubscriberSince(ctx context.Context, subscriberID string, since time.Time) (int, error)
}

// Config tunes the engine's timing behavior.
type Config struct {
	// StaggerWindow bounds the deterministic per-subscriber offset added to
	// every trigger time.
	StaggerWindow time.Duration

	ReconcileInterval time.Duration
	// ReconcileGrace is how long past the stagger window a schedule may run
	// late before reconciliation considers it missed.
	ReconcileGrace time.Duration
	// RecoverySpacing spreads recovery calls so a reconcile pass after an
	// outage does not dial every missed subscriber at once.
	RecoverySpacing time.Duration

	// MaxSkips is the consecutive credit-exhaustion skip count that
	// auto-disables a schedule.
	MaxSkips int
}

func (c Config) withDefaults() Config {
	out := c
	if out.StaggerWindow <= 0 {
		out.StaggerWindow = 10 * time.Minute
	}
	if out.ReconcileInterval <= 0 {
		out.ReconcileInterval = time.Hour
	}
	if out.ReconcileGrace <= 0 {
		out.ReconcileGrace = 30 * time.Minute
	}
	if out.RecoverySpacing <= 0 {
		out.RecoverySpacing = 30 * time.Second
	}
	if out.MaxSkips <= 0 {
		out.MaxSkips = 3
	}
	return out
}

// Engine owns one cancellable timer per enabled schedule and one per enabled
// office. It is the only writer of the schedules' skip counters.
type Engine struct {
	cfg         Config
	repo        Repository
	offices     office.Repository
	starter     Starter
	completions CompletionSource
	queue       *notify.Queue
	audit       *audit.Service
	log         *slog.Logger

	clock func() time.Time

	mu           sync.Mutex
	timers       map[string]*time.Timer
	officeTimers map[string]*time.Timer
	recoveries   map[string]*time.Timer
	closed       bool
}

func NewEngine(cfg Config, repo Repository, offices office.Repository, starter Starter, completions CompletionSource, queue *notify.Queue, auditSvc *audit.Service, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:          cfg.withDefaults(),
		repo:         repo,
		offices:      offices,
		starter:      starter,
		completions:  completions,
		queue:        queue,
		audit:        auditSvc,
		log:          log,
		clock:        time.Now,
		timers:       make(map[string]*time.Timer),
		officeTimers: make(map[string]*time.Timer),
		recoveries:   make(map[string]*time.Timer),
	}
}

// Start registers timers for every enabled schedule and office, then runs the
// reconcile loop until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	schedules, err := e.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, s := range schedules {
		e.register(s)
	}
	e.log.Info("schedules registered", "count", len(schedules))

	offices, err := e.offices.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, o := range offices {
		e.registerOffice(o)
	}
	e.log.Info("office polls registered", "count", len(offices))

	go func() {
		t := time.NewTicker(e.cfg.ReconcileInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				e.Close()
				return
			case <-t.C:
				e.Reconcile(ctx)
			}
		}
	}()
	return nil
}

// Close cancels every pending timer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	for id, t := range e.officeTimers {
		t.Stop()
		delete(e.officeTimers, id)
	}
	for id, t := range e.recoveries {
		t.Stop()
		delete(e.recoveries, id)
	}
}

// Upsert persists the schedule and replaces its timer. Disabled schedules
// keep no timer.
func (e *Engine) Upsert(ctx context.Context, s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	now := e.clock().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if err := e.repo.Upsert(ctx, s); err != nil {
		return err
	}
	e.cancelTimer(s.ID)
	if s.Enabled {
		e.register(s)
	}
	return nil
}

// Remove deletes the schedule and cancels its pending trigger.
func (e *Engine) Remove(ctx context.Context, id string) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	e.cancelTimer(id)
	return nil
}

func (e *Engine) cancelTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) register(s Schedule) {
	fire := s.NextFire(e.clock(), e.cfg.StaggerWindow)
	delay := time.Until(fire)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[s.ID]; ok {
		t.Stop()
	}
	e.timers[s.ID] = time.AfterFunc(delay, func() { e.fire(s.ID) })
	e.log.Debug("schedule timer armed", "schedule_id", s.ID, "fire_at", fire)
}

// fire runs one schedule trigger, re-reading the schedule so edits between
// arming and firing win, then re-arms for the next day.
func (e *Engine) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := e.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Error("schedule load failed on fire", "schedule_id", id, "err", err)
		}
		return
	}
	if !s.Enabled {
		return
	}

	if e.Run(ctx, s) {
		e.register(s)
	}
}

// Run executes one firing of s: place the call, or handle a credit-exhaustion
// skip. It reports whether the schedule should stay armed.
func (e *Engine) Run(ctx context.Context, s Schedule) bool {
	_, err := e.starter.StartCall(ctx, callflow.StartRequest{
		SubscriberID:   s.SubscriberID,
		TargetNumber:   s.TargetNumber,
		Code:           s.Code,
		NotifyTarget:   s.NotifyTarget,
		NotifyEmail:    s.NotifyEmail,
		NotifyChannel:  s.NotifyChannel,
		RetryOnUnknown: s.RetryOnUnknown,
		ScheduleID:     s.ID,
	})
	switch {
	case err == nil:
		if s.ConsecutiveSkips > 0 {
			if err := e.repo.SetSkips(ctx, s.ID, 0); err != nil {
				e.log.Error("skip counter reset failed", "schedule_id", s.ID, "err", err)
			}
		}
		return true
	case errors.Is(err, callflow.ErrNoCredits):
		return e.skip(ctx, s)
	default:
		// The callflow layer already notified the subscriber of a failed
		// dial; keep the schedule armed for tomorrow.
		e.log.Error("scheduled call failed", "schedule_id", s.ID, "subscriber_id", s.SubscriberID, "err", err)
		return true
	}
}

// skip bumps the consecutive-skip counter and, past the limit, disables the
// schedule. Reports whether the schedule stays armed.
func (e *Engine) skip(ctx context.Context, s Schedule) bool {
	skips := s.ConsecutiveSkips + 1
	if err := e.repo.SetSkips(ctx, s.ID, skips); err != nil {
		e.log.Error("skip counter update failed", "schedule_id", s.ID, "err", err)
	}
	if e.audit != nil {
		if err := e.audit.LogScheduleSkip(ctx, s.SubscriberID, "credits exhausted"); err != nil {
			e.log.Error("audit append failed", "err", err)
		}
	}

	if skips < e.cfg.MaxSkips {
		e.log.Warn("scheduled call skipped, credits exhausted",
			"schedule_id", s.ID, "subscriber_id", s.SubscriberID, "skips", skips)
		e.notifySchedule(s, notify.RenderCreditsSkip())
		return true
	}

	e.log.Warn("schedule auto-disabled after repeated skips",
		"schedule_id", s.ID, "subscriber_id", s.SubscriberID, "skips", skips)
	if err := e.repo.SetEnabled(ctx, s.ID, false); err != nil {
		e.log.Error("schedule disable failed", "schedule_id", s.ID, "err", err)
	}
	e.notifySchedule(s, notify.RenderScheduleDisabled())
	return false
}

func (e *Engine) notifySchedule(s Schedule, msg notify.Message) {
	if e.queue == nil {
		return
	}
	e.queue.Enqueue(notify.Task{
		SubscriberID: s.SubscriberID,
		Channel:      s.NotifyChannel,
		Target:       s.NotifyTarget,
		Email:        s.NotifyEmail,
		Message:      msg,
	})
}

func (e *Engine) registerOffice(o office.Office) {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		e.log.Warn("bad office timezone, using UTC", "office_id", o.ID, "tz", o.Timezone)
		loc = time.UTC
	}
	now := e.clock()
	local := now.In(loc)
	fire := time.Date(local.Year(), local.Month(), local.Day(), o.PollHour, o.PollMinute, 0, 0, loc)
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.officeTimers[o.ID]; ok {
		t.Stop()
	}
	e.officeTimers[o.ID] = time.AfterFunc(time.Until(fire), func() { e.fireOffice(o.ID) })
	e.log.Debug("office poll timer armed", "office_id", o.ID, "fire_at", fire)
}

func (e *Engine) fireOffice(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	o, err := e.offices.Get(ctx, id)
	if err != nil {
		e.log.Error("office load failed on fire", "office_id", id, "err", err)
		return
	}
	if !o.Enabled {
		return
	}

	if _, err := e.starter.StartOfficePoll(ctx, o); err != nil {
		if errors.Is(err, callflow.ErrAlreadyPolled) {
			e.log.Info("office already polled today", "office_id", id)
		} else {
			e.log.Error("office poll failed", "office_id", id, "err", err)
		}
	}
	e.registerOffice(o)
}

// Reconcile starts a recovery call for every enabled schedule whose trigger
// window already passed today with no completed call on record (a missed
// firing after a restart, or a call that produced nothing).
func (e *Engine) Reconcile(ctx context.Context) {
	schedules, err := e.repo.ListEnabled(ctx)
	if err != nil {
		e.log.Error("reconcile list failed", "err", err)
		return
	}

	now := e.clock()
	recovered := 0
	for _, s := range schedules {
		due, since := e.missedToday(s, now)
		if !due {
			continue
		}
		n, err := e.completions.CountForSubscriberSince(ctx, s.SubscriberID, since)
		if err != nil {
			e.log.Error("reconcile completion check failed", "schedule_id", s.ID, "err", err)
			continue
		}
		if n > 0 {
			continue
		}

		sched := s
		delay := time.Duration(recovered) * e.cfg.RecoverySpacing
		recovered++
		e.log.Warn("missed schedule detected, recovery call queued",
			"schedule_id", s.ID, "subscriber_id", s.SubscriberID, "delay", delay)
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if prev, ok := e.recoveries[sched.ID]; ok {
			prev.Stop()
		}
		e.recoveries[sched.ID] = time.AfterFunc(delay, func() {
			e.mu.Lock()
			delete(e.recoveries, sched.ID)
			e.mu.Unlock()

			rctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			e.Run(rctx, sched)
		})
		e.mu.Unlock()
	}
}

// missedToday reports whether s's trigger window already elapsed today, and
// the local-midnight instant completions are counted from.
func (e *Engine) missedToday(s Schedule, now time.Time) (bool, time.Time) {
	loc := s.Location()
	local := now.In(loc)
	fire := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc).
		Add(Stagger(s.SubscriberID, e.cfg.StaggerWindow))
	deadline := fire.Add(e.cfg.ReconcileGrace)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return now.After(deadline), midnight
}
