// Package callflow orchestrates outbound hotline calls end to end: it places
// the call, answers the provider's webhooks, classifies what the hotline
// said, and hands the outcome to persistence and notification.
package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"checkline/internal/audit"
	"checkline/internal/calls"
	"checkline/internal/credits"
	"checkline/internal/dtmf"
	"checkline/internal/history"
	"checkline/internal/notify"
	"checkline/internal/office"
	"checkline/internal/session"
	"checkline/internal/telephony"
	"checkline/pkg/utils"
)

var (
	ErrInvalidRequest = errors.New("callflow: invalid request")
	// ErrNoCredits maps to the API's payment-required response.
	ErrNoCredits = credits.ErrInsufficientCredits
	// ErrBusy means the outbound concurrency cap is exhausted; callers may
	// retry later.
	ErrBusy = errors.New("callflow: too many calls in flight")
	// ErrAlreadyPolled means the office hotline was already dialed today.
	ErrAlreadyPolled = errors.New("callflow: office already polled today")
)

// CreditSource is the entitlement check consulted before a call is placed.
type CreditSource interface {
	Consume(ctx context.Context, subscriberID, sessionID string) (credits.Entry, credits.Balance, error)
	Grant(ctx context.Context, subscriberID string, amount int64, reason, idempotencyKey string) (credits.Entry, credits.Balance, error)
}

// Recipient is one subscriber in an office fan-out. Hour, Minute and
// Timezone carry the recipient's own schedule trigger: the fan-out must not
// deliver the office result before the time the subscriber expects it.
type Recipient struct {
	SubscriberID string
	Target       string
	Email        string
	Channel      calls.NotifyChannel

	Hour     int
	Minute   int
	Timezone string
}

// ExpectedAt is today's instant of the recipient's schedule trigger, in
// their timezone. A recipient without a configured trigger expects the
// result immediately.
func (r Recipient) ExpectedAt(now time.Time) time.Time {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), r.Hour, r.Minute, 0, 0, loc)
}

// Roster lists the subscribers an office's daily status must reach.
type Roster interface {
	ListOfficeRecipients(ctx context.Context, officeID string) ([]Recipient, error)
}

// Config tunes call placement and retry behavior.
type Config struct {
	// PublicBaseURL is the externally reachable base for webhook callbacks,
	// no trailing slash.
	PublicBaseURL string
	FromNumber    string

	// CallTimeout bounds how long the provider lets the hotline ring.
	CallTimeout time.Duration
	// GatherTimeout is the seconds the provider waits for speech to begin.
	GatherTimeout int
	// SpeechEndTimeout is the seconds of silence that end the capture.
	SpeechEndTimeout int

	RetryDelay time.Duration
	MaxRetries int

	RecordCalls bool

	// MaxConcurrent caps simultaneous outbound calls across the process
	// fleet (enforced in redis). Zero disables the cap.
	MaxConcurrent  int
	ConcurrencyTTL time.Duration

	// FanoutSpacing is the per-recipient delay step for office fan-out.
	FanoutSpacing time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.CallTimeout <= 0 {
		out.CallTimeout = 45 * time.Second
	}
	if out.GatherTimeout <= 0 {
		out.GatherTimeout = 25
	}
	if out.SpeechEndTimeout <= 0 {
		out.SpeechEndTimeout = 4
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 2 * time.Minute
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.ConcurrencyTTL <= 0 {
		out.ConcurrencyTTL = 10 * time.Minute
	}
	if out.FanoutSpacing <= 0 {
		out.FanoutSpacing = 2 * time.Second
	}
	return out
}

const concurrencyKey = "checkline:calls:active"

// Service is the call-orchestration core. It implements telephony.Flow.
type Service struct {
	cfg      Config
	store    *session.Store
	provider telephony.Provider
	queue    *notify.Queue
	history  history.Repository
	offices  office.Repository
	roster   Roster
	credits  CreditSource
	audit    *audit.Service
	rdb      *redis.Client
	log      *slog.Logger

	clock func() time.Time
	newID func() string

	mu      sync.Mutex
	retries map[string]*time.Timer
	closed  bool
}

type Deps struct {
	Store    *session.Store
	Provider telephony.Provider
	Queue    *notify.Queue
	History  history.Repository
	Offices  office.Repository
	Roster   Roster
	Credits  CreditSource
	Audit    *audit.Service
	// Redis is optional; without it the concurrency cap and the once-daily
	// office guard are not enforced.
	Redis *redis.Client
	Log   *slog.Logger
}

func NewService(cfg Config, d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		store:    d.Store,
		provider: d.Provider,
		queue:    d.Queue,
		history:  d.History,
		offices:  d.Offices,
		roster:   d.Roster,
		credits:  d.Credits,
		audit:    d.Audit,
		rdb:      d.Redis,
		log:      log,
		clock:    time.Now,
		newID:    uuid.NewString,
		retries:  make(map[string]*time.Timer),
	}
	if d.Store != nil {
		d.Store.OnExpire = s.HandleExpiry
	}
	return s
}

// Close cancels all pending retry timers. Pending retries are lost; the
// session sweep delivers the terminal notification for their sessions.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.retries {
		t.Stop()
		delete(s.retries, id)
	}
}

// StartRequest initiates one subscriber check-in call.
type StartRequest struct {
	SubscriberID string
	TargetNumber string
	// Code is the subscriber's check-in PIN; empty means a status-only line.
	Code string

	NotifyTarget  string
	NotifyEmail   string
	NotifyChannel calls.NotifyChannel

	RetryOnUnknown bool
	ScheduleID     string
}

func (r StartRequest) validate() error {
	if r.SubscriberID == "" {
		return fmt.Errorf("%w: subscriber id is required", ErrInvalidRequest)
	}
	if r.TargetNumber == "" {
		return fmt.Errorf("%w: target number is required", ErrInvalidRequest)
	}
	if r.Code != "" {
		if err := dtmf.ValidateCode(r.Code); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if !r.NotifyChannel.Valid() {
		return fmt.Errorf("%w: unknown notify channel %q", ErrInvalidRequest, r.NotifyChannel)
	}
	switch r.NotifyChannel {
	case calls.ChannelEmail:
		if r.NotifyEmail == "" {
			return fmt.Errorf("%w: email channel needs an address", ErrInvalidRequest)
		}
	case calls.ChannelBoth:
		if r.NotifyTarget == "" || r.NotifyEmail == "" {
			return fmt.Errorf("%w: both channel needs a phone number and an address", ErrInvalidRequest)
		}
	default:
		if r.NotifyTarget == "" {
			return fmt.Errorf("%w: %s channel needs a phone number", ErrInvalidRequest, r.NotifyChannel)
		}
	}
	return nil
}

// StartCall validates, charges one credit, and dials. Returns the session id
// the caller can poll.
func (s *Service) StartCall(ctx context.Context, req StartRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	sess := session.Session{
		ID:             s.newID(),
		Kind:           session.LineKeyword,
		SubscriberID:   req.SubscriberID,
		ScheduleID:     req.ScheduleID,
		TargetNumber:   req.TargetNumber,
		Code:           req.Code,
		NotifyTarget:   req.NotifyTarget,
		NotifyEmail:    req.NotifyEmail,
		NotifyChannel:  req.NotifyChannel,
		RetryOnUnknown: req.RetryOnUnknown,
		MaxRetries:     s.cfg.MaxRetries,
	}

	if s.credits != nil {
		if _, _, err := s.credits.Consume(ctx, req.SubscriberID, sess.ID); err != nil {
			if errors.Is(err, credits.ErrInsufficientCredits) {
				return "", ErrNoCredits
			}
			return "", fmt.Errorf("callflow: consume credit: %w", err)
		}
	}

	if err := s.dial(ctx, sess); err != nil {
		s.refund(ctx, sess)
		return "", err
	}
	return sess.ID, nil
}

// StartOfficePoll dials an office status hotline. At most one poll per office
// per calendar day runs across the fleet; later attempts the same day return
// ErrAlreadyPolled.
func (s *Service) StartOfficePoll(ctx context.Context, o office.Office) (string, error) {
	if o.HotlineNumber == "" {
		return "", fmt.Errorf("%w: office %s has no hotline number", ErrInvalidRequest, o.ID)
	}
	day := office.DayKey(s.clock(), s.officeLocation(o))

	if s.rdb != nil {
		key := "checkline:office_poll:" + o.ID + ":" + day
		ok, err := s.rdb.SetNX(ctx, key, "1", 26*time.Hour).Result()
		if err != nil {
			return "", fmt.Errorf("callflow: office poll guard: %w", err)
		}
		if !ok {
			return "", ErrAlreadyPolled
		}
	}

	kind := session.LineColor
	if o.DualTrack {
		kind = session.LineColorPair
	}
	sess := session.Session{
		ID:             s.newID(),
		Kind:           kind,
		OfficeID:       o.ID,
		TargetNumber:   o.HotlineNumber,
		RetryOnUnknown: true,
		MaxRetries:     s.cfg.MaxRetries,
	}
	if err := s.dial(ctx, sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// dial acquires a concurrency slot, registers the session and places the
// provider call. On any failure the session never becomes visible.
func (s *Service) dial(ctx context.Context, sess session.Session) error {
	if err := s.acquireSlot(ctx); err != nil {
		return err
	}

	s.store.Create(sess)
	res, err := s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                   sess.TargetNumber,
		From:                 s.cfg.FromNumber,
		AnswerURL:            s.callbackURL("answer", sess.ID),
		StatusCallbackURL:    s.callbackURL("status", sess.ID),
		RecordingCallbackURL: s.recordingURL(sess),
		Record:               s.cfg.RecordCalls,
		Timeout:              s.cfg.CallTimeout,
	})
	if err != nil {
		s.store.Delete(sess.ID)
		s.releaseSlot()
		s.dialFailed(ctx, sess, err)
		return fmt.Errorf("callflow: place call: %w", err)
	}
	if err := s.store.SetProviderRef(sess.ID, res.ProviderCallID); err != nil {
		s.log.Warn("provider ref not recorded", "session_id", sess.ID, "err", err)
	}
	s.log.Info("call placed",
		"session_id", sess.ID, "provider_call_id", res.ProviderCallID,
		"subscriber_id", sess.SubscriberID, "office_id", sess.OfficeID,
		"retry_attempt", sess.RetryAttempt)
	return nil
}

func (s *Service) recordingURL(sess session.Session) string {
	if !s.cfg.RecordCalls {
		return ""
	}
	return s.callbackURL("recording", sess.ID)
}

// dialFailed records a dial that the provider rejected outright. The
// subscriber asked for this call, so the failure must reach them.
func (s *Service) dialFailed(ctx context.Context, sess session.Session, cause error) {
	s.log.Error("call placement failed",
		"session_id", sess.ID, "subscriber_id", sess.SubscriberID,
		"office_id", sess.OfficeID, "err", cause)
	if s.audit != nil {
		if err := s.audit.LogCallFailure(ctx, sess.SubscriberID, sess.ID, sess.OfficeID, "dial failed: "+cause.Error()); err != nil {
			s.log.Error("audit append failed", "err", err)
		}
	}
	if sess.SubscriberID != "" {
		s.enqueue(notify.Task{
			SubscriberID: sess.SubscriberID,
			SessionID:    sess.ID,
			Channel:      sess.NotifyChannel,
			Target:       sess.NotifyTarget,
			Email:        sess.NotifyEmail,
			Message:      notify.RenderCallFailed(),
		})
	}
}

func (s *Service) refund(ctx context.Context, sess session.Session) {
	if s.credits == nil || sess.SubscriberID == "" {
		return
	}
	if _, _, err := s.credits.Grant(ctx, sess.SubscriberID, 1, "dial failed", "refund:call:"+sess.ID); err != nil {
		s.log.Error("credit refund failed", "session_id", sess.ID, "err", err)
	}
}

func (s *Service) acquireSlot(ctx context.Context) error {
	if s.rdb == nil || s.cfg.MaxConcurrent <= 0 {
		return nil
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, s.rdb, concurrencyKey, s.cfg.MaxConcurrent, s.cfg.ConcurrencyTTL)
	if err != nil {
		return fmt.Errorf("callflow: concurrency cap: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	return nil
}

func (s *Service) releaseSlot() {
	if s.rdb == nil || s.cfg.MaxConcurrent <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := utils.ReleaseConcurrencyCap(ctx, s.rdb, concurrencyKey); err != nil {
		s.log.Error("concurrency cap release failed", "err", err)
	}
}

func (s *Service) callbackURL(leaf, sessionID string) string {
	return s.cfg.PublicBaseURL + "/telephony/" + leaf + "?session=" + url.QueryEscape(sessionID)
}

func (s *Service) officeLocation(o office.Office) *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		s.log.Warn("bad office timezone, using UTC", "office_id", o.ID, "tz", o.Timezone)
		return time.UTC
	}
	return loc
}

func (s *Service) enqueue(t notify.Task) {
	if s.queue == nil {
		s.log.Warn("notify queue not configured, dropping notification",
			"subscriber_id", t.SubscriberID, "session_id", t.SessionID)
		return
	}
	s.queue.Enqueue(t)
}
