// Package session holds the in-memory registry of in-flight outbound calls.
//
// Every inbound webhook is answered from this state; a session that never
// receives its terminal webhook would otherwise live forever, so the store
// runs a sweep that expires entries after a bounded TTL.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkline/internal/calls"
)

// LineKind selects how a session's transcript is interpreted.
type LineKind string

const (
	LineKeyword   LineKind = "keyword"    // per-subscriber check-in line
	LineColor     LineKind = "color"      // office color-code line
	LineColorPair LineKind = "color_pair" // dual-track office line
)

// Session is one in-flight outbound call attempt.
//
// Single-writer-per-field semantics: Result is set at most once, through
// Store.Resolve, and never overwritten by a later callback.
type Session struct {
	ID string

	// OriginID is the first attempt's id. Retries dial under a fresh id but
	// keep the origin, so the handle the subscriber was given stays valid as
	// the key for history and notifications. Empty means this is the first
	// attempt.
	OriginID string

	Kind         LineKind
	SubscriberID string // empty for system-wide office calls
	OfficeID     string
	ScheduleID   string

	TargetNumber string
	Code         string // empty for status-only lines

	NotifyTarget  string
	NotifyEmail   string
	NotifyChannel calls.NotifyChannel

	RetryOnUnknown bool
	RetryAttempt   int
	MaxRetries     int

	Transcripts []string

	Result calls.Result // "" until resolved
	Color  string
	Color2 string

	ProviderCallID string
	CallStatus     calls.CallStatus
	Abandoned      bool

	CreatedAt time.Time
}

// Resolved reports whether a terminal result has been recorded.
func (s *Session) Resolved() bool { return s.Result != "" }

// Origin is the id of the attempt chain's first session: the one the
// subscriber holds.
func (s *Session) Origin() string {
	if s.OriginID != "" {
		return s.OriginID
	}
	return s.ID
}

var ErrNotFound = errors.New("session: not found")

// Store is the live registry, keyed by session id.
//
// Mutations are narrow (set-if-unset, insert, delete), so one short-held
// mutex is enough; handlers never hold it across I/O.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl   time.Duration
	clock func() time.Time

	// OnExpire runs outside the lock for each unresolved session the sweep
	// removes, so an abandoned call still produces a terminal notification.
	OnExpire func(s Session)
}

const defaultTTL = 10 * time.Minute

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (st *Store) SetClock(clock func() time.Time) { st.clock = clock }

// Create registers a new pending session. The caller owns the id.
func (st *Store) Create(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.clock()
	}
	cp := s
	st.sessions[s.ID] = &cp
}

// Get returns a copy of the session, so callers cannot mutate shared state
// outside the store's lock.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Resolve atomically records the terminal result if none is set yet.
// Returns true only for the caller that won; duplicate webhook deliveries get
// false and must skip persistence and notification.
func (st *Store) Resolve(id string, result calls.Result, color, color2 string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok || s.Resolved() {
		if ok {
			return *s, false
		}
		return Session{}, false
	}
	s.Result = result
	s.Color = color
	s.Color2 = color2
	return *s, true
}

// AppendTranscript adds one heard utterance to the session's ordered log.
func (st *Store) AppendTranscript(id, transcript string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if transcript != "" {
		s.Transcripts = append(s.Transcripts, transcript)
	}
	return nil
}

// SetProviderRef records the provider's call identifier once the provider
// acknowledges the dial.
func (st *Store) SetProviderRef(id, providerCallID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ProviderCallID = providerCallID
	return nil
}

// SetCallStatus records the provider-reported lifecycle status. It never
// touches Result; that edge belongs to the speech/fallback path. Terminal
// failure statuses mark the session abandoned so the sweep treats it as a
// failed attempt.
func (st *Store) SetCallStatus(id string, status calls.CallStatus) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.CallStatus = status
	if status.TerminalFailure() {
		s.Abandoned = true
	}
	return *s, nil
}

// Delete retires a session from the live registry.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes sessions older than the TTL and returns the unresolved ones
// so the caller (or OnExpire) can still deliver a terminal notification.
func (st *Store) Sweep() []Session {
	now := st.clock()
	var expired []Session

	st.mu.Lock()
	for id, s := range st.sessions {
		if now.Sub(s.CreatedAt) < st.ttl {
			continue
		}
		if !s.Resolved() {
			expired = append(expired, *s)
		}
		delete(st.sessions, id)
	}
	onExpire := st.OnExpire
	st.mu.Unlock()

	if onExpire != nil {
		for _, s := range expired {
			onExpire(s)
		}
	}
	return expired
}

// StartSweeper runs Sweep on a fixed interval until ctx is canceled.
func (st *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				st.Sweep()
			}
		}
	}()
}
