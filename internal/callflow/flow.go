package callflow

import (
	"context"
	"strings"
	"time"

	"checkline/internal/calls"
	"checkline/internal/classify"
	"checkline/internal/dtmf"
	"checkline/internal/notify"
	"checkline/internal/office"
	"checkline/internal/session"
	"checkline/internal/telephony"
)

// Service implements telephony.Flow; the methods below are the per-webhook
// steps of the call protocol. Every path that cannot find its session is a
// safe no-op: the session expired or the provider delivered a duplicate.

var _ telephony.Flow = (*Service)(nil)

// Answer returns the call-control script run when the hotline picks up:
// wait out the greeting, key in the menu selections and the code, then
// capture the announcement as speech.
func (s *Service) Answer(ctx context.Context, sessionID string) string {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		s.log.Warn("answer webhook for unknown session", "session_id", sessionID)
		return telephony.HangupResponse("Goodbye.")
	}

	seq := dtmf.StatusSequence()
	if sess.Code != "" {
		var err error
		seq, err = dtmf.Sequence(sess.Code)
		if err != nil {
			// The code was validated at intake, so this is a registry bug.
			s.log.Error("stored code rejected by sequencer", "session_id", sessionID, "err", err)
			return telephony.HangupResponse("Goodbye.")
		}
	}

	r := &telephony.Response{}
	r.PlayDigits(seq).
		GatherSpeech(s.callbackURL("result", sessionID), s.cfg.GatherTimeout, s.cfg.SpeechEndTimeout).
		Redirect(s.callbackURL("fallback", sessionID))
	doc, err := r.Render()
	if err != nil {
		s.log.Error("answer script render failed", "session_id", sessionID, "err", err)
		return telephony.HangupResponse("Goodbye.")
	}
	return doc
}

// SpeechResult classifies a captured transcript and resolves the session.
func (s *Service) SpeechResult(ctx context.Context, sessionID, transcript string, confidence float64) {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		s.log.Warn("speech result for unknown session", "session_id", sessionID)
		return
	}
	if err := s.store.AppendTranscript(sessionID, transcript); err != nil {
		s.log.Warn("transcript append failed", "session_id", sessionID, "err", err)
	}
	s.log.Info("speech result received",
		"session_id", sessionID, "confidence", confidence, "chars", len(transcript))

	result, color, color2 := s.interpret(sess.Kind, transcript)
	s.resolve(ctx, sessionID, result, color, color2)
}

// Fallback fires when the gather window closed with nothing heard. Same
// resolve-or-retry edge as SpeechResult, with nothing to classify.
func (s *Service) Fallback(ctx context.Context, sessionID string) {
	if _, ok := s.store.Get(sessionID); !ok {
		s.log.Warn("fallback for unknown session", "session_id", sessionID)
		return
	}
	s.log.Info("speech capture window elapsed with no speech", "session_id", sessionID)
	s.resolve(ctx, sessionID, calls.ResultUnknown, "", "")
}

// CallStatus records a provider lifecycle event. It never resolves the
// session; terminal failures mark it abandoned and the sweep finishes it.
func (s *Service) CallStatus(ctx context.Context, sessionID, providerCallID string, status calls.CallStatus) {
	sess, err := s.store.SetCallStatus(sessionID, status)
	if err != nil {
		s.log.Warn("status webhook for unknown session", "session_id", sessionID, "status", status)
		return
	}
	if sess.ProviderCallID == "" && providerCallID != "" {
		_ = s.store.SetProviderRef(sessionID, providerCallID)
	}
	s.log.Info("call status", "session_id", sessionID, "status", status)
}

// Recording attaches a recording reference after the fact. Failures are
// logged and never affect the delivered outcome.
func (s *Service) Recording(ctx context.Context, sessionID, recordingURL string) {
	sess, ok := s.store.Get(sessionID)
	if ok && sess.OfficeID != "" && sess.SubscriberID == "" {
		o, err := s.offices.Get(ctx, sess.OfficeID)
		if err != nil {
			s.log.Warn("recording for unknown office", "session_id", sessionID, "office_id", sess.OfficeID, "err", err)
			return
		}
		day := office.DayKey(sess.CreatedAt, s.officeLocation(o))
		if err := s.offices.AttachDailyRecording(ctx, sess.OfficeID, day, recordingURL); err != nil {
			s.log.Warn("office recording attach failed", "session_id", sessionID, "err", err)
		}
		return
	}
	// The history row exists even after the live session was swept. Retried
	// calls record under the chain's origin id.
	target := sessionID
	if ok {
		target = sess.Origin()
	}
	if err := s.history.AttachRecording(ctx, target, recordingURL); err != nil {
		s.log.Warn("recording attach failed", "session_id", sessionID, "err", err)
	}
}

// interpret maps a transcript to an outcome according to the session's line
// kind.
func (s *Service) interpret(kind session.LineKind, transcript string) (calls.Result, string, string) {
	switch kind {
	case session.LineColor:
		if c, ok := classify.Color(transcript); ok {
			return calls.ResultColorDetected, c, ""
		}
		return calls.ResultUnknown, "", ""
	case session.LineColorPair:
		if c1, c2, ok := classify.ColorPair(transcript); ok {
			return calls.ResultColorDetected, c1, c2
		}
		return calls.ResultUnknown, "", ""
	default:
		return classify.Keyword(transcript), "", ""
	}
}

// resolve is the single idempotent resolution edge shared by the result and
// fallback webhooks. At most one caller wins; losers do nothing.
func (s *Service) resolve(ctx context.Context, sessionID string, result calls.Result, color, color2 string) {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return
	}

	if result == calls.ResultUnknown && sess.RetryOnUnknown && sess.RetryAttempt < sess.MaxRetries {
		// Hold the ambiguity back from the subscriber: mark this attempt
		// retry-pending and dial again after the delay. A duplicate webhook
		// losing the Resolve race schedules nothing.
		if prev, won := s.store.Resolve(sessionID, calls.ResultRetryPending, "", ""); won {
			s.releaseSlot()
			s.scheduleRetry(prev)
		}
		return
	}

	resolved, won := s.store.Resolve(sessionID, result, color, color2)
	if !won {
		return
	}
	s.releaseSlot()
	// The webhook must be answered within the provider's response budget, so
	// persistence and fan-out continue off the request goroutine. The
	// resolved copy is immutable from here on, and finalize still writes
	// history before it enqueues anything.
	go func() {
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.finalize(fctx, resolved)
	}()
}

// finalize persists the resolved session and dispatches notifications, in
// that order: the history write happens before any fan-out reads it.
func (s *Service) finalize(ctx context.Context, sess session.Session) {
	rec := calls.Record{
		SessionID:      sess.Origin(),
		SubscriberID:   sess.SubscriberID,
		OfficeID:       sess.OfficeID,
		TargetNumber:   sess.TargetNumber,
		ProviderCallID: sess.ProviderCallID,
		Result:         sess.Result,
		Color:          sess.Color,
		Transcript:     strings.Join(sess.Transcripts, "\n"),
		RetryAttempt:   sess.RetryAttempt,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.history.Insert(ctx, rec); err != nil {
		s.log.Error("history insert failed", "session_id", sess.ID, "err", err)
	}

	if sess.OfficeID != "" && sess.SubscriberID == "" {
		s.finalizeOffice(ctx, sess)
		return
	}

	s.log.Info("call resolved",
		"session_id", sess.ID, "subscriber_id", sess.SubscriberID,
		"result", sess.Result, "retry_attempt", sess.RetryAttempt)
	s.enqueue(notify.Task{
		SubscriberID: sess.SubscriberID,
		SessionID:    sess.Origin(),
		Channel:      sess.NotifyChannel,
		Target:       sess.NotifyTarget,
		Email:        sess.NotifyEmail,
		Message:      notify.RenderResult(sess.Result),
	})
}

// finalizeOffice stores the office's daily status and fans it out to every
// subscriber of that office, spacing deliveries so the messaging provider is
// not hit with the whole roster at once.
func (s *Service) finalizeOffice(ctx context.Context, sess session.Session) {
	o, err := s.offices.Get(ctx, sess.OfficeID)
	if err != nil {
		s.log.Error("resolved session for unknown office", "session_id", sess.ID, "office_id", sess.OfficeID, "err", err)
		return
	}

	if sess.Result != calls.ResultColorDetected {
		s.log.Warn("office poll resolved without a color",
			"session_id", sess.ID, "office_id", sess.OfficeID, "result", sess.Result)
		if s.audit != nil {
			if err := s.audit.LogCallFailure(ctx, "", sess.ID, sess.OfficeID, "no color extracted"); err != nil {
				s.log.Error("audit append failed", "err", err)
			}
		}
		return
	}

	day := office.DayKey(sess.CreatedAt, s.officeLocation(o))
	st := office.DailyStatus{
		OfficeID:   sess.OfficeID,
		Day:        day,
		Color:      sess.Color,
		Color2:     sess.Color2,
		Transcript: strings.Join(sess.Transcripts, "\n"),
		UpdatedAt:  s.clock().UTC(),
	}
	if err := s.offices.UpsertDailyStatus(ctx, st); err != nil {
		s.log.Error("daily status upsert failed", "session_id", sess.ID, "office_id", sess.OfficeID, "err", err)
	}
	s.log.Info("office status resolved",
		"office_id", sess.OfficeID, "day", day, "color", sess.Color, "color2", sess.Color2)

	if s.roster == nil {
		return
	}
	recipients, err := s.roster.ListOfficeRecipients(ctx, sess.OfficeID)
	if err != nil {
		s.log.Error("office roster lookup failed", "office_id", sess.OfficeID, "err", err)
		return
	}
	msg := notify.RenderColor(o.Name, sess.Color, sess.Color2)
	now := s.clock()
	for i, r := range recipients {
		// Deliveries line up with each subscriber's own expected-result time
		// (never before it), then pacing spreads the roster so the messaging
		// provider is not hit all at once.
		notBefore := now
		if exp := r.ExpectedAt(now); exp.After(notBefore) {
			notBefore = exp
		}
		s.enqueue(notify.Task{
			SubscriberID: r.SubscriberID,
			SessionID:    sess.Origin(),
			Channel:      r.Channel,
			Target:       r.Target,
			Email:        r.Email,
			Message:      msg,
			NotBefore:    notBefore.Add(time.Duration(i) * s.cfg.FanoutSpacing),
		})
	}
}

// scheduleRetry arms a cancellable timer that dials the hotline again with a
// fresh session carrying the incremented attempt count. No credit is charged:
// the subscriber paid for the check-in, not for each attempt.
func (s *Service) scheduleRetry(prev session.Session) {
	next := prev
	next.ID = s.newID()
	next.OriginID = prev.Origin()
	next.RetryAttempt = prev.RetryAttempt + 1
	next.Transcripts = nil
	next.Result = ""
	next.Color = ""
	next.Color2 = ""
	next.ProviderCallID = ""
	next.CallStatus = ""
	next.Abandoned = false
	next.CreatedAt = time.Time{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.log.Info("retry scheduled",
		"prev_session_id", prev.ID, "session_id", next.ID,
		"retry_attempt", next.RetryAttempt, "delay", s.cfg.RetryDelay)
	s.retries[next.ID] = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		delete(s.retries, next.ID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.dial(ctx, next); err != nil {
			s.log.Error("retry dial failed", "session_id", next.ID, "err", err)
		}
	})
}

// HandleExpiry finishes a session the sweep removed before any webhook
// resolved it. The subscriber still gets a terminal notification; a call
// that vanishes without one is the failure mode this system exists to
// prevent.
func (s *Service) HandleExpiry(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.releaseSlot()

	sess.Result = calls.ResultUnknown
	rec := calls.Record{
		SessionID:      sess.Origin(),
		SubscriberID:   sess.SubscriberID,
		OfficeID:       sess.OfficeID,
		TargetNumber:   sess.TargetNumber,
		ProviderCallID: sess.ProviderCallID,
		Result:         calls.ResultUnknown,
		Transcript:     strings.Join(sess.Transcripts, "\n"),
		RetryAttempt:   sess.RetryAttempt,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.history.Insert(ctx, rec); err != nil {
		s.log.Error("history insert failed", "session_id", sess.ID, "err", err)
	}

	reason := "session expired unresolved"
	if sess.Abandoned {
		reason = "call never connected (" + string(sess.CallStatus) + ")"
	}
	s.log.Warn("session expired unresolved",
		"session_id", sess.ID, "subscriber_id", sess.SubscriberID,
		"office_id", sess.OfficeID, "abandoned", sess.Abandoned)
	if s.audit != nil {
		if err := s.audit.LogCallFailure(ctx, sess.SubscriberID, sess.ID, sess.OfficeID, reason); err != nil {
			s.log.Error("audit append failed", "err", err)
		}
	}

	if sess.SubscriberID == "" {
		return
	}
	msg := notify.RenderResult(calls.ResultUnknown)
	if sess.Abandoned {
		msg = notify.RenderCallFailed()
	}
	s.enqueue(notify.Task{
		SubscriberID: sess.SubscriberID,
		SessionID:    sess.Origin(),
		Channel:      sess.NotifyChannel,
		Target:       sess.NotifyTarget,
		Email:        sess.NotifyEmail,
		Message:      msg,
	})
}
