package calls

import "time"

// Result is the closed outcome vocabulary for a check-in call.
//
// Unknown is the safe default: a transcript that matches neither keyword set
// must surface to the subscriber as ambiguous, never be silently downgraded
// to "no action needed".
type Result string

const (
	ResultMustReport     Result = "must_report"
	ResultNoActionNeeded Result = "no_action_needed"
	ResultUnknown        Result = "unknown"

	// ResultColorDetected marks a status-line call whose announced color was
	// extracted; the token itself lives in Record.Color.
	ResultColorDetected Result = "color_detected"

	// ResultRetryPending is transient only; it never appears in a persisted
	// history record.
	ResultRetryPending Result = "retry_pending"
)

// Terminal reports whether r may be persisted as a final call outcome.
func (r Result) Terminal() bool {
	return r == ResultMustReport || r == ResultNoActionNeeded || r == ResultUnknown || r == ResultColorDetected
}

// CallStatus mirrors provider-reported call lifecycle states.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// TerminalFailure reports whether s means the call will never produce speech.
func (s CallStatus) TerminalFailure() bool {
	return s == CallStatusFailed || s == CallStatusNoAnswer || s == CallStatusBusy || s == CallStatusCanceled
}

// Record is one completed (or abandoned) call attempt as persisted to
// call_history.
//
// Provider-specific identifiers (the Twilio CallSid) live in ProviderCallID,
// not mixed into the session id.
type Record struct {
	SessionID    string `json:"session_id" db:"session_id"`
	SubscriberID string `json:"subscriber_id,omitempty" db:"subscriber_id"`
	OfficeID     string `json:"office_id,omitempty" db:"office_id"`

	TargetNumber   string `json:"target_number" db:"target_number"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Result Result `json:"result" db:"result"`
	// Color carries the open-vocabulary status token for color-line calls.
	Color string `json:"color,omitempty" db:"color"`

	// Transcript is the full ordered utterance log, newline-joined.
	Transcript string `json:"transcript,omitempty" db:"transcript"`

	RetryAttempt int `json:"retry_attempt" db:"retry_attempt"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NotifyChannel selects how a resolved outcome reaches the subscriber.
type NotifyChannel string

const (
	ChannelSMS   NotifyChannel = "sms"
	ChannelEmail NotifyChannel = "email"
	ChannelVoice NotifyChannel = "voice"
	ChannelBoth  NotifyChannel = "both" // sms + email
)

func (c NotifyChannel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice, ChannelBoth:
		return true
	}
	return false
}
