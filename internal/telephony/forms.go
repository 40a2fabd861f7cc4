package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"checkline/internal/calls"
)

// Twilio posts webhook payloads as application/x-www-form-urlencoded. Only the
// fields the call flow consumes are captured here; everything else stays at
// the provider boundary.

// SpeechResultForm is the payload of the gather-result webhook.
type SpeechResultForm struct {
	CallSid      string
	SpeechResult string
	Confidence   float64
}

// StatusForm is the payload of the call lifecycle status webhook.
type StatusForm struct {
	CallSid         string
	CallStatus      calls.CallStatus
	DurationSeconds int
}

// RecordingForm is the payload of the recording-ready webhook.
type RecordingForm struct {
	CallSid      string
	RecordingSid string
	RecordingURL string
}

func ParseSpeechResult(r *http.Request) (SpeechResultForm, error) {
	if err := r.ParseForm(); err != nil {
		return SpeechResultForm{}, err
	}
	f := SpeechResultForm{
		CallSid:      r.PostFormValue("CallSid"),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
	}
	if v := r.PostFormValue("Confidence"); v != "" {
		if c, err := strconv.ParseFloat(v, 64); err == nil {
			f.Confidence = c
		}
	}
	return f, nil
}

func ParseStatus(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	f := StatusForm{
		CallSid:    r.PostFormValue("CallSid"),
		CallStatus: mapCallStatus(r.PostFormValue("CallStatus")),
	}
	if v := r.PostFormValue("CallDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.DurationSeconds = n
		}
	}
	return f, nil
}

func ParseRecording(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	return RecordingForm{
		CallSid:      r.PostFormValue("CallSid"),
		RecordingSid: r.PostFormValue("RecordingSid"),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}, nil
}

// mapCallStatus normalizes Twilio's hyphenated status strings.
func mapCallStatus(s string) calls.CallStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.CallStatusQueued
	case "ringing":
		return calls.CallStatusRinging
	case "in-progress", "answered":
		return calls.CallStatusInProgress
	case "completed":
		return calls.CallStatusCompleted
	case "busy":
		return calls.CallStatusBusy
	case "failed":
		return calls.CallStatusFailed
	case "no-answer":
		return calls.CallStatusNoAnswer
	case "canceled":
		return calls.CallStatusCanceled
	default:
		return calls.CallStatus(strings.ToLower(strings.TrimSpace(s)))
	}
}
