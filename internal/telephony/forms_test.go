package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"checkline/internal/calls"
)

func formRequest(t *testing.T, target, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseSpeechResult(t *testing.T) {
	r := formRequest(t, "/telephony/result?session=s1",
		"CallSid=CA123&SpeechResult=you+must+report+today&Confidence=0.82")

	f, err := ParseSpeechResult(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.CallSid != "CA123" {
		t.Fatalf("expected CallSid, got %q", f.CallSid)
	}
	if f.SpeechResult != "you must report today" {
		t.Fatalf("unexpected transcript: %q", f.SpeechResult)
	}
	if f.Confidence != 0.82 {
		t.Fatalf("unexpected confidence: %v", f.Confidence)
	}
}

func TestParseSpeechResultEmpty(t *testing.T) {
	r := formRequest(t, "/telephony/result?session=s1", "CallSid=CA123&SpeechResult=&Confidence=bad")
	f, err := ParseSpeechResult(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.SpeechResult != "" || f.Confidence != 0 {
		t.Fatalf("expected zero values, got %+v", f)
	}
}

func TestParseStatusMapsTwilioStatuses(t *testing.T) {
	cases := map[string]calls.CallStatus{
		"in-progress": calls.CallStatusInProgress,
		"no-answer":   calls.CallStatusNoAnswer,
		"completed":   calls.CallStatusCompleted,
		"busy":        calls.CallStatusBusy,
		"initiated":   calls.CallStatusQueued,
	}
	for raw, want := range cases {
		r := formRequest(t, "/telephony/status?session=s1", "CallSid=CA1&CallStatus="+raw+"&CallDuration=42")
		f, err := ParseStatus(r)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.CallStatus != want {
			t.Fatalf("status %q: expected %q, got %q", raw, want, f.CallStatus)
		}
		if f.DurationSeconds != 42 {
			t.Fatalf("expected duration 42, got %d", f.DurationSeconds)
		}
	}
}

func TestParseRecording(t *testing.T) {
	r := formRequest(t, "/telephony/recording?session=s1",
		"CallSid=CA1&RecordingSid=RE9&RecordingUrl=https%3A%2F%2Fapi.twilio.example%2Frec%2FRE9")
	f, err := ParseRecording(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.RecordingSid != "RE9" {
		t.Fatalf("expected RecordingSid, got %q", f.RecordingSid)
	}
	if f.RecordingURL != "https://api.twilio.example/rec/RE9" {
		t.Fatalf("unexpected url: %q", f.RecordingURL)
	}
}
