package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/telephony"
)

type fakeProvider struct {
	calls []telephony.PlaceCallRequest
	sms   []telephony.SMSRequest
}

func (p *fakeProvider) Name() string                          { return "fake" }
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.calls = append(p.calls, req)
	return telephony.PlaceCallResult{ProviderCallID: "CA123"}, nil
}

func (p *fakeProvider) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	p.sms = append(p.sms, req)
	return telephony.SMSResult{ProviderMessageID: "SM123"}, nil
}

func TestSMSSender(t *testing.T) {
	p := &fakeProvider{}
	s := &SMSSender{Provider: p, From: "+15550009999"}

	err := s.Send(context.Background(), Task{Target: "+15550001111", Message: Message{Body: "hello"}})
	require.NoError(t, err)
	require.Len(t, p.sms, 1)
	assert.Equal(t, "+15550001111", p.sms[0].To)
	assert.Equal(t, "+15550009999", p.sms[0].From)
	assert.Equal(t, "hello", p.sms[0].Body)

	err = s.Send(context.Background(), Task{Message: Message{Body: "hello"}})
	assert.Error(t, err, "empty target must be rejected")
}

func TestVoiceSenderSpeaksMessageTwice(t *testing.T) {
	p := &fakeProvider{}
	s := &VoiceSender{Provider: p, From: "+15550009999"}

	err := s.Send(context.Background(), Task{Target: "+15550001111", Message: Message{Body: "report today"}})
	require.NoError(t, err)
	require.Len(t, p.calls, 1)

	doc := p.calls[0].TwiML
	assert.Contains(t, doc, "report today")
	assert.Contains(t, doc, "<Hangup>")
	// The announcement repeats so a subscriber reaching for the phone still
	// hears the whole message.
	first := len("report today")
	assert.Greater(t, countOccurrences(doc, "report today"), 1, "message should repeat, len=%d", first)
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
			i += len(sub) - 1
		}
	}
	return n
}

func TestEmailSenderRetriesTransientFailure(t *testing.T) {
	var attempts int
	var got *email.Email
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"})
	s.send = func(e *email.Email) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient relay error")
		}
		got = e
		return nil
	}
	s.newBackoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	err := s.Send(context.Background(), Task{
		Email:   "sub@example.com",
		Message: Message{Subject: "subj", Body: "body"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.NotNil(t, got)
	assert.Equal(t, []string{"sub@example.com"}, got.To)
	assert.Equal(t, "subj", got.Subject)
	assert.Equal(t, "body", string(got.Text))
}

func TestEmailSenderRejectsEmptyAddress(t *testing.T) {
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: 587})
	s.send = func(e *email.Email) error { t.Fatal("send must not be called"); return nil }
	err := s.Send(context.Background(), Task{Message: Message{Body: "x"}})
	assert.Error(t, err)
}
