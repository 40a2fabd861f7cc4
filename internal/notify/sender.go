package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"time"

	"checkline/internal/calls"
	"checkline/internal/telephony"

	"github.com/cenkalti/backoff/v4"
	"github.com/jordan-wright/email"
)

// Task is one pending delivery.
type Task struct {
	SubscriberID string
	SessionID    string

	Channel calls.NotifyChannel
	// Target is the phone number for sms/voice channels.
	Target string
	// Email is the address for the email channel.
	Email string

	Message Message

	// NotBefore delays the delivery (office fan-out pacing). Zero means now.
	NotBefore time.Time
}

// Sender dispatches a task over one concrete channel.
type Sender interface {
	Channel() calls.NotifyChannel
	Send(ctx context.Context, t Task) error
}

// --- SMS ---

// SMSSender delivers over the telephony provider's messaging API.
type SMSSender struct {
	Provider telephony.Provider
	From     string
}

func (s *SMSSender) Channel() calls.NotifyChannel { return calls.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, t Task) error {
	if t.Target == "" {
		return errors.New("notify: sms target is empty")
	}
	_, err := s.Provider.SendSMS(ctx, telephony.SMSRequest{
		To:   t.Target,
		From: s.From,
		Body: t.Message.Body,
	})
	return err
}

// --- Voice ---

// VoiceSender places an announcement call that speaks the message.
type VoiceSender struct {
	Provider telephony.Provider
	From     string
}

func (s *VoiceSender) Channel() calls.NotifyChannel { return calls.ChannelVoice }

func (s *VoiceSender) Send(ctx context.Context, t Task) error {
	if t.Target == "" {
		return errors.New("notify: voice target is empty")
	}
	r := &telephony.Response{}
	r.Say(t.Message.Body).Pause(1).Say(t.Message.Body).Hangup()
	doc, err := r.Render()
	if err != nil {
		return err
	}
	_, err = s.Provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:    t.Target,
		From:  s.From,
		TwiML: doc,
	})
	return err
}

// --- Email ---

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers over SMTP with retry; transient relay errors are
// common enough that one attempt is not acceptable for a terminal notice.
type EmailSender struct {
	cfg        SMTPConfig
	send       func(e *email.Email) error
	newBackoff func() backoff.BackOff
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	s := &EmailSender{cfg: cfg}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return e.Send(addr, auth)
	}
	s.newBackoff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxElapsedTime = 30 * time.Second
		return bo
	}
	return s
}

func (s *EmailSender) Channel() calls.NotifyChannel { return calls.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, t Task) error {
	if t.Email == "" {
		return errors.New("notify: email address is empty")
	}
	e := &email.Email{
		From:    s.cfg.From,
		To:      []string{t.Email},
		Subject: t.Message.Subject,
		Text:    []byte(t.Message.Body),
		Headers: textproto.MIMEHeader{},
	}
	op := func() error { return s.send(e) }
	return backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx))
}
