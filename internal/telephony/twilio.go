package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TwilioProvider talks to the Twilio REST API directly with form-encoded
// requests; no SDK. Transient failures (network, 429, 5xx) are retried with
// exponential backoff, anything else is permanent.

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// BaseURL overrides the API endpoint. Test hook.
	BaseURL string
}

type TwilioProvider struct {
	cfg        TwilioConfig
	baseURL    string
	httpClient *http.Client
	newBackoff func() backoff.BackOff
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = twilioAPIBase
	}
	return &TwilioProvider{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 20 * time.Second
			return bo
		},
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// Account fetch is the cheapest authenticated call.
	_, err := p.do(ctx, http.MethodGet, fmt.Sprintf("/Accounts/%s.json", p.cfg.AccountSID), nil)
	return err
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, errors.New("telephony: to and from are required")
	}
	if req.AnswerURL == "" && req.TwiML == "" {
		return PlaceCallResult{}, errors.New("telephony: answer_url or twiml is required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if req.TwiML != "" {
		form.Set("Twiml", req.TwiML)
	} else {
		form.Set("Url", req.AnswerURL)
		form.Set("Method", "POST")
	}
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.Record {
		form.Set("Record", "true")
		if req.RecordingCallbackURL != "" {
			form.Set("RecordingStatusCallback", req.RecordingCallbackURL)
		}
	}
	if req.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.Timeout.Seconds())))
	}

	body, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/Accounts/%s/Calls.json", p.cfg.AccountSID), form)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("place call: %w", err)
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return PlaceCallResult{}, fmt.Errorf("place call: decode response: %w", err)
	}
	return PlaceCallResult{ProviderCallID: out.Sid}, nil
}

func (p *TwilioProvider) SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error) {
	if req.To == "" || req.From == "" || req.Body == "" {
		return SMSResult{}, errors.New("telephony: to, from and body are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Body", req.Body)

	body, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/Accounts/%s/Messages.json", p.cfg.AccountSID), form)
	if err != nil {
		return SMSResult{}, fmt.Errorf("send sms: %w", err)
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return SMSResult{}, fmt.Errorf("send sms: decode response: %w", err)
	}
	return SMSResult{ProviderMessageID: out.Sid}, nil
}

func (p *TwilioProvider) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var out []byte
	op := func() error {
		var reqBody io.Reader
		if form != nil {
			reqBody = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("twilio: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("twilio: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		}
		out = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackoff(), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
