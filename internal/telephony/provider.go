package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic telephony interface used by the call
// orchestration logic.
//
// Rules:
// - No provider REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; the provider's raw payload
//   stays at the adapter boundary.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall dials an outbound call. The provider later invokes the
	// answer webhook once the call connects, the status webhook zero or
	// more times with lifecycle events, and the recording webhook when a
	// recording becomes available.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// SendSMS dispatches a text message. Used by the notification layer.
	SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error)
}

type PlaceCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`

	// AnswerURL is invoked when the callee picks up; its response must be
	// a valid call-control document. Mutually exclusive with TwiML.
	AnswerURL string `json:"answer_url,omitempty"`

	// TwiML, when set, is executed directly on answer instead of fetching
	// AnswerURL. Used for simple announcement calls.
	TwiML string `json:"twiml,omitempty"`

	StatusCallbackURL    string `json:"status_callback_url,omitempty"`
	RecordingCallbackURL string `json:"recording_callback_url,omitempty"`

	// Record asks the provider to record the call audio.
	Record bool `json:"record,omitempty"`

	// Timeout bounds how long the provider lets the call ring.
	Timeout time.Duration `json:"timeout,omitempty"`
}

type PlaceCallResult struct {
	// ProviderCallID is the provider's unique identifier for the call.
	ProviderCallID string `json:"provider_call_id"`
}

type SMSRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

type SMSResult struct {
	ProviderMessageID string `json:"provider_message_id"`
}
