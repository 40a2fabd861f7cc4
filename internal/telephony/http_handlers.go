package telephony

import (
	"context"
	"net/http"

	"checkline/internal/calls"
	"checkline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Flow is the call-orchestration contract the webhook handlers delegate to.
// Implementations must be fast: a webhook has to be answered within the
// provider's response budget, so anything slow is deferred internally.
type Flow interface {
	// Answer returns the TwiML document to run when the hotline picks up.
	Answer(ctx context.Context, sessionID string) string
	// SpeechResult delivers a captured transcript.
	SpeechResult(ctx context.Context, sessionID, transcript string, confidence float64)
	// Fallback fires when the speech-capture window elapsed with nothing heard.
	Fallback(ctx context.Context, sessionID string)
	// CallStatus delivers a provider lifecycle event.
	CallStatus(ctx context.Context, sessionID, providerCallID string, status calls.CallStatus)
	// Recording attaches a recording reference after the fact.
	Recording(ctx context.Context, sessionID, recordingURL string)
}

// WebhookHandler converts provider webhooks to Flow calls.
//
// Every handler answers 200: the provider must never retry a webhook because
// of our internal state, and a mid-call 5xx would leave the call undefined.
// Session id travels in the "session" query parameter of the callback URLs we
// hand to the provider at dial time.

type WebhookHandler struct {
	Flow Flow
}

const sessionParam = "session"

func (h WebhookHandler) HandleAnswer(c *gin.Context) {
	log := logger.FromGin(c)
	id := c.Query(sessionParam)

	if h.Flow == nil {
		log.Error("call flow not configured")
		respondTwiML(c, HangupResponse("We are unable to process your call. Goodbye."))
		return
	}
	respondTwiML(c, h.Flow.Answer(c.Request.Context(), id))
}

func (h WebhookHandler) HandleResult(c *gin.Context) {
	log := logger.FromGin(c)
	id := c.Query(sessionParam)

	form, err := ParseSpeechResult(c.Request)
	if err != nil {
		log.Warn("speech result parse failed", "session_id", id, "err", err)
	}
	if h.Flow != nil {
		h.Flow.SpeechResult(c.Request.Context(), id, form.SpeechResult, form.Confidence)
	}
	respondTwiML(c, HangupResponse("Thank you. Goodbye."))
}

func (h WebhookHandler) HandleFallback(c *gin.Context) {
	id := c.Query(sessionParam)
	if h.Flow != nil {
		h.Flow.Fallback(c.Request.Context(), id)
	}
	respondTwiML(c, HangupResponse("Goodbye."))
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	id := c.Query(sessionParam)

	form, err := ParseStatus(c.Request)
	if err != nil {
		log.Warn("status webhook parse failed", "session_id", id, "err", err)
		c.Status(http.StatusOK)
		return
	}
	if h.Flow != nil {
		h.Flow.CallStatus(c.Request.Context(), id, form.CallSid, form.CallStatus)
	}
	c.Status(http.StatusOK)
}

func (h WebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)
	id := c.Query(sessionParam)

	form, err := ParseRecording(c.Request)
	if err != nil {
		log.Warn("recording webhook parse failed", "session_id", id, "err", err)
		c.Status(http.StatusOK)
		return
	}
	if h.Flow != nil && form.RecordingURL != "" {
		h.Flow.Recording(c.Request.Context(), id, form.RecordingURL)
	}
	c.Status(http.StatusOK)
}

func respondTwiML(c *gin.Context, doc string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}
