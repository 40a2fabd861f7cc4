// Package httpapi exposes the subscriber-facing REST surface.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"checkline/internal/auth"
	"checkline/internal/callflow"
	"checkline/internal/calls"
	"checkline/internal/credits"
	"checkline/internal/history"
	"checkline/internal/office"
	"checkline/internal/sched"
	"checkline/internal/session"
)

// validate is the shared request validator. Phone numbers are checked as
// E.164; anything looser gets rejected before a call is placed.
var validate = validator.New()

// CallStarter initiates calls; satisfied by the callflow service.
type CallStarter interface {
	StartCall(ctx context.Context, req callflow.StartRequest) (string, error)
	StartOfficePoll(ctx context.Context, o office.Office) (string, error)
}

// ScheduleManager persists schedules and keeps their timers in sync;
// satisfied by the sched engine.
type ScheduleManager interface {
	Upsert(ctx context.Context, s sched.Schedule) error
	Remove(ctx context.Context, id string) error
}

// CreditOps is the credit surface the API needs.
type CreditOps interface {
	Balance(ctx context.Context, subscriberID string) (credits.Balance, error)
	Grant(ctx context.Context, subscriberID string, amount int64, reason, idempotencyKey string) (credits.Entry, credits.Balance, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Starter   CallStarter
	Schedules sched.Repository
	Manager   ScheduleManager
	History   history.Repository
	Credits   CreditOps
	Offices   office.Repository
	Sessions  *session.Store
}

// --- Auth ---

type loginRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
	Role         string `json:"role" validate:"omitempty,oneof=subscriber admin"`
}

// Login issues a JWT access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.SubscriberID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Calls ---

type startCallRequest struct {
	TargetNumber   string `json:"target_number" validate:"required,e164"`
	Code           string `json:"code" validate:"omitempty,len=6,numeric"`
	NotifyTarget   string `json:"notify_target" validate:"omitempty,e164"`
	NotifyEmail    string `json:"notify_email" validate:"omitempty,email"`
	NotifyChannel  string `json:"notify_channel" validate:"required,oneof=sms email voice both"`
	RetryOnUnknown bool   `json:"retry_on_unknown"`
}

// StartCall places an immediate check-in call for the authenticated
// subscriber.
func (h Handlers) StartCall(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	var req startCallRequest
	if !bindAndValidate(c, &req) {
		return
	}

	id, err := h.Starter.StartCall(c.Request.Context(), callflow.StartRequest{
		SubscriberID:   subscriberID,
		TargetNumber:   req.TargetNumber,
		Code:           req.Code,
		NotifyTarget:   req.NotifyTarget,
		NotifyEmail:    req.NotifyEmail,
		NotifyChannel:  calls.NotifyChannel(req.NotifyChannel),
		RetryOnUnknown: req.RetryOnUnknown,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"session_id": id})
	case errors.Is(err, callflow.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, callflow.ErrNoCredits):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "call credits exhausted"})
	case errors.Is(err, callflow.ErrBusy):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many calls in flight, retry shortly"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call initiation failed"})
	}
}

// GetCall polls a call's outcome: the live session while the call is in
// flight, the history record once resolved.
func (h Handlers) GetCall(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	id := c.Param("id")

	resp := gin.H{"session_id": id}
	if sess, ok := h.Sessions.Get(id); ok {
		if sess.SubscriberID != subscriberID {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		result := sess.Result
		if result == calls.ResultRetryPending {
			// The retry marker is internal; to the subscriber the call is
			// still in flight until the retry resolves under this same id.
			result = ""
		}
		resp["result"] = result
		resp["call_status"] = sess.CallStatus
		resp["transcripts"] = sess.Transcripts
		resp["retry_attempt"] = sess.RetryAttempt
	}

	rec, err := h.History.GetBySession(c.Request.Context(), id)
	switch {
	case err == nil:
		if rec.SubscriberID != subscriberID {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		resp["record"] = rec
	case errors.Is(err, history.ErrNotFound):
		if _, ok := resp["result"]; !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListHistory returns the subscriber's recent call records.
func (h Handlers) ListHistory(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	recs, err := h.History.ListBySubscriber(c.Request.Context(), subscriberID, 30)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if recs == nil {
		recs = []calls.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// --- Schedules ---

type scheduleRequest struct {
	ID             string `json:"id" validate:"omitempty,uuid4"`
	OfficeID       string `json:"office_id"`
	TargetNumber   string `json:"target_number" validate:"required,e164"`
	Code           string `json:"code" validate:"omitempty,len=6,numeric"`
	NotifyTarget   string `json:"notify_target" validate:"omitempty,e164"`
	NotifyEmail    string `json:"notify_email" validate:"omitempty,email"`
	NotifyChannel  string `json:"notify_channel" validate:"required,oneof=sms email voice both"`
	Hour           int    `json:"hour" validate:"min=0,max=23"`
	Minute         int    `json:"minute" validate:"min=0,max=59"`
	Timezone       string `json:"timezone" validate:"required"`
	RetryOnUnknown bool   `json:"retry_on_unknown"`
	Enabled        *bool  `json:"enabled"`
}

// UpsertSchedule creates or replaces the subscriber's recurring check-in.
func (h Handlers) UpsertSchedule(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	var req scheduleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else {
		// Replacing an existing schedule is allowed only for its owner.
		existing, err := h.Schedules.Get(c.Request.Context(), id)
		switch {
		case err == nil && existing.SubscriberID != subscriberID:
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		case err != nil && !errors.Is(err, sched.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule lookup failed"})
			return
		}
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	s := sched.Schedule{
		ID:             id,
		SubscriberID:   subscriberID,
		OfficeID:       req.OfficeID,
		TargetNumber:   req.TargetNumber,
		Code:           req.Code,
		NotifyTarget:   req.NotifyTarget,
		NotifyEmail:    req.NotifyEmail,
		NotifyChannel:  calls.NotifyChannel(req.NotifyChannel),
		Hour:           req.Hour,
		Minute:         req.Minute,
		Timezone:       req.Timezone,
		RetryOnUnknown: req.RetryOnUnknown,
		Enabled:        enabled,
	}
	if err := h.Manager.Upsert(c.Request.Context(), s); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// DeleteSchedule unsubscribes a recurring check-in and cancels its trigger.
func (h Handlers) DeleteSchedule(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	id := c.Param("id")

	existing, err := h.Schedules.Get(c.Request.Context(), id)
	if errors.Is(err, sched.ErrNotFound) || (err == nil && existing.SubscriberID != subscriberID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule lookup failed"})
		return
	}

	if err := h.Manager.Remove(c.Request.Context(), id); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSchedules returns the subscriber's schedules.
func (h Handlers) ListSchedules(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	out, err := h.Schedules.ListBySubscriber(c.Request.Context(), subscriberID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule lookup failed"})
		return
	}
	if out == nil {
		out = []sched.Schedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

// --- Credits ---

func (h Handlers) GetBalance(c *gin.Context) {
	subscriberID, err := auth.SubscriberID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "subscriber_id required"})
		return
	}
	bal, err := h.Credits.Balance(c.Request.Context(), subscriberID)
	if err != nil && !errors.Is(err, credits.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	bal.SubscriberID = subscriberID
	c.JSON(http.StatusOK, bal)
}

type grantCreditsRequest struct {
	SubscriberID   string `json:"subscriber_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Reason         string `json:"reason" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// AdminGrantCredits tops up a subscriber. Admin only.
func (h Handlers) AdminGrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if !bindAndValidate(c, &req) {
		return
	}
	_, bal, err := h.Credits.Grant(c.Request.Context(), req.SubscriberID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Offices ---

// GetOfficeStatus returns the office's detected color for a day (today when
// the day query parameter is omitted).
func (h Handlers) GetOfficeStatus(c *gin.Context) {
	id := c.Param("id")
	o, err := h.Offices.Get(c.Request.Context(), id)
	if errors.Is(err, office.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "office not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "office lookup failed"})
		return
	}

	day := c.Query("day")
	if day == "" {
		loc, lerr := time.LoadLocation(o.Timezone)
		if lerr != nil {
			loc = time.UTC
		}
		day = office.DayKey(time.Now(), loc)
	} else if _, perr := time.Parse("2006-01-02", day); perr != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}

	st, err := h.Offices.GetDailyStatus(c.Request.Context(), id, day)
	if errors.Is(err, office.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no status recorded for that day"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// AdminPollOffice triggers an office poll outside the daily timer. Admin
// only; the once-per-day guard still applies.
func (h Handlers) AdminPollOffice(c *gin.Context) {
	id := c.Param("id")
	o, err := h.Offices.Get(c.Request.Context(), id)
	if errors.Is(err, office.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "office not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "office lookup failed"})
		return
	}

	sessionID, err := h.Starter.StartOfficePoll(c.Request.Context(), o)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
	case errors.Is(err, callflow.ErrAlreadyPolled):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "office already polled today"})
	case errors.Is(err, callflow.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "office poll failed"})
	}
}

func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
