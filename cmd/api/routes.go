package main

import (
	"database/sql"
	"time"

	"checkline/internal/auth"
	"checkline/internal/callflow"
	"checkline/internal/config"
	"checkline/internal/credits"
	"checkline/internal/history"
	"checkline/internal/httpapi"
	"checkline/internal/office"
	"checkline/internal/sched"
	"checkline/internal/session"
	"checkline/internal/telephony"
	"checkline/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg     config.Config
	auth    *auth.Manager
	flow    *callflow.Service
	engine  *sched.Engine
	store   *session.Store
	history history.Repository
	offices office.Repository
	scheds  sched.Repository
	credits *credits.Service
	db      *sql.DB
	rdb     *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := d.rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). The session id travels in the callback URL,
	// so a webhook for an unknown or expired session is answered with a
	// hangup document rather than an error.
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	{
		wh := telephony.WebhookHandler{Flow: d.flow}
		tw := r.Group("/telephony")
		tw.POST("/answer", wh.HandleAnswer)
		tw.POST("/result", wh.HandleResult)
		tw.POST("/fallback", wh.HandleFallback)
		tw.POST("/status", wh.HandleStatus)
		tw.POST("/recording", wh.HandleRecording)
	}

	h := httpapi.Handlers{
		Auth:      d.auth,
		Starter:   d.flow,
		Schedules: d.scheds,
		Manager:   d.engine,
		History:   d.history,
		Credits:   d.credits,
		Offices:   d.offices,
		Sessions:  d.store,
	}

	r.POST("/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.POST("/call", h.StartCall)
		v1.GET("/call/:id", h.GetCall)
		v1.GET("/history", h.ListHistory)

		v1.POST("/schedule", h.UpsertSchedule)
		v1.GET("/schedules", h.ListSchedules)
		v1.DELETE("/schedule/:id", h.DeleteSchedule)

		v1.GET("/credits", h.GetBalance)

		v1.GET("/office/:id/status", h.GetOfficeStatus)

		admin := v1.Group("/admin")
		admin.Use(auth.RequireAdmin())
		{
			admin.POST("/credits", h.AdminGrantCredits)
			admin.POST("/office/:id/poll", h.AdminPollOffice)
		}
	}
}
