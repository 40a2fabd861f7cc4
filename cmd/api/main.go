package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkline/internal/audit"
	"checkline/internal/auth"
	"checkline/internal/callflow"
	"checkline/internal/config"
	"checkline/internal/credits"
	"checkline/internal/history"
	"checkline/internal/notify"
	"checkline/internal/office"
	"checkline/internal/sched"
	"checkline/internal/session"
	"checkline/internal/telephony"
	"checkline/pkg/logger"
	"checkline/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	provider, err := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	historyRepo := history.NewPGRepo(db)
	officeRepo := office.NewPGRepo(db)
	schedRepo := sched.NewPGRepo(db)
	auditSvc := audit.NewService(audit.NewPGRepo(db))
	creditSvc := credits.NewService(db)

	store := session.NewStore(cfg.Call.SessionTTL)
	store.StartSweeper(rootCtx, cfg.Call.SweepInterval)

	senders := []notify.Sender{
		&notify.SMSSender{Provider: provider, From: cfg.Twilio.FromNumber},
		&notify.VoiceSender{Provider: provider, From: cfg.Twilio.FromNumber},
	}
	if cfg.EmailEnabled() {
		senders = append(senders, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	} else {
		log.Warn("smtp not configured, email notifications disabled")
	}
	queue := notify.NewQueue(cfg.Notify.QueueCapacity, cfg.Notify.Workers, auditSvc, log, senders...)
	queue.Start(rootCtx)

	callSvc := callflow.NewService(callflow.Config{
		PublicBaseURL:    cfg.Twilio.PublicBaseURL,
		FromNumber:       cfg.Twilio.FromNumber,
		CallTimeout:      cfg.Call.Timeout,
		GatherTimeout:    int(cfg.Call.GatherTimeout / time.Second),
		SpeechEndTimeout: int(cfg.Call.SpeechEndTimeout / time.Second),
		RetryDelay:       cfg.Call.RetryDelay,
		MaxRetries:       cfg.Call.MaxRetries,
		RecordCalls:      cfg.Call.RecordCalls,
		MaxConcurrent:    cfg.Call.MaxConcurrent,
		FanoutSpacing:    cfg.Call.FanoutSpacing,
	}, callflow.Deps{
		Store:    store,
		Provider: provider,
		Queue:    queue,
		History:  historyRepo,
		Offices:  officeRepo,
		Roster:   schedRepo,
		Credits:  creditSvc,
		Audit:    auditSvc,
		Redis:    rdb,
		Log:      log,
	})

	engine := sched.NewEngine(sched.Config{
		StaggerWindow:     cfg.Schedule.StaggerWindow,
		ReconcileInterval: cfg.Schedule.ReconcileInterval,
		ReconcileGrace:    cfg.Schedule.ReconcileGrace,
		RecoverySpacing:   cfg.Schedule.RecoverySpacing,
		MaxSkips:          cfg.Schedule.MaxSkips,
	}, schedRepo, officeRepo, callSvc, historyRepo, queue, auditSvc, log)
	if err := engine.Start(rootCtx); err != nil {
		log.Error("schedule engine start failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:     cfg,
		auth:    authManager,
		flow:    callSvc,
		engine:  engine,
		store:   store,
		history: historyRepo,
		offices: officeRepo,
		scheds:  schedRepo,
		credits: creditSvc,
		db:      db,
		rdb:     rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Stop feeding the queue before draining it: timers first, then workers.
	engine.Close()
	callSvc.Close()
	queue.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
