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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/cache"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/internal/httpapi"
	"crm-telephony/internal/leads"
	"crm-telephony/internal/recordings"
	"crm-telephony/internal/smartflo"
	"crm-telephony/internal/users"
	"crm-telephony/internal/webhook"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"
	"crm-telephony/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
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

	store := cache.New(cache.Options{
		DefaultTTL: cfg.Cache.DefaultTTL,
		MaxKeys:    cfg.Cache.MaxKeys,
	})
	defer store.Close()

	m := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	callRepo := calls.NewSQLRepository(db)
	leadRepo := leads.NewSQLRepository(db)
	userRepo := users.NewSQLRepository(db)

	provider := smartflo.NewClient(cfg.Smartflo)

	fetcher := recordings.NewFetcher(provider, callRepo, log, m, recordings.Options{
		InitialDelay: cfg.Calls.RecordingFetchDelay,
	})
	fetcher.Start()
	defer fetcher.Stop()

	reconciler := calls.NewReconciler(callRepo, leadRepo, calls.NewMatcher(leadRepo, userRepo), store, fetcher, calls.ReconcilerConfig{
		ShortConversationSeconds: cfg.Calls.ShortConversationSeconds,
		CallbackDelay:            cfg.Calls.CallbackDelay,
	})

	auditSvc := audit.NewService(audit.NewSQLRepository(db))

	webhookHandler := webhook.NewHandler(webhook.NewResolver(), reconciler, auditSvc, m, rdb, cfg.Webhook)

	apiHandlers := httpapi.Handlers{
		Calls:      callRepo,
		Users:      userRepo,
		Reconciler: reconciler,
		Smartflo:   provider,
		Cache:      store,
		CacheCfg:   cfg.Cache,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, rdb, webhookHandler, apiHandlers, auth.RequireAccessToken(authManager))

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
