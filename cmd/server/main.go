// Package main runs the collab-card admin dashboard with live tables and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/collabcards/dashboard/config"
	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/dashboard"
	"github.com/collabcards/dashboard/internal/middleware"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/internal/table"
	"github.com/collabcards/dashboard/pkg/redis"
	"github.com/collabcards/dashboard/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Without redis the dashboard runs as a single instance and sessions
	// live in memory.
	var (
		kv  session.KV
		bus realtime.Bus
	)
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Warn("redis disabled, sessions are kept in memory", zap.Error(err))
	} else {
		defer rdb.Close()
		kv = rdb.Client
		bus = realtime.NewRedisBus(rdb.Client, logger)
	}
	hub := realtime.NewHub(logger, bus)
	if err := hub.Run(ctx); err != nil {
		logger.Fatal("subscribe invalidations", zap.Error(err))
	}

	var assets screens.CardAssets = screens.StaticAssets{Base: cfg.API.StaticBaseURL}
	if cfg.AWS.CardsBucket != "" {
		images, err := storage.NewCardImages(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			CardsBucket:          cfg.AWS.CardsBucket,
			Public:               cfg.AWS.CardsPublic,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, serving card images from the static base", zap.Error(err))
		} else {
			assets = images
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewHTTPMetrics(registry)

	server := dashboard.NewServer(dashboard.Options{
		APIBaseURL:   cfg.API.BaseURL,
		APITimeout:   cfg.API.APITimeout(),
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		SessionTTL:   cfg.Session.TTL(),
		IdleTTL:      cfg.Session.IdleTTL(),
		PollInterval: cfg.Tables.PollInterval(),
		StaleAfter:   cfg.Tables.StaleAfter(),
		KV:           kv,
		Assets:       assets,
		Origins:      config.SplitOrigins(cfg.Server.CORSAllowedOrigins),
		LoginLimiter: middleware.NewIPRateLimiter(cfg.Login.RatePerMinute, cfg.Login.Burst),
		APIMetrics:   apiclient.NewMetrics(registry),
		TableMetrics: table.NewMetrics(registry),
		Logger:       logger,
	}, hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(config.SplitOrigins(cfg.Server.CORSAllowedOrigins)))
	router.Use(middleware.Logger(logger))
	router.Use(httpMetrics.Instrument())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	server.Routes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Idle workspace eviction
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		server.Registry().Run(ctx)
	}()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("api", cfg.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	stop()
	<-sweepDone
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
