package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/inboxsync/internal/app"
	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/health"
	"tempmail/inboxsync/internal/logger"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/pool"
	httptransport "tempmail/inboxsync/internal/transport/http"
	"tempmail/inboxsync/internal/viewer"
	"tempmail/inboxsync/internal/websocket"
)

const version = "0.1.0"

// main 启动收件箱同步服务：REST 接口、WebSocket 推送与后台任务。
//
// @title Inbox Sync API
// @version 0.1.0
// @description 临时邮箱收件箱同步服务：查看者、收件箱快照与正文加载
// @BasePath /
// @securityDefinitions.apikey ViewerToken
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if err := cfg.RequireTokenSecret(); err != nil {
		panic(fmt.Sprintf("invalid viewer token secret: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting inboxsync server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	backend, err := app.NewBackend(cfg.Provider, log)
	if err != nil {
		log.Fatal("failed to initialize provider", zap.Error(err))
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 后台动作协程池
	workers := pool.NewWorkerPool(cfg.Viewer.Workers, cfg.Viewer.QueueSize, log)
	workers.Start(groupCtx)

	viewers := viewer.NewRegistry(
		app.EngineFactory(backend.Provider, cfg.Inbox, workers, metrics, log),
		cfg.Viewer,
		viewer.WithContext(groupCtx),
		viewer.WithMetrics(metrics),
		viewer.WithLogger(log),
	)

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(backend.Pinger, health.Options{
		Degraded: func() (int, int) { return viewers.Degraded(), viewers.Len() },
	}, log)

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.DegradedPollingRule(viewers.Degraded, 1))
	alertManager.AddRule(monitoring.ProviderUnreachableRule(backend.Pinger.Ping, health.DefaultPingTimeout))

	tokens := jwt.NewManager(cfg.Viewer.TokenSecret, cfg.Viewer.TokenIssuer, cfg.Viewer.TokenExpiry)
	log.Info("viewer token configuration",
		zap.String("issuer", cfg.Viewer.TokenIssuer),
		zap.Duration("expiry", cfg.Viewer.TokenExpiry),
	)

	wsHub := websocket.NewHub(tokens, viewers, cfg.CORS.AllowedOrigins, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Viewers:      viewers,
		Tokens:       tokens,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		Alerts:       alertManager,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 闲置查看者回收 goroutine
	group.Go(func() error {
		log.Info("starting idle viewer sweeper", zap.Duration("idle_ttl", cfg.Viewer.IdleTTL))
		viewers.Run(groupCtx, time.Minute)
		return nil
	})

	// 上游后台任务 goroutine
	group.Go(func() error {
		backend.Run(groupCtx)
		return nil
	})

	// 告警监控 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring")
		alertManager.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		viewers.Close()
		workers.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
