package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/injoint/joint/internal/v1/config"
	"github.com/injoint/joint/internal/v1/health"
	"github.com/injoint/joint/internal/v1/joint"
	"github.com/injoint/joint/internal/v1/logging"
	"github.com/injoint/joint/internal/v1/middleware"
	"github.com/injoint/joint/internal/v1/ratelimit"
	"github.com/injoint/joint/internal/v1/reducer/chatroom"
	"github.com/injoint/joint/internal/v1/tracing"
	"github.com/injoint/joint/internal/v1/transport/ginadapter"
	"github.com/injoint/joint/internal/v1/transport/wsserver"
)

func main() {
	// Load .env file for local development. Try multiple paths to handle
	// different ways of running the app.
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment from", "path", path)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if collectorAddr := os.Getenv("JOINT_OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "injoint", collectorAddr)
		if err != nil {
			slog.Warn("tracer init failed, continuing without tracing", "error", err)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	rl, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		slog.Error("invalid rate limit configuration", "error", err)
		os.Exit(1)
	}

	j := joint.New(
		chatroom.NewDispatcher,
		joint.WithIntakeQueueDepth(cfg.IntakeQueueDepth),
		joint.WithOutboundQueueDepth(cfg.OutboundQueueDepth),
		joint.WithOutboundSendTimeout(cfg.OutboundSendTimeout),
		joint.WithRateLimiter(rl),
	)

	runCtx, stopRun := context.WithCancel(context.Background())
	go func() {
		if err := j.Run(runCtx); err != nil && err != context.Canceled {
			slog.Error("joint intake loop exited", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("injoint"))
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = middleware.SplitOrigins(cfg.AllowedOrigins, "http://localhost:3000")
	router.Use(cors.New(corsConfig))

	ginadapter.New(j, rl).Register(router, "/ws")

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(j)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		slog.Info("injoint server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	// wsserver is an optional bare listener (no gin, no CORS, no connect
	// rate limiting) for embedders that want a minimal socket endpoint
	// alongside the primary gin-routed one.
	var rawSrv *http.Server
	if cfg.RawWSAddr != "" {
		rawMux := http.NewServeMux()
		rawMux.HandleFunc("/ws", wsserver.New(j).Handler())
		rawSrv = &http.Server{Addr: cfg.RawWSAddr, Handler: rawMux}

		go func() {
			slog.Info("injoint raw ws listener starting", "addr", cfg.RawWSAddr)
			if err := rawSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("raw ws listener failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if rawSrv != nil {
		if err := rawSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("raw ws listener forced to shutdown", "error", err)
		}
	}

	stopRun()
	slog.Info("server exiting")
}
