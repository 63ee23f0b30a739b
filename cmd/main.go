package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderunner/audit"
	"coderunner/config"
	"coderunner/logger"
	"coderunner/natshandler"
	"coderunner/pkg"
	"coderunner/routes"
	"coderunner/service"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	runLog, err := logger.NewLogrus(cfg)
	if err != nil {
		zlog.Fatal("Failed to build runner logger", zap.Error(err))
	}

	var (
		violations service.ViolationRecorder
		lister     routes.ViolationLister
		store      *audit.Store
	)
	if cfg.AuditDBPath != "" {
		store, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			zlog.Fatal("Failed to open audit store", zap.String("path", cfg.AuditDBPath), zap.Error(err))
		}
		violations, lister = store, store
		zlog.Info("Audit store opened", zap.String("path", cfg.AuditDBPath))
	}

	var (
		nc     *nats.Conn
		events service.EventSink
	)
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL, nats.Name("coderunner"))
		if err != nil {
			zlog.Fatal("Failed to connect to NATS", zap.String("url", cfg.NatsURL), zap.Error(err))
		}
		events = natshandler.NewEventPublisher(nc)
	}

	svc, err := service.Build(cfg, zlog, runLog, violations, events)
	if err != nil {
		zlog.Fatal("Failed to build execution service", zap.Error(err))
	}
	svc.Start()

	defaultTimeoutMs := int(cfg.DefaultTimeout / time.Millisecond)
	if nc != nil {
		if _, err := natshandler.NewHandler(svc, zlog, defaultTimeoutMs, cfg.NatsMaxInFlight).Subscribe(nc); err != nil {
			zlog.Fatal("Failed to subscribe to NATS subjects", zap.Error(err))
		}
		zlog.Info("Listening on NATS",
			zap.String("url", cfg.NatsURL),
			zap.Strings("subjects", []string{natshandler.SubjectExecute, natshandler.SubjectQueue}))
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.NewRouter(svc, zlog, routes.Options{
		RateLimiter:      pkg.NewRateLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow, zlog),
		Violations:       lister,
		AllowedOrigins:   cfg.AllowedOrigins,
		DefaultTimeoutMs: defaultTimeoutMs,
		Development:      cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("Code execution service started",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.Strings("languages", svc.SupportedLanguages()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zlog.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("HTTP server did not shut down cleanly", zap.Error(err))
	}

	svc.Shutdown()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			zlog.Error("Failed to drain NATS connection", zap.Error(err))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			zlog.Error("Failed to close audit store", zap.Error(err))
		}
	}
	zlog.Info("Shutdown complete")
}
