package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autopay-backend/internal/app"
	"autopay-backend/internal/config"
	"autopay-backend/internal/db"
	"autopay-backend/internal/handlers"
	"autopay-backend/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: config.local.yaml, then config.yaml)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	cfg := config.AppConfig
	logger := newLogger(cfg.Log)

	var gdb *gorm.DB
	if cfg.Database.Driver != "memory" {
		db.InitDB()
		gdb = db.DB
	}

	container, err := app.NewServiceContainer(cfg, gdb, logger)
	if err != nil {
		log.Fatalf("❌ Failed to initialize services: %v", err)
	}
	defer container.Cleanup()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := router.SetupRouter(cfg, gdb, router.Handlers{
		Payment:   handlers.NewPaymentHandler(container.PaymentService, logger),
		Admin:     handlers.NewAdminPaymentHandler(container.PaymentService, container.SettingsService, container.SchedulerService, logger),
		AdminAuth: handlers.NewAdminAuthHandler(cfg.Admin, logger),
		WebSocket: handlers.NewWebSocketHandler(container.WebSocketPushService, cfg.Auth.JWTSecret),
	}, logger)

	container.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 autopay-backend listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("🛑 Received %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP server shutdown: %v", err)
	}
	log.Println("✅ Server stopped")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(logger.Formatter)
	return logger
}
