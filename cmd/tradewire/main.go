package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/internal/auth"
	"github.com/tradewire/tradewire/internal/bridge"
	"github.com/tradewire/tradewire/internal/cache"
	"github.com/tradewire/tradewire/internal/config"
	"github.com/tradewire/tradewire/internal/server"
	"github.com/tradewire/tradewire/internal/ws"
	"github.com/tradewire/tradewire/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cross-instance bus and last-value cache.
	var (
		bus        ws.Bus
		topicCache ws.TopicCache
		busBridge  *bridge.Bridge
	)
	switch cfg.Bus.Backend {
	case "redis":
		backend := bridge.NewRedisBackend(
			cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.Channel, zapLogger.Named("bus"))
		busBridge = bridge.New(backend, zapLogger.Named("bridge"))
		bus = busBridge
		topicCache = cache.NewLastValue(backend.Client(), "", zapLogger.Named("cache"))
	case "kafka":
		// Per-instance group id so every instance sees every relayed event.
		groupID := cfg.Bus.Kafka.GroupID + "-" + uuid.NewString()
		backend := bridge.NewKafkaBackend(
			cfg.Bus.Kafka.Brokers, cfg.Bus.Kafka.Topic,
			groupID, zapLogger.Named("bus"))
		busBridge = bridge.New(backend, zapLogger.Named("bridge"))
		bus = busBridge
		if cfg.Redis.Address != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			topicCache = cache.NewLastValue(rdb, "", zapLogger.Named("cache"))
		}
	case "none":
		zapLogger.Info("bus disabled, running single-instance")
	}

	manager := ws.NewManager(ws.ManagerConfig{
		MaxConnections:    cfg.WS.MaxConnections,
		SendQueueSize:     cfg.WS.SendQueueSize,
		HeartbeatInterval: cfg.WS.HeartbeatInterval,
		PongTimeout:       cfg.WS.PongTimeout,
		WriteTimeout:      cfg.WS.WriteTimeout,
		ReadLimit:         cfg.WS.ReadLimit,
		MaxViolations:     cfg.WS.MaxViolations,
		Authenticate:      ws.TokenValidator(auth.FromConfig(cfg.Auth.JWTSecret)),
	}, bus, topicCache, zapLogger.Named("ws"))

	if busBridge != nil {
		if err := busBridge.Start(ctx, manager); err != nil {
			// Single-instance degradation, not fatal.
			zapLogger.Warn("bus bridge unavailable", zap.Error(err))
		}
	}

	srv := server.New(manager, cfg.HTTP, zapLogger.Named("http"))
	httpServer := srv.HTTPServer(cfg.HTTP)

	go func() {
		zapLogger.Info("listening", zap.String("addr", cfg.HTTP.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http shutdown failed", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("manager shutdown failed", zap.Error(err))
	}
	if busBridge != nil {
		if err := busBridge.Close(); err != nil {
			zapLogger.Error("bridge close failed", zap.Error(err))
		}
	}
	zapLogger.Info("shutdown complete")
}
