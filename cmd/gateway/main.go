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

	"github.com/aman-churiwal/chatguard/internal/config"
	"github.com/aman-churiwal/chatguard/internal/logging"
	"github.com/aman-churiwal/chatguard/internal/server"
	"github.com/aman-churiwal/chatguard/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	configPath := os.Getenv("CHATGUARD_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	var redis *storage.RedisClient
	if cfg.RateLimit.Storage == "redis" {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The limiter fails open, but starting without the store hides a broken deployment
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
	}

	var postgres *storage.Postgres
	if cfg.Postgres.DSN != "" {
		postgres, err = storage.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		logger.Info("connected to postgres")
	}

	srv, err := server.New(cfg, logger, redis, postgres)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.EnsureAdmin(ctx); err != nil {
		logger.Error("bootstrap admin", zap.Error(err))
	}
	cancel()

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
