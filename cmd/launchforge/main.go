package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"launchforge/internal/auth"
	"launchforge/internal/config"
	"launchforge/internal/deploy"
	"launchforge/internal/handlers"
	"launchforge/internal/logging"
	"launchforge/internal/tasks"
	"launchforge/pkg/models"
)

func main() {
	cfg := config.Load()
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := runMigrations(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb := initRedis(cfg)
	if rdb != nil {
		log.Info("file cache enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	authService := auth.NewService(db, cfg.JWTSecret)
	orchestrator := deploy.NewOrchestrator(db, rdb, cfg.AnthropicAPIKey)
	taskEngine := tasks.NewEngine(db, rdb, cfg.AnthropicAPIKey)

	handler := handlers.NewHandler(db, authService, orchestrator, taskEngine)
	router := handlers.SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // deployments run within the request
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("launchforge server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}
	log.Info("server shut down gracefully")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Silent
	if cfg.Environment == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Credential{},
		&models.Task{},
	)
}

// initRedis returns nil when no address is configured; the file store then
// reads straight through to the backing repository.
func initRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.L().Warn("redis unreachable, file cache disabled", zap.Error(err))
		return nil
	}
	return rdb
}
