package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/internal/auth"
	"github.com/lexify/requestforms/internal/config"
	"github.com/lexify/requestforms/internal/jobs"
	"github.com/lexify/requestforms/internal/logger"
	"github.com/lexify/requestforms/internal/storage"
)

// loadRegistry compiles the category specs, from SPECS_DIR when set and the
// built-in set otherwise.
func loadRegistry(cfg *config.Config, db *sql.DB) (*category.Registry, error) {
	var (
		specs []*category.Spec
		err   error
	)
	if cfg.SpecsDir != "" {
		specs, err = category.SpecsFromDir(cfg.SpecsDir)
	} else {
		specs, err = category.BuiltinSpecs()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category specs: %w", err)
	}

	stores := category.PostgresStores(db)
	if cfg.RulesSource == config.RulesMemory {
		stores = category.InMemoryStores()
	}

	registry := category.NewRegistry(stores)
	if err := registry.LoadAll(specs); err != nil {
		return nil, err
	}
	return registry, nil
}

func main() {
	if err := logger.Setup(logger.OptionsFromEnv("lexify-server")); err != nil {
		logger.Fatal("Failed to set up logging", "error", err)
	}
	defer logger.Shutdown(context.Background())

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	if err := cfg.RequireServer(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", "error", err)
	}

	registry, err := loadRegistry(cfg, db)
	if err != nil {
		logger.Fatal("Failed to load categories", "error", err)
	}
	logger.Info("Categories loaded", "count", len(registry.List()), "rules", cfg.RulesSource)

	files, err := storage.NewFileStore(cfg.UploadDir, cfg.MaxUpload)
	if err != nil {
		logger.Fatal("Failed to open upload directory", "error", err)
	}

	var (
		users    storage.UserStore = storage.NewPostgresUserStore(db)
		enqueuer jobs.Enqueuer
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis not reachable, continuing without user cache and task queue", "error", err)
		} else {
			users = storage.NewCachedUserStore(users, rdb, cfg.UserCacheTTL)

			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer client.Close()
			enqueuer = client
		}
	} else {
		logger.Warn("REDIS_ADDR not set, running without user cache and task queue")
	}

	server := NewServer(Deps{
		DB:        db,
		Registry:  registry,
		Users:     users,
		Requests:  storage.NewPostgresRequestStore(db),
		Files:     files,
		Scheduler: jobs.NewScheduler(enqueuer),
		Issuer:    auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
