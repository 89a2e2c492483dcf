// Command worker runs the background tasks of LEXIFY requests: the expiry
// of each request at its offers deadline and an hourly sweep that catches
// any expiry whose task was lost.
package main

import (
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/lexify/requestforms/internal/config"
	"github.com/lexify/requestforms/internal/jobs"
	"github.com/lexify/requestforms/internal/logger"
	"github.com/lexify/requestforms/internal/storage"
)

const sweepSpec = "@hourly"

func main() {
	if err := logger.Setup(logger.OptionsFromEnv("lexify-worker")); err != nil {
		logger.Fatal("Failed to set up logging", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Fatal("DATABASE_URL and REDIS_ADDR are required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", "error", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{"default": 1},
	})

	mux := asynq.NewServeMux()
	jobs.NewHandlers(storage.NewPostgresRequestStore(db), time.Now).Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(sweepSpec, asynq.NewTask(jobs.TypeSweepExpired, nil)); err != nil {
		logger.Fatal("Failed to register expiry sweep", "error", err)
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal("Failed to start worker", "error", err)
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", "error", err)
	}
	logger.Info("Worker started", "redis", cfg.RedisAddr, "sweep", sweepSpec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker")
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("Worker stopped")
}
