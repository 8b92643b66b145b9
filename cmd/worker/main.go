// The worker consumes checker jobs from the queue and executes them. Scale
// horizontally; JOBS bounds handlers per process, CHECKERS bounds checker
// subprocesses.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adarena/backend/internal/actions"
	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/checker"
	"github.com/adarena/backend/internal/config"
	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/queue"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "worker")
	env := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, env.DatabaseURL())
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	redis, err := cache.NewGoRedisAdapter(ctx, env.RedisAddr(), env.RedisPassword, env.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redis.Close()

	m := metrics.New(prometheus.NewRegistry())
	q := queue.New(redis)

	if n, err := q.RecoverPending(ctx); err != nil {
		logger.Warn("pending job recovery failed", "err", err)
	} else if n > 0 {
		logger.Info("requeued stranded jobs", "count", n)
	}

	coord := coordinator.New(redis, redis, db, logger)
	runner := checker.NewRunner(env.Checkers, logger)
	handlers := actions.New(db, cache.New(redis), coord, runner, redis, m, logger)

	go func() {
		tick := time.NewTicker(5 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if depth, err := q.Depth(ctx); err == nil {
					m.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	logger.Info("worker running", "jobs", env.Jobs, "checkers", env.Checkers)
	q.Consume(ctx, env.Jobs, handlers.Handle, logger)
	logger.Info("worker stopped")
}
