// The ticker is the game clock: it starts the game at the configured time
// and fires a round boundary every round_time seconds. Run exactly one.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/config"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/queue"
	"github.com/adarena/backend/internal/ticker"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "ticker")
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
	t := ticker.New(db, cache.New(redis), queue.New(redis), redis, m, logger)

	logger.Info("ticker running")
	t.Run(ctx)
	logger.Info("ticker stopped")
}
