// The monitor grades round execution every five seconds and logs the
// verdicts. It is read-only; losing it never affects the game.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/config"
	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/monitor"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "monitor")
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

	coord := coordinator.New(redis, redis, db, logger)
	mon := monitor.New(db, coord, logger)

	logger.Info("monitor running")
	mon.Run(ctx)
	logger.Info("monitor stopped")
}
