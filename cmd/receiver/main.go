// The receiver is the flag submission endpoint teams hammer during the
// game. It is kept separate from the main API so submission load cannot
// starve the scoreboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adarena/backend/internal/api"
	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/config"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "receiver")
	env := config.FromEnv()
	port := config.PortOr(5000)

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

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	notifier := events.NewNotifier(redis, logger)
	submitter := api.NewSubmitter(db, cache.New(redis), notifier, m, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.ReceiverRouter(submitter, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("receiver listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	logger.Info("receiver stopped")
}
