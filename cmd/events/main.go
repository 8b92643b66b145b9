// The events service fans Redis game events out to WebSocket spectators:
// scoreboard watchers on /ws/game_events, the attack feed on
// /ws/live_events.
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
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "events")
	env := config.FromEnv()
	port := config.PortOr(8001)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redis, err := cache.NewGoRedisAdapter(ctx, env.RedisAddr(), env.RedisPassword, env.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redis.Close()

	c := cache.New(redis)
	m := metrics.New(prometheus.NewRegistry())

	gameHub := events.NewHub("game_events", api.GameEventsInit(c), m, logger)
	liveHub := events.NewHub("live_events", nil, m, logger)
	go gameHub.Run(ctx)
	go liveHub.Run(ctx)

	listener := events.NewListener(redis, gameHub, liveHub, logger)
	go listener.Run(ctx)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     api.EventsRouter(gameHub, liveHub, logger),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("events listening", "addr", srv.Addr)
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
	logger.Info("events stopped")
}
