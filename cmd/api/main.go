// The api service carries everything that is not flag submission: the
// public client endpoints, the admin panel and the monitor views.
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
	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/monitor"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "api")
	env := config.FromEnv()
	port := config.PortOr(8000)

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

	c := cache.New(redis)
	reg := prometheus.NewRegistry()
	coord := coordinator.New(redis, redis, db, logger)
	mon := monitor.New(db, coord, logger)

	pub := api.NewPublic(db, c, logger)
	admin := api.NewAdmin(db, c, logger)
	auth := api.NewAuth(c, env.AdminUsername, env.AdminPassword, env.AdminPasswordHash, logger)
	monAPI := api.NewMonitorAPI(mon, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.Router(pub, admin, auth, monAPI, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", srv.Addr)
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
	logger.Info("api stopped")
}
