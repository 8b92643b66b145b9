package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/events"
)

// Router assembles the main API service: public client endpoints, the
// admin panel behind session auth, the monitor views and Prometheus.
func Router(pub *Public, admin *Admin, auth *Auth, mon *MonitorAPI,
	reg *prometheus.Registry, log *slog.Logger) *mux.Router {

	r := mux.NewRouter()
	r.Use(LoggingMiddleware(log))

	client := r.PathPrefix("/api/client").Subrouter()
	pub.Register(client)

	adminRouter := r.PathPrefix("/api/admin").Subrouter()
	adminRouter.HandleFunc("/auth/login", auth.HandleLogin).Methods(http.MethodPost)
	adminRouter.HandleFunc("/auth/logout", auth.HandleLogout).Methods(http.MethodPost)
	adminRouter.HandleFunc("/auth/status", auth.HandleStatus).Methods(http.MethodGet)

	protected := adminRouter.NewRoute().Subrouter()
	protected.Use(auth.Middleware)
	admin.Register(protected)

	monRouter := adminRouter.PathPrefix("/monitor").Subrouter()
	monRouter.Use(auth.Middleware)
	mon.Register(monRouter)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	return r
}

// EventsRouter assembles the WebSocket fan-out service.
func EventsRouter(gameHub, liveHub *events.Hub, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/game_events", gameHub.ServeWS)
	r.HandleFunc("/ws/live_events", liveHub.ServeWS)
	r.HandleFunc("/api/events/health/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"game_events": gameHub.Count(),
			"live_events": liveHub.Count(),
		})
	}).Methods(http.MethodGet)
	return r
}

// GameEventsInit builds the onConnect hook for the game_events hub: a
// single init_scoreboard frame with the cached state.
func GameEventsInit(c *cache.Cache) func(ctx context.Context) ([][]byte, error) {
	return func(ctx context.Context) ([][]byte, error) {
		state, err := GameStatePayload(ctx, c)
		if err != nil {
			return nil, err
		}
		frame, err := events.InitScoreboardPayload(state)
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}
}
