package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/models"
)

// PublicStore is the database slice behind the client endpoints.
type PublicStore interface {
	Teams(ctx context.Context) ([]models.Team, error)
	Team(ctx context.Context, id int) (*models.Team, error)
	Tasks(ctx context.Context) ([]models.Task, error)
	GameConfig(ctx context.Context) (*models.GameConfig, error)
	Ping(ctx context.Context) error
}

// Public serves the unauthenticated client API. Reads prefer the cache and
// fall back to Postgres on a miss.
type Public struct {
	db    PublicStore
	cache *cache.Cache
	log   *slog.Logger
}

func NewPublic(db PublicStore, c *cache.Cache, log *slog.Logger) *Public {
	return &Public{db: db, cache: c, log: log}
}

func (p *Public) Register(r *mux.Router) {
	r.HandleFunc("/teams/", p.handleTeams).Methods(http.MethodGet)
	r.HandleFunc("/teams/{id:[0-9]+}/", p.handleTeam).Methods(http.MethodGet)
	r.HandleFunc("/tasks/", p.handleTasks).Methods(http.MethodGet)
	r.HandleFunc("/config/", p.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/attack_data/", p.handleAttackData).Methods(http.MethodGet)
	r.HandleFunc("/health/", p.handleHealth).Methods(http.MethodGet)
}

// publicTeam is a Team with the submission token stripped.
type publicTeam struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Active bool   `json:"active"`
}

func sanitizeTeam(t models.Team) publicTeam {
	return publicTeam{ID: t.ID, Name: t.Name, IP: t.IP, Active: t.Active}
}

func (p *Public) handleTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := p.cache.Teams(r.Context())
	if errors.Is(err, cache.ErrMiss) {
		teams, err = p.db.Teams(r.Context())
	}
	if err != nil {
		p.log.Error("teams load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	out := make([]publicTeam, 0, len(teams))
	for _, t := range teams {
		out = append(out, sanitizeTeam(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Public) handleTeam(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	team, err := p.db.Team(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	if err != nil {
		p.log.Error("team load failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeTeam(*team))
}

func (p *Public) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := p.cache.Tasks(r.Context())
	if errors.Is(err, cache.ErrMiss) {
		tasks, err = p.db.Tasks(r.Context())
	}
	if err != nil {
		p.log.Error("tasks load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// publicConfig exposes the rules of the game, not its switches.
type publicConfig struct {
	RealRound    int    `json:"real_round"`
	RoundTime    int    `json:"round_time"`
	MaxRound     int    `json:"max_round"`
	FlagLifetime int    `json:"flag_lifetime"`
	GameRunning  bool   `json:"game_running"`
	Timezone     string `json:"timezone"`
	StartTime    string `json:"start_time"`
}

func (p *Public) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := p.cache.GameConfig(r.Context())
	if errors.Is(err, cache.ErrMiss) {
		cfg, err = p.db.GameConfig(r.Context())
	}
	if err != nil {
		p.log.Error("config load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, publicConfig{
		RealRound:    cfg.RealRound,
		RoundTime:    cfg.RoundTime,
		MaxRound:     cfg.MaxRound,
		FlagLifetime: cfg.FlagLifetime,
		GameRunning:  cfg.GameRunning,
		Timezone:     cfg.Timezone,
		StartTime:    cfg.StartTime.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (p *Public) handleAttackData(w http.ResponseWriter, r *http.Request) {
	data, err := p.cache.AttackData(r.Context())
	if errors.Is(err, cache.ErrMiss) {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	if err != nil {
		p.log.Error("attack data load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (p *Public) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := p.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GameStatePayload returns the cached scoreboard, used both by the client
// API and as the init payload for game_events WebSocket clients.
func GameStatePayload(ctx context.Context, c *cache.Cache) (json.RawMessage, error) {
	state, err := c.GameState(ctx)
	if errors.Is(err, cache.ErrMiss) {
		return json.RawMessage("{}"), nil
	}
	return state, err
}
