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

// AdminStore is the database slice behind the admin panel.
type AdminStore interface {
	Teams(ctx context.Context) ([]models.Team, error)
	Team(ctx context.Context, id int) (*models.Team, error)
	CreateTeam(ctx context.Context, t *models.Team) error
	UpdateTeam(ctx context.Context, t *models.Team) error
	DeleteTeam(ctx context.Context, id int) error

	Tasks(ctx context.Context) ([]models.Task, error)
	Task(ctx context.Context, id int) (*models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id int) error

	GameConfig(ctx context.Context) (*models.GameConfig, error)
	UpdateGameConfig(ctx context.Context, c *models.GameConfig) error
	SetGameRunning(ctx context.Context, running bool) error
	Ping(ctx context.Context) error
}

// Admin serves team/task CRUD, config edits and the pause switch. All
// routes sit behind Auth.Middleware.
type Admin struct {
	db    AdminStore
	cache *cache.Cache
	log   *slog.Logger
}

func NewAdmin(db AdminStore, c *cache.Cache, log *slog.Logger) *Admin {
	return &Admin{db: db, cache: c, log: log}
}

func (a *Admin) Register(r *mux.Router) {
	r.HandleFunc("/teams", a.listTeams).Methods(http.MethodGet)
	r.HandleFunc("/teams", a.createTeam).Methods(http.MethodPost)
	r.HandleFunc("/teams/{id:[0-9]+}", a.getTeam).Methods(http.MethodGet)
	r.HandleFunc("/teams/{id:[0-9]+}", a.updateTeam).Methods(http.MethodPut)
	r.HandleFunc("/teams/{id:[0-9]+}", a.deleteTeam).Methods(http.MethodDelete)

	r.HandleFunc("/tasks", a.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks", a.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.deleteTask).Methods(http.MethodDelete)

	r.HandleFunc("/config", a.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", a.updateConfig).Methods(http.MethodPut)
	r.HandleFunc("/game/pause", a.pauseGame).Methods(http.MethodPost)
	r.HandleFunc("/game/resume", a.resumeGame).Methods(http.MethodPost)
	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
}

func (a *Admin) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := a.db.Teams(r.Context())
	if err != nil {
		a.fail(w, "list teams", err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (a *Admin) createTeam(w http.ResponseWriter, r *http.Request) {
	var t models.Team
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team payload")
		return
	}
	if t.Name == "" || t.IP == "" {
		writeError(w, http.StatusBadRequest, "Team needs both name and ip")
		return
	}
	t.Token = models.GenerateToken()
	t.Active = true
	if err := a.db.CreateTeam(r.Context(), &t); err != nil {
		a.fail(w, "create team", err)
		return
	}
	a.refreshTeams(r.Context())
	writeJSON(w, http.StatusCreated, t)
}

func (a *Admin) getTeam(w http.ResponseWriter, r *http.Request) {
	team, err := a.db.Team(r.Context(), pathID(r))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	if err != nil {
		a.fail(w, "get team", err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *Admin) updateTeam(w http.ResponseWriter, r *http.Request) {
	var t models.Team
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team payload")
		return
	}
	t.ID = pathID(r)
	if err := a.db.UpdateTeam(r.Context(), &t); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Team not found")
			return
		}
		a.fail(w, "update team", err)
		return
	}
	a.refreshTeams(r.Context())
	writeJSON(w, http.StatusOK, t)
}

func (a *Admin) deleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := a.db.DeleteTeam(r.Context(), pathID(r)); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Team not found")
			return
		}
		a.fail(w, "delete team", err)
		return
	}
	a.refreshTeams(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.db.Tasks(r.Context())
	if err != nil {
		a.fail(w, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *Admin) createTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task payload")
		return
	}
	if t.Name == "" || t.Checker == "" {
		writeError(w, http.StatusBadRequest, "Task needs both name and checker")
		return
	}
	t.Active = true
	if err := a.db.CreateTask(r.Context(), &t); err != nil {
		a.fail(w, "create task", err)
		return
	}
	a.refreshTasks(r.Context())
	writeJSON(w, http.StatusCreated, t)
}

func (a *Admin) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.db.Task(r.Context(), pathID(r))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		a.fail(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *Admin) updateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task payload")
		return
	}
	t.ID = pathID(r)
	if err := a.db.UpdateTask(r.Context(), &t); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		a.fail(w, "update task", err)
		return
	}
	a.refreshTasks(r.Context())
	writeJSON(w, http.StatusOK, t)
}

func (a *Admin) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.db.DeleteTask(r.Context(), pathID(r)); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		a.fail(w, "delete task", err)
		return
	}
	a.refreshTasks(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.db.GameConfig(r.Context())
	if err != nil {
		a.fail(w, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *Admin) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.GameConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config payload")
		return
	}
	if cfg.RoundTime <= 0 || cfg.FlagLifetime <= 0 || cfg.GameHardness < 1 {
		writeError(w, http.StatusBadRequest, "Config violates game constraints")
		return
	}
	if err := a.db.UpdateGameConfig(r.Context(), &cfg); err != nil {
		a.fail(w, "update config", err)
		return
	}
	a.invalidateConfig(r.Context())
	writeJSON(w, http.StatusOK, cfg)
}

func (a *Admin) pauseGame(w http.ResponseWriter, r *http.Request) {
	a.setRunning(w, r, false)
}

func (a *Admin) resumeGame(w http.ResponseWriter, r *http.Request) {
	a.setRunning(w, r, true)
}

func (a *Admin) setRunning(w http.ResponseWriter, r *http.Request, running bool) {
	if err := a.db.SetGameRunning(r.Context(), running); err != nil {
		a.fail(w, "set game running", err)
		return
	}
	a.invalidateConfig(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"game_running": running})
}

func (a *Admin) health(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) refreshTeams(ctx context.Context) {
	teams, err := a.db.Teams(ctx)
	if err == nil {
		err = a.cache.SetTeams(ctx, teams)
	}
	if err != nil {
		a.log.Error("team cache refresh failed", "err", err)
	}
}

func (a *Admin) refreshTasks(ctx context.Context) {
	tasks, err := a.db.Tasks(ctx)
	if err == nil {
		err = a.cache.SetTasks(ctx, tasks)
	}
	if err != nil {
		a.log.Error("task cache refresh failed", "err", err)
	}
}

func (a *Admin) invalidateConfig(ctx context.Context) {
	if err := a.cache.InvalidateGameConfig(ctx); err != nil {
		a.log.Error("config invalidation failed", "err", err)
	}
}

func (a *Admin) fail(w http.ResponseWriter, op string, err error) {
	a.log.Error(op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "Internal error")
}

func pathID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}
