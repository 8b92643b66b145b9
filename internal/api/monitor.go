package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adarena/backend/internal/monitor"
)

// MonitorAPI exposes the round monitor's views to admins.
type MonitorAPI struct {
	mon *monitor.Monitor
	log *slog.Logger
}

func NewMonitorAPI(mon *monitor.Monitor, log *slog.Logger) *MonitorAPI {
	return &MonitorAPI{mon: mon, log: log}
}

func (m *MonitorAPI) Register(r *mux.Router) {
	r.HandleFunc("/health", m.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/current", m.handleCurrent).Methods(http.MethodGet)
	r.HandleFunc("/round/{round:[0-9]+}", m.handleRound).Methods(http.MethodGet)
	r.HandleFunc("/round/{round:[0-9]+}/team/{team:[0-9]+}/task/{task:[0-9]+}",
		m.handleDetail).Methods(http.MethodGet)
}

func (m *MonitorAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, _, err := m.mon.Current(r.Context())
	if err != nil {
		m.log.Error("monitor health failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"health": report.Health, "round": report.Round})
}

func (m *MonitorAPI) handleCurrent(w http.ResponseWriter, r *http.Request) {
	report, _, err := m.mon.Current(r.Context())
	if err != nil {
		m.log.Error("monitor current failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (m *MonitorAPI) handleRound(w http.ResponseWriter, r *http.Request) {
	round, _ := strconv.Atoi(mux.Vars(r)["round"])
	report, _, err := m.mon.Report(r.Context(), round)
	if err != nil {
		m.log.Error("monitor round failed", "round", round, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (m *MonitorAPI) handleDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	round, _ := strconv.Atoi(vars["round"])
	teamID, _ := strconv.Atoi(vars["team"])
	taskID, _ := strconv.Atoi(vars["task"])
	detail, err := m.mon.Detail(r.Context(), round, teamID, taskID)
	if err != nil {
		m.log.Error("monitor detail failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
