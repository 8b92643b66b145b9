package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/database"
)

// TokenHeader authenticates submissions.
const TokenHeader = "X-Team-Token"

// ReceiverRouter builds the flag receiver service: PUT /flags/ plus health
// and metrics.
func ReceiverRouter(s *Submitter, reg *prometheus.Registry, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(log))
	r.HandleFunc("/flags/", s.HandleSubmit).Methods(http.MethodPut)
	r.HandleFunc("/flags/health/", healthHandler).Methods(http.MethodGet)
	r.Handle("/api/http-receiver/metrics",
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// FlagSubmissionRequest is the submission body: a batch of 1 to 100 flags.
type FlagSubmissionRequest struct {
	Flags []string `json:"flags"`
}

// FlagVerdict is one per-flag answer. Msg repeats the flag in brackets so
// pipelined clients can match verdicts without parsing the Flag field.
type FlagVerdict struct {
	Msg  string `json:"msg"`
	Flag string `json:"flag"`
}

// HandleSubmit accepts {"flags": [...]} and answers with one verdict per
// flag, in submission order.
func (s *Submitter) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(TokenHeader)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing "+TokenHeader+" header")
		return
	}
	team, err := s.TeamByToken(ctx, token)
	if errors.Is(err, cache.ErrMiss) || errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "Invalid team token")
		return
	}
	if err != nil {
		s.log.Error("token lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	cfg, err := s.GameConfig(ctx)
	if err != nil {
		s.log.Error("config load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !cfg.GameRunning {
		writeError(w, http.StatusBadRequest, "Game not started")
		return
	}

	var req FlagSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		len(req.Flags) == 0 || len(req.Flags) > MaxFlagsPerRequest {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Must provide a list with 1-%d flags", MaxFlagsPerRequest))
		return
	}

	responses := make([]FlagVerdict, 0, len(req.Flags))
	for _, flag := range req.Flags {
		msg, accepted := s.SubmitFlag(ctx, team, cfg, flag)
		s.log.Info("flag submission",
			"team", team.Name, "addr", r.RemoteAddr, "accepted", accepted, "msg", msg)
		responses = append(responses, FlagVerdict{
			Msg:  fmt.Sprintf("[%s] %s", flag, msg),
			Flag: flag,
		})
	}
	writeJSON(w, http.StatusOK, responses)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
