// Package actions implements the worker-side handlers for the three checker
// jobs. Handlers never return a job to the queue: any failure is converted
// into a persisted verdict so a round always terminates.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/checker"
	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/models"
	"github.com/adarena/backend/internal/queue"
)

// Skip and fallback messages are part of the public teamtask surface; the
// scoreboard shows them verbatim.
const (
	skipMsgCheckFailed = "Skipped: CHECK failed"
	skipMsgPutFailed   = "Skipped: PUT failed"
	msgFlagNotFound    = "Flag not found"
)

// Store is the slice of the database layer the handlers touch.
type Store interface {
	Team(ctx context.Context, id int) (*models.Team, error)
	Task(ctx context.Context, id int) (*models.Task, error)
	GameConfig(ctx context.Context) (*models.GameConfig, error)
	RecordCheck(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error
	RecordPut(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error
	RecordGet(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error
	RecordPutSkipped(ctx context.Context, teamID, taskID int, status models.TaskStatus, message string) error
	RecordGetSkipped(ctx context.Context, teamID, taskID int, status models.TaskStatus, message string) error
	RecordActionError(ctx context.Context, teamID, taskID int, action models.Action, cause string) error
	InsertFlag(ctx context.Context, f *models.Flag) error
	UpdateFlagData(ctx context.Context, id int, public, private string) error
	FlagByID(ctx context.Context, id int) (*models.Flag, error)
}

type Handlers struct {
	db      Store
	cache   *cache.Cache
	coord   *coordinator.Coordinator
	runner  *checker.Runner
	bus     cache.PubSub
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(db Store, c *cache.Cache, coord *coordinator.Coordinator,
	runner *checker.Runner, bus cache.PubSub, m *metrics.Metrics, log *slog.Logger) *Handlers {
	return &Handlers{db: db, cache: c, coord: coord, runner: runner,
		bus: bus, metrics: m, log: log}
}

// Handle dispatches one dequeued job. An error here means the handler
// itself broke, not the checked service; the action still gets a persisted
// CHECK_FAILED record so the round terminates.
func (h *Handlers) Handle(ctx context.Context, job queue.Job) error {
	err := h.dispatch(ctx, job)
	if err != nil {
		h.recordFailure(ctx, job, err)
	}
	return err
}

func (h *Handlers) dispatch(ctx context.Context, job queue.Job) error {
	cfg, err := h.gameConfig(ctx)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	team, err := h.db.Team(ctx, job.TeamID)
	if err != nil {
		return fmt.Errorf("job %s team: %w", job.ID, err)
	}
	task, err := h.db.Task(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("job %s task: %w", job.ID, err)
	}

	switch job.Action {
	case models.ActionCheck:
		return h.check(ctx, job, cfg, team, task)
	case models.ActionPut:
		return h.put(ctx, job, cfg, team, task)
	case models.ActionGet:
		return h.get(ctx, job, cfg, team, task)
	default:
		return fmt.Errorf("job %s: unknown action %q", job.ID, job.Action)
	}
}

func (h *Handlers) check(ctx context.Context, job queue.Job, cfg *models.GameConfig,
	team *models.Team, task *models.Task) error {

	verdict := h.runChecker(ctx, task, models.ActionCheck, team.IP, nil)
	if err := h.db.RecordCheck(ctx, team.ID, task.ID, verdict); err != nil {
		return err
	}
	// PUT and GET for this round are blocked on this signal.
	if err := h.coord.SignalCheckComplete(ctx, job.Round, team.ID, task.ID, verdict.Status); err != nil {
		h.log.Error("check signal failed", "round", job.Round,
			"team", team.ID, "task", task.ID, "err", err)
	}
	return h.finishAction(ctx, job, verdict)
}

func (h *Handlers) put(ctx context.Context, job queue.Job, cfg *models.GameConfig,
	team *models.Team, task *models.Task) error {

	checkStatus, err := h.coord.WaitForCheck(ctx, job.Round, team.ID, task.ID, cfg.RoundTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("check wait failed, running put anyway",
			"round", job.Round, "team", team.ID, "task", task.ID, "err", err)
	} else if checkStatus == models.StatusNotChecked {
		h.log.Warn("put running without a check verdict",
			"round", job.Round, "team", team.ID, "task", task.ID)
	}

	// A service known to be dead gets no flag: the PUT inherits the CHECK
	// verdict instead of burning a checker slot on it.
	if blocksDependents(checkStatus) {
		h.log.Info("put skipped after failed check", "round", job.Round,
			"team", team.ID, "task", task.ID, "check_status", checkStatus.String())
		if err := h.db.RecordPutSkipped(ctx, team.ID, task.ID, checkStatus, skipMsgCheckFailed); err != nil {
			return err
		}
		return h.coord.RecordActionResult(ctx, job.Round, team.ID, task.ID,
			models.ActionPut, checkStatus)
	}

	place := rand.Intn(task.Places) + 1
	flag := models.NewFlag(cfg.FlagPrefix, team.ID, task.ID, job.Round, place)
	// The flag row and cache entry exist before the checker runs: a PUT
	// that plants the flag and then times out still leaves it submittable.
	if err := h.db.InsertFlag(ctx, &flag); err != nil {
		return err
	}
	if err := h.cache.SetFlag(ctx, &flag, cfg.FlagLifetime, cfg.RoundTime); err != nil {
		h.log.Error("flag cache write failed", "flag", flag.Flag, "err", err)
	}

	verdict := h.runChecker(ctx, task, models.ActionPut, team.IP, &flag)
	if verdict.Status == models.StatusUp {
		if out := strings.TrimSpace(verdict.PublicMessage); out != "" {
			updated := false
			if task.CheckerReturnsFlagID() {
				flag.PrivateFlagData = out
				updated = true
			}
			if task.CheckerProvidesPublicFlagData() {
				flag.PublicFlagData = out
				updated = true
			}
			if updated {
				if err := h.db.UpdateFlagData(ctx, flag.ID, flag.PublicFlagData, flag.PrivateFlagData); err != nil {
					return err
				}
				if err := h.cache.SetFlag(ctx, &flag, cfg.FlagLifetime, cfg.RoundTime); err != nil {
					h.log.Error("flag cache write failed", "flag", flag.Flag, "err", err)
				}
			}
		}
	}
	if err := h.db.RecordPut(ctx, team.ID, task.ID, verdict); err != nil {
		return err
	}
	return h.finishAction(ctx, job, verdict)
}

func (h *Handlers) get(ctx context.Context, job queue.Job, cfg *models.GameConfig,
	team *models.Team, task *models.Task) error {

	checkStatus, err := h.coord.WaitForCheck(ctx, job.Round, team.ID, task.ID, cfg.RoundTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("check wait failed, running get anyway",
			"round", job.Round, "team", team.ID, "task", task.ID, "err", err)
	}
	if blocksDependents(checkStatus) {
		h.log.Info("get skipped after failed check", "round", job.Round,
			"team", team.ID, "task", task.ID, "check_status", checkStatus.String())
		if err := h.db.RecordGetSkipped(ctx, team.ID, task.ID, checkStatus, skipMsgCheckFailed); err != nil {
			return err
		}
		return h.coord.RecordActionResult(ctx, job.Round, team.ID, task.ID,
			models.ActionGet, checkStatus)
	}

	putStatus, err := h.coord.WaitForPut(ctx, team.ID, task.ID, cfg.RoundTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("put wait failed, running get anyway",
			"round", job.Round, "team", team.ID, "task", task.ID, "err", err)
	}
	if blocksDependents(putStatus) {
		h.log.Info("get skipped after failed put", "round", job.Round,
			"team", team.ID, "task", task.ID, "put_status", putStatus.String())
		if err := h.db.RecordGetSkipped(ctx, team.ID, task.ID, putStatus, skipMsgPutFailed); err != nil {
			return err
		}
		return h.coord.RecordActionResult(ctx, job.Round, team.ID, task.ID,
			models.ActionGet, putStatus)
	}

	// The flag to retrieve was chosen when the job was enqueued.
	var flag *models.Flag
	if job.FlagID != 0 {
		flag, err = h.db.FlagByID(ctx, job.FlagID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
	}
	if flag == nil {
		verdict := models.CheckerVerdict{
			Status:        models.StatusMumble,
			Action:        models.ActionGet,
			PublicMessage: msgFlagNotFound,
		}
		if err := h.db.RecordGet(ctx, team.ID, task.ID, verdict); err != nil {
			return err
		}
		return h.finishAction(ctx, job, verdict)
	}

	verdict := h.runChecker(ctx, task, models.ActionGet, team.IP, flag)
	if err := h.db.RecordGet(ctx, team.ID, task.ID, verdict); err != nil {
		return err
	}
	return h.finishAction(ctx, job, verdict)
}

// blocksDependents reports whether a prerequisite verdict forbids running
// the dependent action at all.
func blocksDependents(status models.TaskStatus) bool {
	return status == models.StatusDown || status == models.StatusCheckFailed
}

func (h *Handlers) runChecker(ctx context.Context, task *models.Task,
	action models.Action, ip string, flag *models.Flag) models.CheckerVerdict {

	start := time.Now()
	verdict := h.runner.Run(ctx, task, action, ip, flag)
	h.metrics.ActionDuration.WithLabelValues(string(action)).
		Observe(time.Since(start).Seconds())
	h.metrics.ActionsTotal.WithLabelValues(string(action), verdict.Status.String()).Inc()
	return verdict
}

// finishAction journals the result for the coordinator/monitor and emits a
// checker_update event for spectators.
func (h *Handlers) finishAction(ctx context.Context, job queue.Job, verdict models.CheckerVerdict) error {
	if err := h.coord.RecordActionResult(ctx, job.Round, job.TeamID, job.TaskID,
		verdict.Action, verdict.Status); err != nil {
		return err
	}
	env := events.NewEnvelope(events.EventCheckerUpdate, events.CheckerUpdate{
		Action:  string(verdict.Action),
		TeamID:  job.TeamID,
		TaskID:  job.TaskID,
		Round:   job.Round,
		Status:  int(verdict.Status),
		Message: verdict.PublicMessage,
	})
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode checker update: %w", err)
	}
	if err := h.bus.Publish(ctx, events.Channel, string(raw)); err != nil {
		h.log.Error("checker update publish failed", "err", err)
	}
	return nil
}

// recordFailure persists the CHECK_FAILED verdict for an action whose
// handler errored, best effort: the job is acked either way, so this record
// is the only trace the round keeps.
func (h *Handlers) recordFailure(ctx context.Context, job queue.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := h.db.RecordActionError(ctx, job.TeamID, job.TaskID, job.Action, cause.Error()); err != nil {
		h.log.Error("failure record failed", "job", job.ID, "err", err)
	}
	if job.Action == models.ActionCheck {
		// Unblock this round's PUT and GET waiters.
		if err := h.coord.SignalCheckComplete(ctx, job.Round, job.TeamID, job.TaskID,
			models.StatusCheckFailed); err != nil {
			h.log.Error("check signal failed", "round", job.Round,
				"team", job.TeamID, "task", job.TaskID, "err", err)
		}
	}
	if err := h.coord.RecordActionResult(ctx, job.Round, job.TeamID, job.TaskID,
		job.Action, models.StatusCheckFailed); err != nil {
		h.log.Error("failure journal failed", "job", job.ID, "err", err)
	}
}

// gameConfig prefers the 60 s cache over Postgres.
func (h *Handlers) gameConfig(ctx context.Context) (*models.GameConfig, error) {
	cfg, err := h.cache.GameConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		h.log.Warn("config cache read failed", "err", err)
	}
	cfg, err = h.db.GameConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.cache.SetGameConfig(ctx, cfg); err != nil {
		h.log.Warn("config cache write failed", "err", err)
	}
	return cfg, nil
}
