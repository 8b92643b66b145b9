// Package monitor watches round execution from the outside: it compares the
// action journal against what the ticker scheduled and grades the round's
// health. It never influences the game, it only reports.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/models"
)

type Health string

const (
	HealthWaiting  Health = "WAITING"
	HealthHealthy  Health = "HEALTHY"
	HealthDegraded Health = "DEGRADED"
	HealthCritical Health = "CRITICAL"
)

const (
	// completeThreshold is the fraction of expected actions that must have
	// landed before a round counts as complete. Slack covers GET skips on
	// flagless services.
	completeThreshold = 0.95

	healthyErrorRate  = 0.05
	degradedErrorRate = 0.15

	pollPeriod = 5 * time.Second

	// loggedErrors caps how many failing actions each poll logs in full.
	loggedErrors = 5
)

// Store is the slice of the database layer the monitor reads.
type Store interface {
	GameConfig(ctx context.Context) (*models.GameConfig, error)
	Teams(ctx context.Context) ([]models.Team, error)
	Tasks(ctx context.Context) ([]models.Task, error)
	TeamTask(ctx context.Context, teamID, taskID int) (*models.TeamTask, error)
}

type Monitor struct {
	db    Store
	coord *coordinator.Coordinator
	log   *slog.Logger
}

func New(db Store, coord *coordinator.Coordinator, log *slog.Logger) *Monitor {
	return &Monitor{db: db, coord: coord, log: log}
}

// RoundReport grades one round.
type RoundReport struct {
	Round     int     `json:"round"`
	Expected  int     `json:"expected"`
	Completed int     `json:"completed"`
	Progress  float64 `json:"progress"`
	Complete  bool    `json:"complete"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	Health    Health  `json:"health"`
}

// ExpectedActions is the action count the ticker schedules per round: one
// CHECK per (team, task), plus each task's PUT and GET multiplicities per
// team.
func ExpectedActions(teamCount int, tasks []models.Task) int {
	total := 0
	for _, t := range tasks {
		total += teamCount * (1 + t.Puts + t.Gets)
	}
	return total
}

// Assess is the pure grading rule: progress against the 95% completion bar,
// error rate against the 5%/15% health bands, WAITING before round 1.
func Assess(round, expected, completed, errored int) RoundReport {
	r := RoundReport{
		Round:     round,
		Expected:  expected,
		Completed: completed,
		Errors:    errored,
	}
	if expected > 0 {
		r.Progress = float64(completed) / float64(expected)
	}
	r.Complete = r.Progress >= completeThreshold
	if completed > 0 {
		r.ErrorRate = float64(errored) / float64(completed)
	}
	switch {
	case round == 0:
		r.Health = HealthWaiting
	case r.ErrorRate < healthyErrorRate:
		r.Health = HealthHealthy
	case r.ErrorRate < degradedErrorRate:
		r.Health = HealthDegraded
	default:
		r.Health = HealthCritical
	}
	return r
}

// Report grades one round from the action journal.
func (m *Monitor) Report(ctx context.Context, round int) (*RoundReport, []coordinator.StreamEntry, error) {
	teams, err := m.db.Teams(ctx)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := m.db.Tasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries, err := m.coord.RoundStream(ctx, round)
	if err != nil {
		return nil, nil, err
	}

	errored := 0
	var failing []coordinator.StreamEntry
	for _, e := range entries {
		if e.Status == models.StatusCheckFailed {
			errored++
			failing = append(failing, e)
		}
	}
	report := Assess(round, ExpectedActions(len(teams), tasks), len(entries), errored)
	return &report, failing, nil
}

// Current grades the round in progress.
func (m *Monitor) Current(ctx context.Context) (*RoundReport, []coordinator.StreamEntry, error) {
	cfg, err := m.db.GameConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	return m.Report(ctx, cfg.RealRound)
}

// TeamTaskDetail is the drill-down view for one (round, team, task).
type TeamTaskDetail struct {
	Round       int              `json:"round"`
	TeamID      int              `json:"team_id"`
	TaskID      int              `json:"task_id"`
	CheckDone   bool             `json:"check_done"`
	CheckStatus int              `json:"check_status"`
	PutStatus   int              `json:"put_status"`
	GetStatus   int              `json:"get_status"`
	TeamTask    *models.TeamTask `json:"teamtask"`
}

func (m *Monitor) Detail(ctx context.Context, round, teamID, taskID int) (*TeamTaskDetail, error) {
	d := &TeamTaskDetail{Round: round, TeamID: teamID, TaskID: taskID}
	for _, action := range []models.Action{models.ActionCheck, models.ActionPut, models.ActionGet} {
		status, ok, err := m.coord.ActionResult(ctx, round, teamID, taskID, action)
		if err != nil {
			return nil, err
		}
		switch action {
		case models.ActionCheck:
			d.CheckDone = ok
			d.CheckStatus = int(status)
		case models.ActionPut:
			d.PutStatus = int(status)
		case models.ActionGet:
			d.GetStatus = int(status)
		}
	}
	tt, err := m.db.TeamTask(ctx, teamID, taskID)
	if err != nil {
		return nil, fmt.Errorf("detail teamtask: %w", err)
	}
	d.TeamTask = tt
	return d, nil
}

// Run polls the current round every 5 s until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	tick := time.NewTicker(pollPeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			report, failing, err := m.Current(ctx)
			if err != nil {
				m.log.Error("round poll failed", "err", err)
				continue
			}
			m.log.Info("round health",
				"round", report.Round, "health", report.Health,
				"progress", fmt.Sprintf("%.0f%%", report.Progress*100),
				"completed", report.Completed, "expected", report.Expected,
				"errors", report.Errors)
			for i, e := range failing {
				if i == loggedErrors {
					m.log.Info("more failing actions omitted", "count", len(failing)-loggedErrors)
					break
				}
				m.log.Warn("action failed",
					"team", e.TeamID, "task", e.TaskID, "action", e.Action)
			}
		}
	}
}
