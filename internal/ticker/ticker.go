// Package ticker drives the game clock. A single ticker process polls every
// 100 ms and fires two gates: the one-shot game start, and a round boundary
// every round_time seconds. Both gates replay from schedule_history, so a
// restarted ticker resumes the cadence instead of firing early or double.
package ticker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/models"
	"github.com/adarena/backend/internal/queue"
)

const pollInterval = 100 * time.Millisecond

const (
	actionStartGame = "start_game"
	actionRounds    = "rounds"
)

// Store is the slice of the database layer the ticker drives.
type Store interface {
	GameConfig(ctx context.Context) (*models.GameConfig, error)
	SetGameRunning(ctx context.Context, running bool) error
	AdvanceRound(ctx context.Context) (int, error)
	RecordScheduleRun(ctx context.Context, action string) error
	LastScheduleRun(ctx context.Context, action string) (sql.NullTime, error)
	ArchiveRound(ctx context.Context, round int) error
	Teams(ctx context.Context) ([]models.Team, error)
	Tasks(ctx context.Context) ([]models.Task, error)
	BuildScoreboard(ctx context.Context, roundStart time.Time) (*database.Scoreboard, error)
	BuildAttackData(ctx context.Context, round, flagLifetime int) (database.AttackData, error)
	RandomFlag(ctx context.Context, teamID, taskID, minRound, maxRound int) (*models.Flag, error)
}

// RoundStats summarizes what one round boundary enqueued.
type RoundStats struct {
	Round  int
	Checks int
	Puts   int
	Gets   int
}

type Ticker struct {
	db      Store
	cache   *cache.Cache
	queue   *queue.Queue
	bus     cache.PubSub
	metrics *metrics.Metrics
	log     *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

func New(db Store, c *cache.Cache, q *queue.Queue, bus cache.PubSub,
	m *metrics.Metrics, log *slog.Logger) *Ticker {
	return &Ticker{db: db, cache: c, queue: q, bus: bus, metrics: m,
		log: log, now: time.Now}
}

// Run polls until ctx is cancelled. Tick errors are logged and retried on
// the next poll; the clock must survive transient storage failures.
func (t *Ticker) Run(ctx context.Context) {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := t.Tick(ctx); err != nil {
				t.log.Error("tick failed", "err", err)
			}
		}
	}
}

// Tick evaluates both gates once.
func (t *Ticker) Tick(ctx context.Context) error {
	cfg, err := t.db.GameConfig(ctx)
	if err != nil {
		return fmt.Errorf("tick config: %w", err)
	}
	now := t.now()

	if !cfg.GameRunning {
		last, err := t.db.LastScheduleRun(ctx, actionStartGame)
		if err != nil {
			return err
		}
		// A pause after the start gate fired stays a pause; only the admin
		// resumes. Rescheduling start_time into the future re-arms the gate:
		// the gate is blocked only by a start that fired for the current
		// start_time or later.
		fired := last.Valid && !last.Time.Before(cfg.StartTime)
		if fired || now.Before(cfg.StartTime) {
			return nil
		}
		return t.startGame(ctx, cfg, now)
	}

	if cfg.MaxRound > 0 && cfg.RealRound > cfg.MaxRound {
		return nil // game over, clock halted
	}

	last, err := t.db.LastScheduleRun(ctx, actionRounds)
	if err != nil {
		return err
	}
	next := cfg.StartTime.Add(time.Duration(cfg.RoundTime) * time.Second)
	if last.Valid {
		next = last.Time.Add(time.Duration(cfg.RoundTime) * time.Second)
	}
	if now.Before(next) {
		return nil
	}

	stats, err := t.ProcessRound(ctx, cfg)
	if err != nil {
		return err
	}
	t.log.Info("round started", "round", stats.Round,
		"checks", stats.Checks, "puts", stats.Puts, "gets", stats.Gets)
	return nil
}

// startGame fires the one-shot start gate: stamp round 0, flip the running
// flag, warm every derived cache (teams, tasks, config, token index), push
// the initial game state, and seed one CHECK per (team, task) so the
// scoreboard shows verdicts before the first round boundary.
func (t *Ticker) startGame(ctx context.Context, cfg *models.GameConfig, now time.Time) error {
	if err := t.cache.SetRealRound(ctx, 0); err != nil {
		return err
	}
	if err := t.cache.SetRoundStart(ctx, 0, now); err != nil {
		return err
	}
	if err := t.db.SetGameRunning(ctx, true); err != nil {
		return err
	}
	if err := t.cache.InvalidateGameConfig(ctx); err != nil {
		t.log.Warn("config invalidation failed", "err", err)
	}

	teams, err := t.db.Teams(ctx)
	if err != nil {
		return err
	}
	tasks, err := t.db.Tasks(ctx)
	if err != nil {
		return err
	}
	if err := t.cache.SetTeams(ctx, teams); err != nil {
		return err
	}
	if err := t.cache.SetTasks(ctx, tasks); err != nil {
		return err
	}

	if err := t.refreshGameState(ctx, now); err != nil {
		return err
	}

	for _, team := range teams {
		for _, task := range tasks {
			if err := t.queue.Enqueue(ctx, queue.NewJob(models.ActionCheck, team.ID, task.ID, 0)); err != nil {
				return err
			}
		}
	}

	if err := t.db.RecordScheduleRun(ctx, actionStartGame); err != nil {
		return err
	}
	t.log.Info("game started", "start_time", cfg.StartTime,
		"teams", len(teams), "tasks", len(tasks))
	return nil
}

// ProcessRound runs one round boundary: advance the round counter, archive
// the finished round, refresh derived state, then enqueue the new round's
// checker jobs. A crash mid-boundary replays the whole boundary because the
// schedule row is written last; every step tolerates re-execution.
func (t *Ticker) ProcessRound(ctx context.Context, cfg *models.GameConfig) (RoundStats, error) {
	round, err := t.db.AdvanceRound(ctx)
	if err != nil {
		return RoundStats{}, err
	}
	now := t.now()
	stats := RoundStats{Round: round}

	if err := t.cache.SetRealRound(ctx, round); err != nil {
		return stats, err
	}
	if err := t.cache.SetRoundStart(ctx, round, now); err != nil {
		return stats, err
	}
	if err := t.cache.InvalidateGameConfig(ctx); err != nil {
		t.log.Warn("config invalidation failed", "err", err)
	}

	if round > 1 {
		if err := t.db.ArchiveRound(ctx, round-1); err != nil {
			return stats, err
		}
	}

	attackData, err := t.db.BuildAttackData(ctx, round, cfg.FlagLifetime)
	if err != nil {
		return stats, err
	}
	rawAttack, err := json.Marshal(attackData)
	if err != nil {
		return stats, fmt.Errorf("encode attack data: %w", err)
	}
	if err := t.cache.SetAttackData(ctx, rawAttack); err != nil {
		return stats, err
	}

	if err := t.refreshGameState(ctx, now); err != nil {
		return stats, err
	}

	finished := cfg.MaxRound > 0 && round > cfg.MaxRound
	if finished {
		t.log.Info("max round reached, halting clock", "round", round,
			"max_round", cfg.MaxRound)
	} else {
		teams, err := t.db.Teams(ctx)
		if err != nil {
			return stats, err
		}
		tasks, err := t.db.Tasks(ctx)
		if err != nil {
			return stats, err
		}
		if err := t.enqueueRound(ctx, round, cfg, teams, tasks, &stats); err != nil {
			return stats, err
		}
	}

	if err := t.db.RecordScheduleRun(ctx, actionRounds); err != nil {
		return stats, err
	}
	t.metrics.RoundsTotal.Inc()
	return stats, nil
}

// enqueueRound emits one CHECK, puts PUTs and gets GETs per (team, task).
// Each GET carries the id of a random live flag, chosen here; with no live
// flag in the window there is nothing to retrieve and no GET is enqueued.
func (t *Ticker) enqueueRound(ctx context.Context, round int, cfg *models.GameConfig,
	teams []models.Team, tasks []models.Task, stats *RoundStats) error {

	minRound := round - cfg.FlagLifetime
	if minRound < 1 {
		minRound = 1
	}
	for _, team := range teams {
		for _, task := range tasks {
			if err := t.queue.Enqueue(ctx, queue.NewJob(models.ActionCheck, team.ID, task.ID, round)); err != nil {
				return err
			}
			stats.Checks++
			for i := 0; i < task.Puts; i++ {
				if err := t.queue.Enqueue(ctx, queue.NewJob(models.ActionPut, team.ID, task.ID, round)); err != nil {
					return err
				}
				stats.Puts++
			}
			for i := 0; i < task.Gets; i++ {
				flag, err := t.db.RandomFlag(ctx, team.ID, task.ID, minRound, round)
				if errors.Is(err, database.ErrNotFound) {
					t.log.Info("get not enqueued, no live flag",
						"round", round, "team", team.ID, "task", task.ID)
					break
				}
				if err != nil {
					return err
				}
				job := queue.NewJob(models.ActionGet, team.ID, task.ID, round)
				job.FlagID = flag.ID
				if err := t.queue.Enqueue(ctx, job); err != nil {
					return err
				}
				stats.Gets++
			}
		}
	}
	return nil
}

// refreshGameState rebuilds the scoreboard blob and pushes it to
// spectators.
func (t *Ticker) refreshGameState(ctx context.Context, roundStart time.Time) error {
	sb, err := t.db.BuildScoreboard(ctx, roundStart)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("encode scoreboard: %w", err)
	}
	if err := t.cache.SetGameState(ctx, raw); err != nil {
		return err
	}
	env, err := json.Marshal(events.NewEnvelope(events.EventScoreboardUpdate, sb))
	if err != nil {
		return fmt.Errorf("encode scoreboard event: %w", err)
	}
	if err := t.bus.Publish(ctx, events.Channel, string(env)); err != nil {
		t.log.Error("scoreboard publish failed", "err", err)
	}
	return nil
}
