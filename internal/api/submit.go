// Package api holds the HTTP surface: the flag receiver, the public client
// endpoints, the admin panel and the monitor views.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/models"
)

// Verdict messages are a protocol: exploit frameworks match on them.
// Changing any string breaks tooling in the wild.
const (
	msgGameNotAvailable = "Game is not available."
	msgGameFinished     = "Game has finished. No more flags accepted."
	msgFlagInvalid      = "Flag is invalid or too old."
	msgFlagOwn          = "Flag is your own"
	msgFlagTooOld       = "Flag is too old"
	msgServiceDown      = "Cannot submit flags while service is down"
	msgAlreadyStolen    = "Flag already stolen"
	msgAcceptedFormat   = "Flag accepted! Earned %.2f flag points!"
)

// MaxFlagsPerRequest bounds one submission batch.
const MaxFlagsPerRequest = 100

// SubmitStore is the database slice the submission pipeline needs.
type SubmitStore interface {
	Team(ctx context.Context, id int) (*models.Team, error)
	TeamByToken(ctx context.Context, token string) (*models.Team, error)
	Task(ctx context.Context, id int) (*models.Task, error)
	TeamTask(ctx context.Context, teamID, taskID int) (*models.TeamTask, error)
	GameConfig(ctx context.Context) (*models.GameConfig, error)
	RecalculateRating(ctx context.Context, attackerID, victimID, taskID, flagID int) (attackerDelta, victimDelta float64, err error)
}

// Submitter validates and scores submitted flags.
type Submitter struct {
	db       SubmitStore
	cache    *cache.Cache
	notifier *events.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewSubmitter(db SubmitStore, c *cache.Cache, n *events.Notifier,
	m *metrics.Metrics, log *slog.Logger) *Submitter {
	return &Submitter{db: db, cache: c, notifier: n, metrics: m, log: log}
}

// SubmitFlag runs one flag through the full pipeline and returns the
// verdict message. Checks run cheapest-first; the stored procedure is only
// reached by flags that could still score.
func (s *Submitter) SubmitFlag(ctx context.Context, attacker *models.Team,
	cfg *models.GameConfig, flagStr string) (msg string, accepted bool) {

	defer func() {
		result := "rejected"
		if accepted {
			result = "accepted"
		}
		s.metrics.SubmissionsTotal.WithLabelValues(result).Inc()
		s.notifier.NotifySubmission(ctx, events.FlagSubmission{
			TeamID:   attacker.ID,
			TeamName: attacker.Name,
			Accepted: accepted,
			Message:  msg,
		})
	}()

	if !cfg.GameRunning {
		return msgGameNotAvailable, false
	}
	if cfg.MaxRound > 0 && cfg.RealRound > cfg.MaxRound {
		return msgGameFinished, false
	}

	flag, err := s.cache.Flag(ctx, flagStr)
	if errors.Is(err, cache.ErrMiss) {
		return msgFlagInvalid, false
	}
	if err != nil {
		s.log.Error("flag lookup failed", "err", err)
		return internalError(err), false
	}

	if flag.TeamID == attacker.ID {
		return msgFlagOwn, false
	}
	// A flag stays live for flag_lifetime rounds after the one it was
	// planted in; exactly at the limit it still scores.
	if cfg.RealRound-flag.Round > cfg.FlagLifetime {
		return msgFlagTooOld, false
	}

	if cfg.VolgaAttacksMode {
		tt, err := s.db.TeamTask(ctx, attacker.ID, flag.TaskID)
		if err != nil {
			s.log.Error("volga guard lookup failed", "err", err)
			return internalError(err), false
		}
		if tt.Status != models.StatusUp {
			return msgServiceDown, false
		}
	}

	attackerDelta, victimDelta, err := s.db.RecalculateRating(ctx, attacker.ID, flag.TeamID, flag.TaskID, flag.ID)
	if errors.Is(err, database.ErrAlreadyStolen) {
		return msgAlreadyStolen, false
	}
	if err != nil {
		s.log.Error("rating recalculation failed", "err", err)
		return internalError(err), false
	}

	s.log.Debug("flag captured", "attacker", attacker.ID, "victim", flag.TeamID,
		"task", flag.TaskID, "gain", attackerDelta, "loss", victimDelta)
	s.notifyAttack(ctx, attacker, flag, attackerDelta)
	return fmt.Sprintf(msgAcceptedFormat, attackerDelta), true
}

func (s *Submitter) notifyAttack(ctx context.Context, attacker *models.Team,
	flag *models.Flag, delta float64) {

	victimName := ""
	if victim, err := s.db.Team(ctx, flag.TeamID); err == nil {
		victimName = victim.Name
	}
	taskName := ""
	if task, err := s.db.Task(ctx, flag.TaskID); err == nil {
		taskName = task.Name
	}
	s.notifier.NotifyAttack(ctx, events.AttackNotification{
		AttackerID:   attacker.ID,
		AttackerName: attacker.Name,
		VictimID:     flag.TeamID,
		VictimName:   victimName,
		TaskID:       flag.TaskID,
		TaskName:     taskName,
		Points:       delta,
		Timestamp:    time.Now().UTC(),
	})
}

// GameConfig resolves the config through the cache with Postgres fallback.
func (s *Submitter) GameConfig(ctx context.Context) (*models.GameConfig, error) {
	cfg, err := s.cache.GameConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("config cache read failed", "err", err)
	}
	cfg, err = s.db.GameConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetGameConfig(ctx, cfg); err != nil {
		s.log.Warn("config cache write failed", "err", err)
	}
	return cfg, nil
}

// TeamByToken resolves a submission token. The cache index is the fast
// path; a miss falls back to the teams table so a cold cache never turns
// valid tokens away. Inactive teams are rejected either way.
func (s *Submitter) TeamByToken(ctx context.Context, token string) (*models.Team, error) {
	team, err := s.cache.TeamByToken(ctx, token)
	if err == nil {
		if !team.Active {
			return nil, database.ErrNotFound
		}
		return team, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("token cache read failed", "err", err)
	}
	return s.db.TeamByToken(ctx, token)
}

func internalError(err error) string {
	return "Internal error: " + err.Error()
}
