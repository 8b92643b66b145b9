// Package coordinator sequences the three checker actions within a round.
// PUT and GET must observe their round's CHECK verdict before running; the
// coordinator signals completion over Redis and falls back to polling
// Postgres when the signal is missed, so a dropped pub/sub message can only
// slow an action down, never wedge it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/models"
)

const (
	checkCompleteTTL = 300 * time.Second
	actionRecordTTL  = 600 * time.Second
	streamMaxLen     = 10000
)

func checkCompleteKey(round, teamID, taskID int) string {
	return fmt.Sprintf("check_complete:%d:%d:%d", round, teamID, taskID)
}

func checkDoneChannel(round, teamID, taskID int) string {
	return fmt.Sprintf("check_done:%d:%d:%d", round, teamID, taskID)
}

func actionResultKey(round, teamID, taskID int, action models.Action) string {
	return fmt.Sprintf("action_result:%d:%d:%d:%s", round, teamID, taskID, action)
}

func roundTrackingKey(round int) string {
	return fmt.Sprintf("round_tracking:%d", round)
}

// StreamKey is the capped per-round stream of action results the monitor
// reads.
func StreamKey(round int) string {
	return fmt.Sprintf("action_stream:%d", round)
}

// TeamTaskSource is the Postgres fallback for completion polling.
type TeamTaskSource interface {
	TeamTask(ctx context.Context, teamID, taskID int) (*models.TeamTask, error)
}

type Coordinator struct {
	store  cache.Store
	pubsub cache.PubSub
	db     TeamTaskSource
	log    *slog.Logger
}

func New(store cache.Store, pubsub cache.PubSub, db TeamTaskSource, log *slog.Logger) *Coordinator {
	return &Coordinator{store: store, pubsub: pubsub, db: db, log: log}
}

// SignalCheckComplete records the CHECK verdict and wakes waiters. The key
// write comes first: a waiter that subscribes after the publish still finds
// the key on its fast path.
func (c *Coordinator) SignalCheckComplete(ctx context.Context, round, teamID, taskID int, status models.TaskStatus) error {
	key := checkCompleteKey(round, teamID, taskID)
	if err := c.store.Set(ctx, key, strconv.Itoa(int(status)), checkCompleteTTL); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if err := c.pubsub.Publish(ctx, checkDoneChannel(round, teamID, taskID), strconv.Itoa(int(status))); err != nil {
		return fmt.Errorf("publish check done: %w", err)
	}
	return nil
}

// WaitForCheck blocks until this round's CHECK verdict is known: completion
// key, then pub/sub with a timeout of 60% of the round, then bounded
// backoff polling against Postgres. Returns StatusNotChecked when the
// verdict never appeared; callers proceed with their action regardless.
func (c *Coordinator) WaitForCheck(ctx context.Context, round, teamID, taskID, roundTime int) (models.TaskStatus, error) {
	key := checkCompleteKey(round, teamID, taskID)
	if v, err := c.store.Get(ctx, key); err == nil {
		return parseStatus(v), nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return models.StatusNotChecked, err
	}

	status, ok, err := c.waitPubSub(ctx, round, teamID, taskID, key, waitTimeout(roundTime))
	if err != nil {
		return models.StatusNotChecked, err
	}
	if ok {
		return status, nil
	}

	c.log.Warn("check signal missed, polling database",
		"round", round, "team", teamID, "task", taskID)
	return c.pollStatus(ctx, roundTime, func(ctx context.Context) (models.TaskStatus, error) {
		tt, err := c.db.TeamTask(ctx, teamID, taskID)
		if err != nil {
			return models.StatusNotChecked, err
		}
		return tt.CheckStatus, nil
	})
}

func (c *Coordinator) waitPubSub(ctx context.Context, round, teamID, taskID int, key string, timeout time.Duration) (models.TaskStatus, bool, error) {
	sub, err := c.pubsub.Subscribe(ctx, checkDoneChannel(round, teamID, taskID))
	if err != nil {
		return models.StatusNotChecked, false, err
	}
	defer sub.Close()

	// The signal may have landed between the fast path and the subscribe.
	if v, err := c.store.Get(ctx, key); err == nil {
		return parseStatus(v), true, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return models.StatusNotChecked, false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, open := <-sub.Messages():
		if !open {
			return models.StatusNotChecked, false, nil
		}
		return parseStatus(msg), true, nil
	case <-timer.C:
		return models.StatusNotChecked, false, nil
	case <-ctx.Done():
		return models.StatusNotChecked, false, ctx.Err()
	}
}

// WaitForPut polls Postgres for this round's PUT verdict. PUT completion is
// never signalled over pub/sub because a round can run several PUTs.
func (c *Coordinator) WaitForPut(ctx context.Context, teamID, taskID, roundTime int) (models.TaskStatus, error) {
	return c.pollStatus(ctx, roundTime, func(ctx context.Context) (models.TaskStatus, error) {
		tt, err := c.db.TeamTask(ctx, teamID, taskID)
		if err != nil {
			return models.StatusNotChecked, err
		}
		return tt.PutStatus, nil
	})
}

func (c *Coordinator) pollStatus(ctx context.Context, roundTime int, fetch func(context.Context) (models.TaskStatus, error)) (models.TaskStatus, error) {
	retries, delay := BackoffSchedule(roundTime)
	last := models.StatusNotChecked
	for i := 0; i <= retries; i++ {
		status, err := fetch(ctx)
		if err == nil {
			if status != models.StatusNotChecked {
				return status, nil
			}
			last = status
		} else {
			c.log.Warn("status poll failed", "attempt", i, "err", err)
		}
		if i == retries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return last, ctx.Err()
		}
		delay *= 2
	}
	return last, nil
}

// RecordActionResult journals a finished action three ways: a per-action
// key for point lookups, a per-round hash for aggregate views, and the
// capped stream the monitor consumes.
func (c *Coordinator) RecordActionResult(ctx context.Context, round, teamID, taskID int, action models.Action, status models.TaskStatus) error {
	statusStr := strconv.Itoa(int(status))
	key := actionResultKey(round, teamID, taskID, action)
	if err := c.store.Set(ctx, key, statusStr, actionRecordTTL); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	tracking := roundTrackingKey(round)
	field := fmt.Sprintf("%d:%d:%s", teamID, taskID, action)
	if err := c.store.HSet(ctx, tracking, map[string]string{field: statusStr}); err != nil {
		return fmt.Errorf("hset %s: %w", tracking, err)
	}
	if err := c.store.Expire(ctx, tracking, actionRecordTTL); err != nil {
		return fmt.Errorf("expire %s: %w", tracking, err)
	}

	if err := c.store.XAdd(ctx, StreamKey(round), streamMaxLen, map[string]string{
		"team_id": strconv.Itoa(teamID),
		"task_id": strconv.Itoa(taskID),
		"action":  string(action),
		"status":  statusStr,
		"ts":      strconv.FormatInt(time.Now().Unix(), 10),
	}); err != nil {
		return fmt.Errorf("xadd %s: %w", StreamKey(round), err)
	}
	return nil
}

// ActionResult returns the recorded status for one action, or
// StatusNotChecked and false when no record exists (expired or never ran).
func (c *Coordinator) ActionResult(ctx context.Context, round, teamID, taskID int, action models.Action) (models.TaskStatus, bool, error) {
	v, err := c.store.Get(ctx, actionResultKey(round, teamID, taskID, action))
	if errors.Is(err, cache.ErrMiss) {
		return models.StatusNotChecked, false, nil
	}
	if err != nil {
		return models.StatusNotChecked, false, err
	}
	return parseStatus(v), true, nil
}

// IsRoundComplete reports whether the CHECK record exists for (team, task)
// in the round.
func (c *Coordinator) IsRoundComplete(ctx context.Context, round, teamID, taskID int) (bool, error) {
	_, ok, err := c.ActionResult(ctx, round, teamID, taskID, models.ActionCheck)
	return ok, err
}

// StreamEntry is one journalled action from the per-round stream.
type StreamEntry struct {
	TeamID int
	TaskID int
	Action models.Action
	Status models.TaskStatus
	Unix   int64
}

// RoundStream decodes the full action stream for a round.
func (c *Coordinator) RoundStream(ctx context.Context, round int) ([]StreamEntry, error) {
	msgs, err := c.store.XRange(ctx, StreamKey(round))
	if err != nil {
		return nil, fmt.Errorf("xrange round %d: %w", round, err)
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		var e StreamEntry
		e.TeamID, _ = strconv.Atoi(m["team_id"])
		e.TaskID, _ = strconv.Atoi(m["task_id"])
		e.Action = models.Action(m["action"])
		e.Status = parseStatus(m["status"])
		e.Unix, _ = strconv.ParseInt(m["ts"], 10, 64)
		out = append(out, e)
	}
	return out, nil
}

func parseStatus(v string) models.TaskStatus {
	n, err := strconv.Atoi(v)
	if err != nil {
		return models.StatusNotChecked
	}
	return models.TaskStatus(n)
}

// waitTimeout is 60% of the round, unless CHECK_WAIT_TIMEOUT (seconds)
// overrides it.
func waitTimeout(roundTime int) time.Duration {
	if v := os.Getenv("CHECK_WAIT_TIMEOUT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return time.Duration(n * float64(time.Second))
		}
	}
	return time.Duration(float64(roundTime)*0.6) * time.Second
}

// BackoffSchedule sizes the Postgres polling fallback from the round
// length: longer rounds tolerate more retries and longer first delays.
// MAX_RETRIES and INITIAL_BACKOFF (seconds) override the derived values.
func BackoffSchedule(roundTime int) (retries int, initial time.Duration) {
	switch {
	case roundTime <= 60:
		retries = 2
	case roundTime <= 120:
		retries = 3
	case roundTime <= 300:
		retries = 5
	default:
		retries = 7
	}
	d := 0.015 * float64(roundTime)
	if d < 0.5 {
		d = 0.5
	}
	if d > 5.0 {
		d = 5.0
	}
	initial = time.Duration(d * float64(time.Second))

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			retries = n
		}
	}
	if v := os.Getenv("INITIAL_BACKOFF"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			initial = time.Duration(n * float64(time.Second))
		}
	}
	return retries, initial
}
