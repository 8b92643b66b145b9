// Package queue is the checker job queue on Redis lists. Producers LPUSH
// onto adarena:jobs; consumers BRPOPLPUSH into adarena:jobs:processing and
// LREM on ack, giving at-least-once delivery across worker crashes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/models"
)

const (
	KeyJobs       = "adarena:jobs"
	KeyProcessing = "adarena:jobs:processing"
)

// Job is one checker action to execute. FlagID is set only for GET jobs and
// names the flag the checker must retrieve.
type Job struct {
	ID     string        `json:"id"`
	Action models.Action `json:"action"`
	TeamID int           `json:"team_id"`
	TaskID int           `json:"task_id"`
	Round  int           `json:"round"`
	FlagID int           `json:"flag_id,omitempty"`
}

func NewJob(action models.Action, teamID, taskID, round int) Job {
	return Job{
		ID:     uuid.NewString(),
		Action: action,
		TeamID: teamID,
		TaskID: taskID,
		Round:  round,
	}
}

type Queue struct {
	store cache.Store
}

func New(store cache.Store) *Queue { return &Queue{store: store} }

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.store.LPush(ctx, KeyJobs, string(raw)); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Depth is the number of jobs waiting (not counting in-flight ones).
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, KeyJobs)
}

// Dequeue blocks up to timeout. The raw payload is returned alongside the
// decoded job because Ack must LREM the exact string.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, string, error) {
	raw, err := q.store.BRPopLPush(ctx, KeyJobs, KeyProcessing, timeout)
	if err != nil {
		return Job{}, "", err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison payload: drop it from processing so it cannot loop.
		_ = q.store.LRem(ctx, KeyProcessing, 1, raw)
		return Job{}, "", fmt.Errorf("decode job %q: %w", raw, err)
	}
	return job, raw, nil
}

func (q *Queue) Ack(ctx context.Context, raw string) error {
	return q.store.LRem(ctx, KeyProcessing, 1, raw)
}

// RecoverPending moves jobs stranded in the processing list by a crashed
// worker back onto the main queue. Run once at worker startup; a job may be
// executed twice as a result, which the action writes tolerate.
func (q *Queue) RecoverPending(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := q.store.BRPopLPush(ctx, KeyProcessing, KeyJobs, time.Millisecond)
		if errors.Is(err, cache.ErrMiss) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover pending: %w", err)
		}
		_ = raw
		n++
	}
}

// Handler executes one job. Errors are logged, never requeued: action
// handlers convert infrastructure failures into CHECK_FAILED records.
type Handler func(ctx context.Context, job Job) error

// Consume runs up to concurrency handlers until ctx is cancelled. Jobs are
// acked after the handler returns regardless of its error.
func (q *Queue) Consume(ctx context.Context, concurrency int, handler Handler, log *slog.Logger) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for ctx.Err() == nil {
		job, raw, err := q.Dequeue(ctx, 2*time.Second)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("dequeue failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(job Job, raw string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := handler(ctx, job); err != nil {
				log.Error("job failed", "job", job.ID, "action", job.Action,
					"team", job.TeamID, "task", job.TaskID, "err", err)
			}
			if err := q.Ack(context.WithoutCancel(ctx), raw); err != nil {
				log.Error("ack failed", "job", job.ID, "err", err)
			}
		}(job, raw)
	}
	wg.Wait()
}
