package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/models"
)

func TestEnqueueDequeueAck(t *testing.T) {
	mem := cache.NewMemory()
	q := New(mem)
	ctx := context.Background()

	job := NewJob(models.ActionCheck, 1, 2, 3)
	require.NotEmpty(t, job.ID)
	require.NoError(t, q.Enqueue(ctx, job))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, raw, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	// In flight: gone from the main queue, parked in processing.
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
	parked, err := mem.LLen(ctx, KeyProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), parked)

	require.NoError(t, q.Ack(ctx, raw))
	parked, err = mem.LLen(ctx, KeyProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(0), parked)
}

func TestDequeueOrderIsFIFO(t *testing.T) {
	mem := cache.NewMemory()
	q := New(mem)
	ctx := context.Background()

	first := NewJob(models.ActionCheck, 1, 1, 1)
	second := NewJob(models.ActionPut, 2, 2, 1)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, _, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestDequeueDropsPoisonPayload(t *testing.T) {
	mem := cache.NewMemory()
	q := New(mem)
	ctx := context.Background()

	require.NoError(t, mem.LPush(ctx, KeyJobs, "not json"))

	_, _, err := q.Dequeue(ctx, time.Second)
	require.Error(t, err)

	// The broken payload must not stay parked in processing.
	parked, err := mem.LLen(ctx, KeyProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(0), parked)
}

func TestRecoverPending(t *testing.T) {
	mem := cache.NewMemory()
	q := New(mem)
	ctx := context.Background()

	job := NewJob(models.ActionGet, 3, 4, 5)
	require.NoError(t, q.Enqueue(ctx, job))
	_, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// Simulated crash: the job was never acked. A fresh worker recovers it.
	n, err := q.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestConsumeRunsAndAcks(t *testing.T) {
	mem := cache.NewMemory()
	q := New(mem)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, NewJob(models.ActionCheck, i, 1, 1)))
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	handler := func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = true
		if len(seen) == 5 {
			cancel()
		}
		mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.Consume(ctx, 3, handler, log)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consume never drained the queue")
	}

	assert.Len(t, seen, 5)
	parked, err := mem.LLen(context.Background(), KeyProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(0), parked)
}

func TestGetJobCarriesFlagID(t *testing.T) {
	job := NewJob(models.ActionGet, 1, 1, 4)
	job.FlagID = 77

	mem := cache.NewMemory()
	q := New(mem)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job))

	got, _, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 77, got.FlagID)
}
