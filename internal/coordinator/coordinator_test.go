package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/models"
)

type fakeTeamTasks struct {
	tt    map[[2]int]*models.TeamTask
	calls int
}

func (f *fakeTeamTasks) TeamTask(_ context.Context, teamID, taskID int) (*models.TeamTask, error) {
	f.calls++
	tt, ok := f.tt[[2]int{teamID, taskID}]
	if !ok {
		return &models.TeamTask{TeamID: teamID, TaskID: taskID,
			CheckStatus: models.StatusNotChecked,
			PutStatus:   models.StatusNotChecked}, nil
	}
	return tt, nil
}

func newTestCoordinator(db TeamTaskSource) (*Coordinator, *cache.Memory) {
	mem := cache.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(mem, mem, db, log), mem
}

func TestSignalThenWaitFastPath(t *testing.T) {
	c, _ := newTestCoordinator(&fakeTeamTasks{})
	ctx := context.Background()

	require.NoError(t, c.SignalCheckComplete(ctx, 3, 1, 2, models.StatusUp))

	status, err := c.WaitForCheck(ctx, 3, 1, 2, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUp, status)
}

func TestWaitWokenByPublish(t *testing.T) {
	c, _ := newTestCoordinator(&fakeTeamTasks{})
	ctx := context.Background()

	done := make(chan models.TaskStatus, 1)
	go func() {
		status, err := c.WaitForCheck(ctx, 5, 2, 3, 60)
		require.NoError(t, err)
		done <- status
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.SignalCheckComplete(ctx, 5, 2, 3, models.StatusMumble))

	select {
	case status := <-done:
		assert.Equal(t, models.StatusMumble, status)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestWaitFallsBackToDatabase(t *testing.T) {
	t.Setenv("CHECK_WAIT_TIMEOUT", "0.05")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("INITIAL_BACKOFF", "0.01")

	db := &fakeTeamTasks{tt: map[[2]int]*models.TeamTask{
		{4, 9}: {TeamID: 4, TaskID: 9, CheckStatus: models.StatusDown},
	}}
	c, _ := newTestCoordinator(db)

	status, err := c.WaitForCheck(context.Background(), 1, 4, 9, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDown, status)
	assert.Greater(t, db.calls, 0)
}

func TestWaitNeverCompleted(t *testing.T) {
	t.Setenv("CHECK_WAIT_TIMEOUT", "0.05")
	t.Setenv("MAX_RETRIES", "1")
	t.Setenv("INITIAL_BACKOFF", "0.01")

	c, _ := newTestCoordinator(&fakeTeamTasks{})
	status, err := c.WaitForCheck(context.Background(), 1, 1, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotChecked, status)
}

func TestWaitForPutPollsDatabase(t *testing.T) {
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("INITIAL_BACKOFF", "0.01")

	db := &fakeTeamTasks{tt: map[[2]int]*models.TeamTask{
		{1, 1}: {TeamID: 1, TaskID: 1, PutStatus: models.StatusUp},
	}}
	c, _ := newTestCoordinator(db)

	status, err := c.WaitForPut(context.Background(), 1, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUp, status)
}

func TestRecordAndReadActionResults(t *testing.T) {
	c, _ := newTestCoordinator(&fakeTeamTasks{})
	ctx := context.Background()

	require.NoError(t, c.RecordActionResult(ctx, 2, 1, 1, models.ActionCheck, models.StatusUp))
	require.NoError(t, c.RecordActionResult(ctx, 2, 1, 1, models.ActionPut, models.StatusCheckFailed))

	status, ok, err := c.ActionResult(ctx, 2, 1, 1, models.ActionCheck)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusUp, status)

	_, ok, err = c.ActionResult(ctx, 2, 1, 1, models.ActionGet)
	require.NoError(t, err)
	assert.False(t, ok)

	complete, err := c.IsRoundComplete(ctx, 2, 1, 1)
	require.NoError(t, err)
	assert.True(t, complete)

	complete, err = c.IsRoundComplete(ctx, 2, 9, 9)
	require.NoError(t, err)
	assert.False(t, complete)

	entries, err := c.RoundStream(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionCheck, entries[0].Action)
	assert.Equal(t, models.StatusCheckFailed, entries[1].Status)
	assert.Equal(t, 1, entries[0].TeamID)
}

func TestBackoffSchedule(t *testing.T) {
	t.Setenv("MAX_RETRIES", "")
	t.Setenv("INITIAL_BACKOFF", "")

	cases := []struct {
		roundTime   int
		wantRetries int
		wantInitial time.Duration
	}{
		{30, 2, 500 * time.Millisecond}, // floor
		{60, 2, 900 * time.Millisecond},
		{100, 3, 1500 * time.Millisecond},
		{200, 5, 3 * time.Second},
		{600, 7, 5 * time.Second}, // ceiling
	}
	for _, tc := range cases {
		retries, initial := BackoffSchedule(tc.roundTime)
		assert.Equal(t, tc.wantRetries, retries, "round_time=%d", tc.roundTime)
		assert.Equal(t, tc.wantInitial, initial, "round_time=%d", tc.roundTime)
	}
}

func TestBackoffScheduleEnvOverride(t *testing.T) {
	t.Setenv("MAX_RETRIES", "10")
	t.Setenv("INITIAL_BACKOFF", "2.5")

	retries, initial := BackoffSchedule(60)
	assert.Equal(t, 10, retries)
	assert.Equal(t, 2500*time.Millisecond, initial)
}
