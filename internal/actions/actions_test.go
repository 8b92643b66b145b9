package actions

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/checker"
	"github.com/adarena/backend/internal/coordinator"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/models"
	"github.com/adarena/backend/internal/queue"
)

type skipRecord struct {
	status  models.TaskStatus
	message string
}

type errorRecord struct {
	action models.Action
	cause  string
}

type fakeActionStore struct {
	mu       sync.Mutex
	teams    map[int]*models.Team
	tasks    map[int]*models.Task
	cfg      models.GameConfig
	teamTask models.TeamTask

	checks, puts, gets []models.CheckerVerdict
	putSkips, getSkips []skipRecord
	actionErrors       []errorRecord
	flags              map[int]*models.Flag
	nextFlagID         int
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{
		teams: map[int]*models.Team{
			1: {ID: 1, Name: "alpha", IP: "127.0.0.1", Active: true},
		},
		tasks: map[int]*models.Task{
			1: {ID: 1, Name: "web", Puts: 1, Gets: 1, Places: 1,
				CheckerTimeout: 5, Active: true},
		},
		cfg: models.GameConfig{
			GameRunning:  true,
			RealRound:    3,
			RoundTime:    60,
			FlagLifetime: 3,
			FlagPrefix:   "CTF_",
		},
		teamTask:   models.TeamTask{TeamID: 1, TaskID: 1, PutStatus: models.StatusNotChecked},
		flags:      map[int]*models.Flag{},
		nextFlagID: 100,
	}
}

func (f *fakeActionStore) Team(_ context.Context, id int) (*models.Team, error) {
	if t, ok := f.teams[id]; ok {
		return t, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeActionStore) Task(_ context.Context, id int) (*models.Task, error) {
	if t, ok := f.tasks[id]; ok {
		return t, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeActionStore) GameConfig(context.Context) (*models.GameConfig, error) {
	cfg := f.cfg
	return &cfg, nil
}

func (f *fakeActionStore) TeamTask(context.Context, int, int) (*models.TeamTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt := f.teamTask
	return &tt, nil
}

func (f *fakeActionStore) RecordCheck(_ context.Context, _, _ int, v models.CheckerVerdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, v)
	f.teamTask.CheckStatus = v.Status
	return nil
}

func (f *fakeActionStore) RecordPut(_ context.Context, _, _ int, v models.CheckerVerdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, v)
	f.teamTask.PutStatus = v.Status
	return nil
}

func (f *fakeActionStore) RecordGet(_ context.Context, _, _ int, v models.CheckerVerdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, v)
	f.teamTask.GetStatus = v.Status
	return nil
}

func (f *fakeActionStore) RecordPutSkipped(_ context.Context, _, _ int, status models.TaskStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putSkips = append(f.putSkips, skipRecord{status, message})
	f.teamTask.PutStatus = status
	return nil
}

func (f *fakeActionStore) RecordGetSkipped(_ context.Context, _, _ int, status models.TaskStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSkips = append(f.getSkips, skipRecord{status, message})
	f.teamTask.GetStatus = status
	return nil
}

func (f *fakeActionStore) RecordActionError(_ context.Context, _, _ int, action models.Action, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionErrors = append(f.actionErrors, errorRecord{action, cause})
	return nil
}

func (f *fakeActionStore) InsertFlag(_ context.Context, fl *models.Flag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFlagID++
	fl.ID = f.nextFlagID
	cp := *fl
	f.flags[fl.ID] = &cp
	return nil
}

func (f *fakeActionStore) UpdateFlagData(_ context.Context, id int, public, private string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flags[id]
	if !ok {
		return database.ErrNotFound
	}
	fl.PublicFlagData = public
	fl.PrivateFlagData = private
	return nil
}

func (f *fakeActionStore) FlagByID(_ context.Context, id int) (*models.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl, ok := f.flags[id]; ok {
		cp := *fl
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

type actionsFixture struct {
	store   *fakeActionStore
	mem     *cache.Memory
	cache   *cache.Cache
	coord   *coordinator.Coordinator
	h       *Handlers
	checker string
}

// newActionsFixture wires real handlers over an in-memory cache and a shell
// script standing in for the task's checker. The script touches "$0.ran" so
// tests can tell whether the checker executed at all.
func newActionsFixture(t *testing.T, script string) *actionsFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checker.sh")
	require.NoError(t, os.WriteFile(path,
		[]byte("#!/bin/sh\ntouch \"$0.ran\"\n"+script+"\n"), 0o755))

	mem := cache.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeActionStore()
	store.tasks[1].Checker = path
	c := cache.New(mem)
	coord := coordinator.New(mem, mem, store, log)
	h := New(store, c, coord, checker.NewRunner(2, log), mem,
		metrics.New(prometheus.NewRegistry()), log)
	return &actionsFixture{store: store, mem: mem, cache: c, coord: coord,
		h: h, checker: path}
}

func (fx *actionsFixture) checkerRan() bool {
	_, err := os.Stat(fx.checker + ".ran")
	return err == nil
}

func (fx *actionsFixture) signalCheck(t *testing.T, round int, status models.TaskStatus) {
	t.Helper()
	require.NoError(t, fx.coord.SignalCheckComplete(context.Background(), round, 1, 1, status))
	fx.store.teamTask.CheckStatus = status
}

func TestCheckRecordsVerdictAndSignals(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionCheck, 1, 1, 3)))

	require.Len(t, fx.store.checks, 1)
	assert.Equal(t, models.StatusUp, fx.store.checks[0].Status)

	status, err := fx.coord.WaitForCheck(ctx, 3, 1, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUp, status)

	recorded, ok, err := fx.coord.ActionResult(ctx, 3, 1, 1, models.ActionCheck)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusUp, recorded)
}

func TestPutSkippedAfterFailedCheck(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()
	fx.signalCheck(t, 4, models.StatusDown)

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionPut, 1, 1, 4)))

	assert.Empty(t, fx.store.puts)
	assert.Empty(t, fx.store.flags)
	assert.False(t, fx.checkerRan())
	require.Len(t, fx.store.putSkips, 1)
	assert.Equal(t, skipRecord{models.StatusDown, "Skipped: CHECK failed"},
		fx.store.putSkips[0])

	status, ok, err := fx.coord.ActionResult(ctx, 4, 1, 1, models.ActionPut)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusDown, status)
}

func TestPutPlantsFlagBeforeChecker(t *testing.T) {
	// The put checker fails, but the flag it was handed must already be
	// persisted and submittable.
	fx := newActionsFixture(t, "exit 104")
	ctx := context.Background()
	fx.signalCheck(t, 4, models.StatusUp)

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionPut, 1, 1, 4)))

	require.Len(t, fx.store.puts, 1)
	assert.Equal(t, models.StatusDown, fx.store.puts[0].Status)
	require.Len(t, fx.store.flags, 1)
	assert.True(t, fx.checkerRan())

	for _, fl := range fx.store.flags {
		assert.Equal(t, 4, fl.Round)
		cached, err := fx.cache.Flag(ctx, fl.Flag)
		require.NoError(t, err)
		assert.Equal(t, fl.ID, cached.ID)
	}
}

func TestGetSkippedAfterFailedCheck(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()
	fx.signalCheck(t, 5, models.StatusCheckFailed)

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionGet, 1, 1, 5)))

	assert.Empty(t, fx.store.gets)
	assert.False(t, fx.checkerRan())
	require.Len(t, fx.store.getSkips, 1)
	assert.Equal(t, skipRecord{models.StatusCheckFailed, "Skipped: CHECK failed"},
		fx.store.getSkips[0])
}

func TestGetSkippedAfterFailedPut(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()
	fx.signalCheck(t, 5, models.StatusUp)
	fx.store.teamTask.PutStatus = models.StatusDown

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionGet, 1, 1, 5)))

	assert.Empty(t, fx.store.gets)
	assert.False(t, fx.checkerRan())
	require.Len(t, fx.store.getSkips, 1)
	assert.Equal(t, skipRecord{models.StatusDown, "Skipped: PUT failed"},
		fx.store.getSkips[0])
}

func TestGetUnknownFlagIsMumble(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()
	fx.signalCheck(t, 5, models.StatusUp)
	fx.store.teamTask.PutStatus = models.StatusUp

	job := queue.NewJob(models.ActionGet, 1, 1, 5)
	job.FlagID = 999
	require.NoError(t, fx.h.Handle(ctx, job))

	assert.False(t, fx.checkerRan())
	require.Len(t, fx.store.gets, 1)
	assert.Equal(t, models.StatusMumble, fx.store.gets[0].Status)
	assert.Equal(t, "Flag not found", fx.store.gets[0].PublicMessage)
}

func TestGetRetrievesEnqueuedFlag(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()
	fx.signalCheck(t, 5, models.StatusUp)
	fx.store.teamTask.PutStatus = models.StatusUp
	fx.store.flags[7] = &models.Flag{ID: 7, Flag: "CTF_g", TeamID: 1, TaskID: 1, Round: 4}

	job := queue.NewJob(models.ActionGet, 1, 1, 5)
	job.FlagID = 7
	require.NoError(t, fx.h.Handle(ctx, job))

	assert.True(t, fx.checkerRan())
	require.Len(t, fx.store.gets, 1)
	assert.Equal(t, models.StatusUp, fx.store.gets[0].Status)
}

func TestCheckPutGetCascadeWithDeadService(t *testing.T) {
	// A DOWN check ripples through the whole round: the PUT and GET both
	// inherit the code without running, and no flag ever exists.
	fx := newActionsFixture(t, "exit 104")
	ctx := context.Background()

	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionCheck, 1, 1, 6)))
	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionPut, 1, 1, 6)))
	require.NoError(t, fx.h.Handle(ctx, queue.NewJob(models.ActionGet, 1, 1, 6)))

	require.Len(t, fx.store.checks, 1)
	assert.Equal(t, models.StatusDown, fx.store.checks[0].Status)
	assert.Equal(t, []skipRecord{{models.StatusDown, "Skipped: CHECK failed"}}, fx.store.putSkips)
	assert.Equal(t, []skipRecord{{models.StatusDown, "Skipped: CHECK failed"}}, fx.store.getSkips)
	assert.Empty(t, fx.store.flags)
	assert.Empty(t, fx.store.puts)
	assert.Empty(t, fx.store.gets)
}

func TestHandlerFailureRecordsCheckFailed(t *testing.T) {
	fx := newActionsFixture(t, "exit 101")
	ctx := context.Background()

	job := queue.NewJob(models.ActionCheck, 9, 1, 3) // unknown team
	require.Error(t, fx.h.Handle(ctx, job))

	require.Len(t, fx.store.actionErrors, 1)
	assert.Equal(t, models.ActionCheck, fx.store.actionErrors[0].action)
	assert.NotEmpty(t, fx.store.actionErrors[0].cause)

	// The failed CHECK still unblocks this round's waiters.
	status, err := fx.coord.WaitForCheck(ctx, 3, 9, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckFailed, status)

	recorded, ok, err := fx.coord.ActionResult(ctx, 3, 9, 1, models.ActionCheck)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusCheckFailed, recorded)
}
