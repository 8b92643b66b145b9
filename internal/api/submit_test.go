package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/events"
	"github.com/adarena/backend/internal/metrics"
	"github.com/adarena/backend/internal/models"
)

type fakeSubmitStore struct {
	teams     map[int]*models.Team
	tasks     map[int]*models.Task
	teamTasks map[[2]int]*models.TeamTask
	stolen    map[[2]int]bool
	delta     float64
}

func newFakeSubmitStore() *fakeSubmitStore {
	return &fakeSubmitStore{
		teams:     map[int]*models.Team{},
		tasks:     map[int]*models.Task{},
		teamTasks: map[[2]int]*models.TeamTask{},
		stolen:    map[[2]int]bool{},
		delta:     12.5,
	}
}

func (f *fakeSubmitStore) Team(_ context.Context, id int) (*models.Team, error) {
	if t, ok := f.teams[id]; ok {
		return t, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeSubmitStore) TeamByToken(_ context.Context, token string) (*models.Team, error) {
	for _, t := range f.teams {
		if t.Token == token && t.Active {
			return t, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeSubmitStore) Task(_ context.Context, id int) (*models.Task, error) {
	if t, ok := f.tasks[id]; ok {
		return t, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeSubmitStore) TeamTask(_ context.Context, teamID, taskID int) (*models.TeamTask, error) {
	if tt, ok := f.teamTasks[[2]int{teamID, taskID}]; ok {
		return tt, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeSubmitStore) GameConfig(context.Context) (*models.GameConfig, error) {
	return nil, database.ErrNotFound
}

func (f *fakeSubmitStore) RecalculateRating(_ context.Context, attackerID, _, _, flagID int) (float64, float64, error) {
	key := [2]int{flagID, attackerID}
	if f.stolen[key] {
		return 0, 0, database.ErrAlreadyStolen
	}
	f.stolen[key] = true
	return f.delta, f.delta, nil
}

type submitFixture struct {
	store *fakeSubmitStore
	cache *cache.Cache
	sub   *Submitter
	cfg   *models.GameConfig
}

func newSubmitFixture(t *testing.T) *submitFixture {
	mem := cache.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeSubmitStore()
	c := cache.New(mem)
	fx := &submitFixture{
		store: store,
		cache: c,
		sub: NewSubmitter(store, c, events.NewNotifier(mem, log),
			metrics.New(prometheus.NewRegistry()), log),
		cfg: &models.GameConfig{
			GameRunning:  true,
			RealRound:    5,
			MaxRound:     0,
			FlagLifetime: 3,
			RoundTime:    60,
		},
	}
	store.teams[1] = &models.Team{ID: 1, Name: "alpha", Token: "tok-alpha", Active: true}
	store.teams[2] = &models.Team{ID: 2, Name: "bravo", Token: "tok-bravo", Active: true}
	store.tasks[1] = &models.Task{ID: 1, Name: "web"}
	return fx
}

func (fx *submitFixture) plantFlag(t *testing.T, f models.Flag) {
	t.Helper()
	require.NoError(t, fx.cache.SetFlag(context.Background(), &f,
		fx.cfg.FlagLifetime, fx.cfg.RoundTime))
}

func TestSubmitGameNotRunning(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.cfg.GameRunning = false

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_x")
	assert.False(t, accepted)
	assert.Equal(t, "Game is not available.", msg)
}

func TestSubmitGameFinished(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.cfg.MaxRound = 4
	fx.cfg.RealRound = 5

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_x")
	assert.False(t, accepted)
	assert.Equal(t, "Game has finished. No more flags accepted.", msg)
}

func TestSubmitUnknownFlag(t *testing.T) {
	fx := newSubmitFixture(t)
	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_nope")
	assert.False(t, accepted)
	assert.Equal(t, "Flag is invalid or too old.", msg)
}

func TestSubmitOwnFlag(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.plantFlag(t, models.Flag{ID: 10, Flag: "CTF_own", TeamID: 1, TaskID: 1, Round: 5})

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_own")
	assert.False(t, accepted)
	assert.Equal(t, "Flag is your own", msg)
}

func TestSubmitExpiredFlag(t *testing.T) {
	fx := newSubmitFixture(t)
	// real_round 5, lifetime 3: a round-1 flag is 4 rounds old, past the
	// lifetime.
	fx.plantFlag(t, models.Flag{ID: 11, Flag: "CTF_old", TeamID: 2, TaskID: 1, Round: 1})

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_old")
	assert.False(t, accepted)
	assert.Equal(t, "Flag is too old", msg)
}

func TestSubmitOldestLiveRoundStillScores(t *testing.T) {
	fx := newSubmitFixture(t)
	// real_round 5, lifetime 3: a round-2 flag is exactly at the lifetime
	// limit and still scores.
	fx.plantFlag(t, models.Flag{ID: 12, Flag: "CTF_edge", TeamID: 2, TaskID: 1, Round: 2})

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_edge")
	assert.True(t, accepted)
	assert.Equal(t, "Flag accepted! Earned 12.50 flag points!", msg)
}

func TestSubmitVolgaGuard(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.cfg.VolgaAttacksMode = true
	fx.plantFlag(t, models.Flag{ID: 13, Flag: "CTF_v", TeamID: 2, TaskID: 1, Round: 5})

	fx.store.teamTasks[[2]int{1, 1}] = &models.TeamTask{
		TeamID: 1, TaskID: 1, Status: models.StatusMumble,
	}
	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_v")
	assert.False(t, accepted)
	assert.Equal(t, "Cannot submit flags while service is down", msg)

	fx.store.teamTasks[[2]int{1, 1}].Status = models.StatusUp
	msg, accepted = fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_v")
	assert.True(t, accepted)
	assert.Equal(t, "Flag accepted! Earned 12.50 flag points!", msg)
}

func TestSubmitDuplicateIsAlreadyStolen(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.plantFlag(t, models.Flag{ID: 14, Flag: "CTF_dup", TeamID: 2, TaskID: 1, Round: 5})

	msg, accepted := fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_dup")
	require.True(t, accepted, msg)

	msg, accepted = fx.sub.SubmitFlag(context.Background(), fx.store.teams[1], fx.cfg, "CTF_dup")
	assert.False(t, accepted)
	assert.Equal(t, "Flag already stolen", msg)
}

func TestSubmitEmitsAttackNotification(t *testing.T) {
	mem := cache.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeSubmitStore()
	store.teams[1] = &models.Team{ID: 1, Name: "alpha"}
	store.teams[2] = &models.Team{ID: 2, Name: "bravo"}
	store.tasks[1] = &models.Task{ID: 1, Name: "web"}
	c := cache.New(mem)
	sub := NewSubmitter(store, c, events.NewNotifier(mem, log),
		metrics.New(prometheus.NewRegistry()), log)
	cfg := &models.GameConfig{GameRunning: true, RealRound: 1, FlagLifetime: 3, RoundTime: 60}

	flag := models.Flag{ID: 20, Flag: "CTF_ev", TeamID: 2, TaskID: 1, Round: 1}
	require.NoError(t, c.SetFlag(context.Background(), &flag, cfg.FlagLifetime, cfg.RoundTime))

	subch, err := mem.Subscribe(context.Background(), events.Channel)
	require.NoError(t, err)
	defer subch.Close()

	_, accepted := sub.SubmitFlag(context.Background(), store.teams[1], cfg, "CTF_ev")
	require.True(t, accepted)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		payload := <-subch.Messages()
		if string(payload) != "" {
			if assert.Contains(t, []string{"flag_stolen", "flag_submission"}, eventType(t, payload)) {
				seen[eventType(t, payload)] = true
			}
		}
	}
	assert.True(t, seen["flag_stolen"])
	assert.True(t, seen["flag_submission"])
}

func TestTokenLookupFallsBackToDatabase(t *testing.T) {
	fx := newSubmitFixture(t)

	// Cold cache: no token index has been written yet.
	team, err := fx.sub.TeamByToken(context.Background(), "tok-bravo")
	require.NoError(t, err)
	assert.Equal(t, 2, team.ID)

	_, err = fx.sub.TeamByToken(context.Background(), "tok-unknown")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTokenLookupPrefersCacheIndex(t *testing.T) {
	fx := newSubmitFixture(t)
	require.NoError(t, fx.cache.SetTeams(context.Background(),
		[]models.Team{*fx.store.teams[1], *fx.store.teams[2]}))
	delete(fx.store.teams, 1) // cache hit must not touch the store

	team, err := fx.sub.TeamByToken(context.Background(), "tok-alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, team.ID)
}

func TestTokenLookupRejectsInactiveTeam(t *testing.T) {
	fx := newSubmitFixture(t)
	fx.store.teams[2].Active = false
	require.NoError(t, fx.cache.SetTeams(context.Background(),
		[]models.Team{*fx.store.teams[2]}))

	_, err := fx.sub.TeamByToken(context.Background(), "tok-bravo")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func eventType(t *testing.T, payload string) string {
	t.Helper()
	var env struct {
		EventType string `json:"event_type"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &env))
	return env.EventType
}
