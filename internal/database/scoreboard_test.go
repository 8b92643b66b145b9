package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adarena/backend/internal/models"
)

func TestAssembleScoreboard(t *testing.T) {
	cfg := &models.GameConfig{
		RealRound:    7,
		GameRunning:  true,
		MaxRound:     100,
		RoundTime:    60,
		FlagLifetime: 5,
		Timezone:     "UTC",
	}
	roundStart := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	teams := []models.Team{
		{ID: 1, Name: "alpha", IP: "10.0.0.1"},
		{ID: 2, Name: "bravo", IP: "10.0.0.2"},
	}
	tasks := []models.Task{{ID: 1, Name: "web"}, {ID: 2, Name: "crypto"}}
	teamTasks := []models.TeamTask{
		// alpha: perfect SLA on web, half SLA on crypto.
		{TeamID: 1, TaskID: 1, Score: 1000, Checks: 10, ChecksPassed: 10,
			Status: models.StatusUp, PublicMessage: "Service operational"},
		{TeamID: 1, TaskID: 2, Score: 1000, Checks: 10, ChecksPassed: 5,
			Status: models.StatusMumble},
		// bravo: perfect everywhere but lower scores.
		{TeamID: 2, TaskID: 1, Score: 900, Checks: 10, ChecksPassed: 10,
			Status: models.StatusUp},
		{TeamID: 2, TaskID: 2, Score: 700, Checks: 10, ChecksPassed: 10,
			Status: models.StatusUp},
	}

	sb := AssembleScoreboard(cfg, roundStart, teams, tasks, teamTasks)

	assert.Equal(t, 7, sb.State.Round)
	assert.Equal(t, roundStart.Unix(), sb.State.RoundStart)
	assert.True(t, sb.State.GameRunning)
	assert.Equal(t, 60, sb.Config.RoundTime)
	require.Len(t, sb.Tasks, 2)

	// bravo: 900 + 700 = 1600; alpha: 1000 + 1000*0.5 = 1500.
	require.Len(t, sb.Teams, 2)
	assert.Equal(t, "bravo", sb.Teams[0].Name)
	assert.InDelta(t, 1600, sb.Teams[0].Score, 1e-9)
	assert.Equal(t, "alpha", sb.Teams[1].Name)
	assert.InDelta(t, 1500, sb.Teams[1].Score, 1e-9)

	alpha := sb.Teams[1]
	require.Len(t, alpha.Tasks, 2)
	assert.Equal(t, 1, alpha.Tasks[0].TaskID)
	assert.InDelta(t, 1.0, alpha.Tasks[0].SLA, 1e-9)
	assert.Equal(t, int(models.StatusMumble), alpha.Tasks[1].Status)
	assert.InDelta(t, 0.5, alpha.Tasks[1].SLA, 1e-9)
	assert.Equal(t, "Service operational", alpha.Tasks[0].Message)
}

func TestAssembleScoreboardBeforeFirstRound(t *testing.T) {
	cfg := &models.GameConfig{RealRound: 0, RoundTime: 60, FlagLifetime: 5}
	sb := AssembleScoreboard(cfg, time.Time{}, nil, nil, nil)
	assert.Equal(t, int64(0), sb.State.RoundStart)
	assert.Equal(t, 0, sb.State.Round)
	assert.Empty(t, sb.Teams)
}

func TestAssembleScoreboardTieBreaksByID(t *testing.T) {
	cfg := &models.GameConfig{RealRound: 1, RoundTime: 60, FlagLifetime: 5}
	teams := []models.Team{{ID: 2, Name: "bravo"}, {ID: 1, Name: "alpha"}}
	sb := AssembleScoreboard(cfg, time.Time{}, teams, nil, nil)
	require.Len(t, sb.Teams, 2)
	assert.Equal(t, 1, sb.Teams[0].ID)
	assert.Equal(t, 2, sb.Teams[1].ID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	assert.Equal(t, "", truncate("", 5))
}
