package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adarena/backend/internal/models"
)

// Scoreboard is the game_state blob cached in Redis and pushed to
// /ws/game_events clients.
type Scoreboard struct {
	State  ScoreboardState  `json:"state"`
	Teams  []ScoreboardTeam `json:"teams"`
	Tasks  []ScoreboardTask `json:"tasks"`
	Config ScoreboardConfig `json:"config"`
}

type ScoreboardState struct {
	Round       int   `json:"round"`
	RoundStart  int64 `json:"round_start"` // unix seconds, 0 before round 1
	GameRunning bool  `json:"game_running"`
}

type ScoreboardTeam struct {
	ID    int                  `json:"id"`
	Name  string               `json:"name"`
	IP    string               `json:"ip"`
	Score float64              `json:"score"`
	Tasks []ScoreboardTeamTask `json:"tasks"`
}

type ScoreboardTeamTask struct {
	TaskID       int     `json:"task_id"`
	Status       int     `json:"status"`
	Score        float64 `json:"score"`
	Stolen       int     `json:"stolen"`
	Lost         int     `json:"lost"`
	SLA          float64 `json:"sla"`
	Checks       int     `json:"checks"`
	ChecksPassed int     `json:"checks_passed"`
	Message      string  `json:"message"`
}

type ScoreboardTask struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ScoreboardConfig struct {
	MaxRound     int    `json:"max_round"`
	RoundTime    int    `json:"round_time"`
	FlagLifetime int    `json:"flag_lifetime"`
	Timezone     string `json:"timezone"`
}

// AssembleScoreboard builds the scoreboard from already-loaded rows. A
// team's total is the sum over tasks of score weighted by SLA, so downtime
// costs points in the ranking without touching the stored score. Teams are
// ordered by total descending, id ascending on ties.
func AssembleScoreboard(cfg *models.GameConfig, roundStart time.Time,
	teams []models.Team, tasks []models.Task, teamTasks []models.TeamTask) *Scoreboard {

	byTeam := make(map[int][]models.TeamTask, len(teams))
	for _, tt := range teamTasks {
		byTeam[tt.TeamID] = append(byTeam[tt.TeamID], tt)
	}

	sb := &Scoreboard{
		State: ScoreboardState{
			Round:       cfg.RealRound,
			GameRunning: cfg.GameRunning,
		},
		Config: ScoreboardConfig{
			MaxRound:     cfg.MaxRound,
			RoundTime:    cfg.RoundTime,
			FlagLifetime: cfg.FlagLifetime,
			Timezone:     cfg.Timezone,
		},
	}
	if !roundStart.IsZero() {
		sb.State.RoundStart = roundStart.Unix()
	}

	for _, t := range tasks {
		sb.Tasks = append(sb.Tasks, ScoreboardTask{ID: t.ID, Name: t.Name})
	}

	for _, tm := range teams {
		row := ScoreboardTeam{ID: tm.ID, Name: tm.Name, IP: tm.IP}
		tts := byTeam[tm.ID]
		sort.Slice(tts, func(i, j int) bool { return tts[i].TaskID < tts[j].TaskID })
		for i := range tts {
			tt := &tts[i]
			sla := tt.SLA()
			row.Tasks = append(row.Tasks, ScoreboardTeamTask{
				TaskID:       tt.TaskID,
				Status:       int(tt.Status),
				Score:        tt.Score,
				Stolen:       tt.Stolen,
				Lost:         tt.Lost,
				SLA:          sla,
				Checks:       tt.Checks,
				ChecksPassed: tt.ChecksPassed,
				Message:      tt.PublicMessage,
			})
			row.Score += tt.Score * sla
		}
		sb.Teams = append(sb.Teams, row)
	}

	sort.SliceStable(sb.Teams, func(i, j int) bool {
		if sb.Teams[i].Score != sb.Teams[j].Score {
			return sb.Teams[i].Score > sb.Teams[j].Score
		}
		return sb.Teams[i].ID < sb.Teams[j].ID
	})
	return sb
}

// BuildScoreboard loads everything the scoreboard needs and assembles it.
func (d *DB) BuildScoreboard(ctx context.Context, roundStart time.Time) (*Scoreboard, error) {
	cfg, err := d.GameConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("scoreboard config: %w", err)
	}
	teams, err := d.Teams(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := d.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	teamTasks, err := d.TeamTasks(ctx)
	if err != nil {
		return nil, err
	}
	return AssembleScoreboard(cfg, roundStart, teams, tasks, teamTasks), nil
}
