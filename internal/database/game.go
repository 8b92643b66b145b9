package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adarena/backend/internal/models"
)

const configColumns = `id, game_running, game_hardness, max_round, round_time,
	real_round, flag_prefix, flag_lifetime, inflation, volga_attacks_mode,
	timezone, start_time`

// GameConfig reads the single configuration row.
func (d *DB) GameConfig(ctx context.Context) (*models.GameConfig, error) {
	var c models.GameConfig
	err := d.sql.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM game_config WHERE id = 1").Scan(
		&c.ID, &c.GameRunning, &c.GameHardness, &c.MaxRound, &c.RoundTime,
		&c.RealRound, &c.FlagPrefix, &c.FlagLifetime, &c.Inflation,
		&c.VolgaAttacksMode, &c.Timezone, &c.StartTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game config: %w", err)
	}
	return &c, nil
}

// InsertGameConfig creates or replaces the configuration row. Called by
// adarena-cli init.
func (d *DB) InsertGameConfig(ctx context.Context, c *models.GameConfig) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO game_config (id, game_running, game_hardness, max_round,
			round_time, real_round, flag_prefix, flag_lifetime, inflation,
			volga_attacks_mode, timezone, start_time)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			game_running = EXCLUDED.game_running,
			game_hardness = EXCLUDED.game_hardness,
			max_round = EXCLUDED.max_round,
			round_time = EXCLUDED.round_time,
			real_round = EXCLUDED.real_round,
			flag_prefix = EXCLUDED.flag_prefix,
			flag_lifetime = EXCLUDED.flag_lifetime,
			inflation = EXCLUDED.inflation,
			volga_attacks_mode = EXCLUDED.volga_attacks_mode,
			timezone = EXCLUDED.timezone,
			start_time = EXCLUDED.start_time`,
		c.GameRunning, c.GameHardness, c.MaxRound, c.RoundTime, c.RealRound,
		c.FlagPrefix, c.FlagLifetime, c.Inflation, c.VolgaAttacksMode,
		c.Timezone, c.StartTime)
	if err != nil {
		return fmt.Errorf("insert game config: %w", err)
	}
	return nil
}

// UpdateGameConfig writes the admin-editable fields. real_round is owned by
// the ticker and never touched here.
func (d *DB) UpdateGameConfig(ctx context.Context, c *models.GameConfig) error {
	_, err := d.sql.ExecContext(ctx, `
		UPDATE game_config SET game_hardness = $1, max_round = $2,
			round_time = $3, flag_prefix = $4, flag_lifetime = $5,
			inflation = $6, volga_attacks_mode = $7, timezone = $8,
			start_time = $9
		WHERE id = 1`,
		c.GameHardness, c.MaxRound, c.RoundTime, c.FlagPrefix, c.FlagLifetime,
		c.Inflation, c.VolgaAttacksMode, c.Timezone, c.StartTime)
	if err != nil {
		return fmt.Errorf("update game config: %w", err)
	}
	return nil
}

func (d *DB) SetGameRunning(ctx context.Context, running bool) error {
	_, err := d.sql.ExecContext(ctx,
		"UPDATE game_config SET game_running = $1 WHERE id = 1", running)
	if err != nil {
		return fmt.Errorf("set game_running=%v: %w", running, err)
	}
	return nil
}

// AdvanceRound increments real_round and returns the new value.
func (d *DB) AdvanceRound(ctx context.Context) (int, error) {
	var round int
	err := d.sql.QueryRowContext(ctx, `
		UPDATE game_config SET real_round = real_round + 1
		WHERE id = 1 RETURNING real_round`).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}
	return round, nil
}

// RecordScheduleRun appends a schedule_history row. The ticker replays these
// after a crash to decide whether the start gate already fired and when the
// last round ran.
func (d *DB) RecordScheduleRun(ctx context.Context, action string) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO schedule_history (action) VALUES ($1)", action)
	if err != nil {
		return fmt.Errorf("record schedule %q: %w", action, err)
	}
	return nil
}

// LastScheduleRun returns the most recent execution time of action, with
// ok=false when it never ran.
func (d *DB) LastScheduleRun(ctx context.Context, action string) (t sql.NullTime, err error) {
	err = d.sql.QueryRowContext(ctx, `
		SELECT MAX(executed_at) FROM schedule_history WHERE action = $1`,
		action).Scan(&t)
	if err != nil {
		return t, fmt.Errorf("last schedule %q: %w", action, err)
	}
	return t, nil
}
