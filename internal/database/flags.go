package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adarena/backend/internal/models"
)

const flagColumns = `id, flag, team_id, task_id, round, public_flag_data,
	private_flag_data, vuln_number`

func scanFlag(row interface{ Scan(...interface{}) error }) (models.Flag, error) {
	var f models.Flag
	err := row.Scan(&f.ID, &f.Flag, &f.TeamID, &f.TaskID, &f.Round,
		&f.PublicFlagData, &f.PrivateFlagData, &f.VulnNumber)
	return f, err
}

func (d *DB) InsertFlag(ctx context.Context, f *models.Flag) error {
	err := d.sql.QueryRowContext(ctx, `
		INSERT INTO flags (flag, team_id, task_id, round, public_flag_data,
			private_flag_data, vuln_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		f.Flag, f.TeamID, f.TaskID, f.Round, f.PublicFlagData,
		f.PrivateFlagData, f.VulnNumber).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func (d *DB) FlagByID(ctx context.Context, id int) (*models.Flag, error) {
	f, err := scanFlag(d.sql.QueryRowContext(ctx,
		"SELECT "+flagColumns+" FROM flags WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag %d: %w", id, err)
	}
	return &f, nil
}

// UpdateFlagData overwrites the data fields after a PUT checker hands back
// its own flag id or public hint. The row itself is inserted before the
// checker runs.
func (d *DB) UpdateFlagData(ctx context.Context, id int, public, private string) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE flags SET public_flag_data = $2, private_flag_data = $3
		WHERE id = $1`, id, public, private)
	if err != nil {
		return fmt.Errorf("update flag %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update flag %d: %w", id, ErrNotFound)
	}
	return nil
}

func (d *DB) FlagByString(ctx context.Context, flag string) (*models.Flag, error) {
	f, err := scanFlag(d.sql.QueryRowContext(ctx,
		"SELECT "+flagColumns+" FROM flags WHERE flag = $1", flag))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}
	return &f, nil
}

// RandomFlag picks one flag planted for (team, task) within [minRound,
// maxRound], uniformly. ErrNotFound when no PUT succeeded in the window.
func (d *DB) RandomFlag(ctx context.Context, teamID, taskID, minRound, maxRound int) (*models.Flag, error) {
	f, err := scanFlag(d.sql.QueryRowContext(ctx, `
		SELECT `+flagColumns+` FROM flags
		WHERE team_id = $1 AND task_id = $2 AND round BETWEEN $3 AND $4
		ORDER BY random() LIMIT 1`,
		teamID, taskID, minRound, maxRound))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("random flag team=%d task=%d: %w", teamID, taskID, err)
	}
	return &f, nil
}

// AttackData is the public hint blob handed to attackers: task name to team
// ip to the public flag data of every live flag.
type AttackData map[string]map[string][]string

// BuildAttackData collects public flag data for flags still within their
// lifetime at the given round. A flag planted in round r is live through
// round r+flagLifetime inclusive.
func (d *DB) BuildAttackData(ctx context.Context, round, flagLifetime int) (AttackData, error) {
	minRound := round - flagLifetime
	if minRound < 1 {
		minRound = 1
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT tk.name, tm.ip, f.public_flag_data
		FROM flags f
		JOIN tasks tk ON tk.id = f.task_id
		JOIN teams tm ON tm.id = f.team_id
		WHERE f.round BETWEEN $1 AND $2
			AND f.public_flag_data <> ''
			AND tk.active AND tm.active
		ORDER BY f.id`, minRound, round)
	if err != nil {
		return nil, fmt.Errorf("build attack data: %w", err)
	}
	defer rows.Close()

	data := make(AttackData)
	for rows.Next() {
		var task, ip, public string
		if err := rows.Scan(&task, &ip, &public); err != nil {
			return nil, fmt.Errorf("scan attack data: %w", err)
		}
		if data[task] == nil {
			data[task] = make(map[string][]string)
		}
		data[task][ip] = append(data[task][ip], public)
	}
	return data, rows.Err()
}
