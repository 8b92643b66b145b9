package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adarena/backend/internal/models"
)

const teamColumns = "id, name, ip, token, active"

func scanTeam(row interface{ Scan(...interface{}) error }) (models.Team, error) {
	var t models.Team
	err := row.Scan(&t.ID, &t.Name, &t.IP, &t.Token, &t.Active)
	return t, err
}

// Teams returns active teams ordered by id.
func (d *DB) Teams(ctx context.Context) ([]models.Team, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+teamColumns+" FROM teams WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	var teams []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (d *DB) Team(ctx context.Context, id int) (*models.Team, error) {
	t, err := scanTeam(d.sql.QueryRowContext(ctx,
		"SELECT "+teamColumns+" FROM teams WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team %d: %w", id, err)
	}
	return &t, nil
}

// TeamByToken resolves a submission token against the teams table.
// Inactive teams do not match: a deactivated team's token is dead.
func (d *DB) TeamByToken(ctx context.Context, token string) (*models.Team, error) {
	t, err := scanTeam(d.sql.QueryRowContext(ctx,
		"SELECT "+teamColumns+" FROM teams WHERE token = $1 AND active", token))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team by token: %w", err)
	}
	return &t, nil
}

// CreateTeam inserts the team and seeds a teamtasks row per active task at
// the task's default score, in one transaction.
func (d *DB) CreateTeam(ctx context.Context, t *models.Team) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO teams (name, ip, token, active)
			VALUES ($1, $2, $3, $4) RETURNING id`,
			t.Name, t.IP, t.Token, t.Active).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert team %q: %w", t.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO teamtasks (team_id, task_id, score)
			SELECT $1, id, default_score FROM tasks WHERE active
			ON CONFLICT DO NOTHING`, t.ID)
		if err != nil {
			return fmt.Errorf("seed teamtasks for team %d: %w", t.ID, err)
		}
		return nil
	})
}

func (d *DB) UpdateTeam(ctx context.Context, t *models.Team) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE teams SET name = $2, ip = $3, active = $4 WHERE id = $1`,
		t.ID, t.Name, t.IP, t.Active)
	if err != nil {
		return fmt.Errorf("update team %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTeam deactivates rather than deletes: flags and log rows keep
// referencing the id.
func (d *DB) DeleteTeam(ctx context.Context, id int) error {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE teams SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate team %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
