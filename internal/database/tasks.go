package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adarena/backend/internal/models"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("database: not found")

const taskColumns = `id, name, checker, env_path, gets, puts, places,
	checker_timeout, checker_type, default_score, active`

func scanTask(row interface{ Scan(...interface{}) error }) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Name, &t.Checker, &t.EnvPath, &t.Gets, &t.Puts,
		&t.Places, &t.CheckerTimeout, &t.CheckerType, &t.DefaultScore, &t.Active)
	return t, err
}

// Tasks returns active tasks ordered by id.
func (d *DB) Tasks(ctx context.Context) ([]models.Task, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (d *DB) Task(ctx context.Context, id int) (*models.Task, error) {
	t, err := scanTask(d.sql.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

// CreateTask inserts the task and seeds a teamtasks row per active team.
func (d *DB) CreateTask(ctx context.Context, t *models.Task) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (name, checker, env_path, gets, puts, places,
				checker_timeout, checker_type, default_score, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			t.Name, t.Checker, t.EnvPath, t.Gets, t.Puts, t.Places,
			t.CheckerTimeout, t.CheckerType, t.DefaultScore, t.Active).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert task %q: %w", t.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO teamtasks (team_id, task_id, score)
			SELECT id, $1, $2 FROM teams WHERE active
			ON CONFLICT DO NOTHING`, t.ID, t.DefaultScore)
		if err != nil {
			return fmt.Errorf("seed teamtasks for task %d: %w", t.ID, err)
		}
		return nil
	})
}

func (d *DB) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE tasks SET name = $2, checker = $3, env_path = $4, gets = $5,
			puts = $6, places = $7, checker_timeout = $8, checker_type = $9,
			default_score = $10, active = $11
		WHERE id = $1`,
		t.ID, t.Name, t.Checker, t.EnvPath, t.Gets, t.Puts, t.Places,
		t.CheckerTimeout, t.CheckerType, t.DefaultScore, t.Active)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) DeleteTask(ctx context.Context, id int) error {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE tasks SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
