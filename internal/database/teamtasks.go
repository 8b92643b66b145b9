package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/adarena/backend/internal/models"
)

// statusCaseSQL renders the aggregate-status derivation as a CASE over the
// three per-action statuses. Each per-action UPDATE embeds it with the
// incoming value substituted for its own column, so the aggregate and the
// per-action write land in one statement and the row is never observable
// half-updated. Precedence must match models.DeriveStatus exactly.
func statusCaseSQL(check, put, get string) string {
	return fmt.Sprintf(`CASE
		WHEN %[1]s = 110 THEN 110
		WHEN %[1]s = 104 THEN 104
		WHEN %[1]s = -1 THEN -1
		WHEN %[2]s IN (110, 104) THEN 102
		WHEN %[3]s IN (110, 104) THEN 103
		ELSE 101
	END`, check, put, get)
}

// messageCaseSQL mirrors statusCaseSQL for the aggregate public message.
func messageCaseSQL(check, put, get string) string {
	return fmt.Sprintf(`CASE
		WHEN %[1]s = 110 THEN 'Service check failed'
		WHEN %[1]s = 104 THEN 'Service is down'
		WHEN %[1]s = -1 THEN 'Not checked yet'
		WHEN %[2]s = 110 THEN 'Service corrupted (PUT failed)'
		WHEN %[2]s = 104 THEN 'Service corrupted (PUT unreachable)'
		WHEN %[3]s = 110 THEN 'Service mumble (GET failed)'
		WHEN %[3]s = 104 THEN 'Service mumble (GET unreachable)'
		ELSE 'Service operational'
	END`, check, put, get)
}

const (
	maxPublicMessage  = 500
	maxPrivateMessage = 2000
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RecordCheck persists a CHECK verdict: per-action columns, SLA counters and
// the derived aggregate, in one UPDATE.
func (d *DB) RecordCheck(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error {
	query := `
		UPDATE teamtasks SET
			check_status = $3,
			check_message = $4,
			check_private = $5,
			check_attempts = check_attempts + 1,
			checks = checks + 1,
			checks_passed = checks_passed + CASE WHEN $3 = 101 THEN 1 ELSE 0 END,
			command = $6,
			private_message = $5,
			status = ` + statusCaseSQL("$3", "put_status", "get_status") + `,
			public_message = ` + messageCaseSQL("$3", "put_status", "get_status") + `
		WHERE team_id = $1 AND task_id = $2`
	return d.recordAction(ctx, query, teamID, taskID, v)
}

// RecordPut persists a PUT verdict.
func (d *DB) RecordPut(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error {
	query := `
		UPDATE teamtasks SET
			put_status = $3,
			put_message = $4,
			put_private = $5,
			put_attempts = put_attempts + 1,
			command = $6,
			status = ` + statusCaseSQL("check_status", "$3", "get_status") + `,
			public_message = ` + messageCaseSQL("check_status", "$3", "get_status") + `
		WHERE team_id = $1 AND task_id = $2`
	return d.recordAction(ctx, query, teamID, taskID, v)
}

// RecordGet persists a GET verdict.
func (d *DB) RecordGet(ctx context.Context, teamID, taskID int, v models.CheckerVerdict) error {
	query := `
		UPDATE teamtasks SET
			get_status = $3,
			get_message = $4,
			get_private = $5,
			get_attempts = get_attempts + 1,
			command = $6,
			status = ` + statusCaseSQL("check_status", "put_status", "$3") + `,
			public_message = ` + messageCaseSQL("check_status", "put_status", "$3") + `
		WHERE team_id = $1 AND task_id = $2`
	return d.recordAction(ctx, query, teamID, taskID, v)
}

// RecordPutSkipped journals a PUT that never ran because this round's CHECK
// came back DOWN or CHECK_FAILED: the PUT inherits that code.
func (d *DB) RecordPutSkipped(ctx context.Context, teamID, taskID int, status models.TaskStatus, message string) error {
	query := `
		UPDATE teamtasks SET
			put_status = $3,
			put_message = $4,
			put_attempts = put_attempts + 1,
			status = ` + statusCaseSQL("check_status", "$3", "get_status") + `,
			public_message = ` + messageCaseSQL("check_status", "$3", "get_status") + `
		WHERE team_id = $1 AND task_id = $2`
	return d.recordSkip(ctx, query, models.ActionPut, teamID, taskID, status, message)
}

// RecordGetSkipped mirrors RecordPutSkipped for a GET blocked by a failed
// CHECK or PUT.
func (d *DB) RecordGetSkipped(ctx context.Context, teamID, taskID int, status models.TaskStatus, message string) error {
	query := `
		UPDATE teamtasks SET
			get_status = $3,
			get_message = $4,
			get_attempts = get_attempts + 1,
			status = ` + statusCaseSQL("check_status", "put_status", "$3") + `,
			public_message = ` + messageCaseSQL("check_status", "put_status", "$3") + `
		WHERE team_id = $1 AND task_id = $2`
	return d.recordSkip(ctx, query, models.ActionGet, teamID, taskID, status, message)
}

func (d *DB) recordSkip(ctx context.Context, query string, action models.Action,
	teamID, taskID int, status models.TaskStatus, message string) error {
	res, err := d.sql.ExecContext(ctx, query, teamID, taskID, int(status),
		truncate(message, maxPublicMessage))
	if err != nil {
		return fmt.Errorf("skip %s team=%d task=%d: %w", action, teamID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skip %s team=%d task=%d: %w", action, teamID, taskID, ErrNotFound)
	}
	return nil
}

// RecordActionError persists a CHECK_FAILED verdict for an action whose
// handler died before the checker could judge the service: queue plumbing,
// storage failures and the like. The cause goes to the private column only.
// A failed CHECK still counts against SLA.
func (d *DB) RecordActionError(ctx context.Context, teamID, taskID int, action models.Action, cause string) error {
	var query string
	switch action {
	case models.ActionCheck:
		query = `
			UPDATE teamtasks SET
				check_status = $3,
				check_message = $4,
				check_private = $5,
				check_attempts = check_attempts + 1,
				checks = checks + 1,
				status = ` + statusCaseSQL("$3", "put_status", "get_status") + `,
				public_message = ` + messageCaseSQL("$3", "put_status", "get_status") + `
			WHERE team_id = $1 AND task_id = $2`
	case models.ActionPut:
		query = `
			UPDATE teamtasks SET
				put_status = $3,
				put_message = $4,
				put_private = $5,
				put_attempts = put_attempts + 1,
				status = ` + statusCaseSQL("check_status", "$3", "get_status") + `,
				public_message = ` + messageCaseSQL("check_status", "$3", "get_status") + `
			WHERE team_id = $1 AND task_id = $2`
	case models.ActionGet:
		query = `
			UPDATE teamtasks SET
				get_status = $3,
				get_message = $4,
				get_private = $5,
				get_attempts = get_attempts + 1,
				status = ` + statusCaseSQL("check_status", "put_status", "$3") + `,
				public_message = ` + messageCaseSQL("check_status", "put_status", "$3") + `
			WHERE team_id = $1 AND task_id = $2`
	default:
		return fmt.Errorf("record error: unknown action %q", action)
	}
	message := strings.ToUpper(string(action)) + " action failed"
	res, err := d.sql.ExecContext(ctx, query, teamID, taskID,
		int(models.StatusCheckFailed), message, truncate(cause, maxPrivateMessage))
	if err != nil {
		return fmt.Errorf("record %s error team=%d task=%d: %w", action, teamID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s error team=%d task=%d: %w", action, teamID, taskID, ErrNotFound)
	}
	return nil
}

func (d *DB) recordAction(ctx context.Context, query string, teamID, taskID int, v models.CheckerVerdict) error {
	res, err := d.sql.ExecContext(ctx, query, teamID, taskID, int(v.Status),
		truncate(v.PublicMessage, maxPublicMessage),
		truncate(v.PrivateMessage, maxPrivateMessage),
		v.Command)
	if err != nil {
		return fmt.Errorf("record %s team=%d task=%d: %w", v.Action, teamID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s team=%d task=%d: %w", v.Action, teamID, taskID, ErrNotFound)
	}
	return nil
}

const teamTaskColumns = `team_id, task_id, status,
	check_status, check_message, check_private, check_attempts,
	put_status, put_message, put_private, put_attempts,
	get_status, get_message, get_private, get_attempts,
	stolen, lost, score, checks, checks_passed,
	public_message, private_message, command`

func scanTeamTask(row interface{ Scan(...interface{}) error }) (models.TeamTask, error) {
	var tt models.TeamTask
	err := row.Scan(&tt.TeamID, &tt.TaskID, &tt.Status,
		&tt.CheckStatus, &tt.CheckMessage, &tt.CheckPrivate, &tt.CheckAttempts,
		&tt.PutStatus, &tt.PutMessage, &tt.PutPrivate, &tt.PutAttempts,
		&tt.GetStatus, &tt.GetMessage, &tt.GetPrivate, &tt.GetAttempts,
		&tt.Stolen, &tt.Lost, &tt.Score, &tt.Checks, &tt.ChecksPassed,
		&tt.PublicMessage, &tt.PrivateMessage, &tt.Command)
	return tt, err
}

func (d *DB) TeamTask(ctx context.Context, teamID, taskID int) (*models.TeamTask, error) {
	tt, err := scanTeamTask(d.sql.QueryRowContext(ctx,
		"SELECT "+teamTaskColumns+" FROM teamtasks WHERE team_id = $1 AND task_id = $2",
		teamID, taskID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get teamtask team=%d task=%d: %w", teamID, taskID, err)
	}
	return &tt, nil
}

func (d *DB) TeamTasks(ctx context.Context) ([]models.TeamTask, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+teamTaskColumns+` FROM teamtasks tt
		WHERE EXISTS (SELECT 1 FROM teams t WHERE t.id = tt.team_id AND t.active)
			AND EXISTS (SELECT 1 FROM tasks k WHERE k.id = tt.task_id AND k.active)
		ORDER BY team_id, task_id`)
	if err != nil {
		return nil, fmt.Errorf("list teamtasks: %w", err)
	}
	defer rows.Close()
	var out []models.TeamTask
	for rows.Next() {
		tt, err := scanTeamTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan teamtask: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// ArchiveRound snapshots every teamtasks row into teamtasklog for the round
// that just ended.
func (d *DB) ArchiveRound(ctx context.Context, round int) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO teamtasklog (round, team_id, task_id, status, stolen,
			lost, score, checks, checks_passed, public_message,
			private_message, command)
		SELECT $1, team_id, task_id, status, stolen, lost, score, checks,
			checks_passed, public_message, private_message, command
		FROM teamtasks`, round)
	if err != nil {
		return fmt.Errorf("archive round %d: %w", round, err)
	}
	return nil
}

// RoundLog returns the archived snapshots for one round.
func (d *DB) RoundLog(ctx context.Context, round int) ([]models.TeamTaskLog, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, round, team_id, task_id, status, stolen, lost, score,
			checks, checks_passed, public_message, private_message, command, ts
		FROM teamtasklog WHERE round = $1 ORDER BY team_id, task_id`, round)
	if err != nil {
		return nil, fmt.Errorf("round log %d: %w", round, err)
	}
	defer rows.Close()
	var out []models.TeamTaskLog
	for rows.Next() {
		var l models.TeamTaskLog
		if err := rows.Scan(&l.ID, &l.Round, &l.TeamID, &l.TaskID, &l.Status,
			&l.Stolen, &l.Lost, &l.Score, &l.Checks, &l.ChecksPassed,
			&l.PublicMessage, &l.PrivateMessage, &l.Command, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan round log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
