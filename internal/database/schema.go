package database

import (
	"context"
	"fmt"
)

// schema is applied by adarena-cli init. Statuses are constrained to the
// checker contract codes; counters and scores can never go negative, and
// checks_passed can never exceed checks.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS teams (
		id     SERIAL PRIMARY KEY,
		name   TEXT NOT NULL,
		ip     TEXT NOT NULL,
		token  TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id              SERIAL PRIMARY KEY,
		name            TEXT NOT NULL UNIQUE,
		checker         TEXT NOT NULL,
		env_path        TEXT NOT NULL DEFAULT '',
		gets            INTEGER NOT NULL DEFAULT 1 CHECK (gets >= 0),
		puts            INTEGER NOT NULL DEFAULT 1 CHECK (puts >= 0),
		places          INTEGER NOT NULL DEFAULT 1 CHECK (places >= 1),
		checker_timeout INTEGER NOT NULL DEFAULT 10 CHECK (checker_timeout > 0),
		checker_type    TEXT NOT NULL DEFAULT 'hackerdom',
		default_score   INTEGER NOT NULL DEFAULT 2500,
		active          BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS flags (
		id                SERIAL PRIMARY KEY,
		flag              TEXT NOT NULL UNIQUE,
		team_id           INTEGER NOT NULL REFERENCES teams (id),
		task_id           INTEGER NOT NULL REFERENCES tasks (id),
		round             INTEGER NOT NULL,
		public_flag_data  TEXT NOT NULL DEFAULT '',
		private_flag_data TEXT NOT NULL DEFAULT '',
		vuln_number       INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE INDEX IF NOT EXISTS flags_team_task_round_idx
		ON flags (team_id, task_id, round)`,

	`CREATE TABLE IF NOT EXISTS stolenflags (
		flag_id     INTEGER NOT NULL REFERENCES flags (id),
		attacker_id INTEGER NOT NULL REFERENCES teams (id),
		submit_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (flag_id, attacker_id)
	)`,

	`CREATE TABLE IF NOT EXISTS teamtasks (
		team_id INTEGER NOT NULL REFERENCES teams (id),
		task_id INTEGER NOT NULL REFERENCES tasks (id),

		status INTEGER NOT NULL DEFAULT -1
			CHECK (status IN (-1, 101, 102, 103, 104, 110)),

		check_status   INTEGER NOT NULL DEFAULT -1
			CHECK (check_status IN (-1, 101, 102, 103, 104, 110)),
		check_message  TEXT NOT NULL DEFAULT '',
		check_private  TEXT NOT NULL DEFAULT '',
		check_attempts INTEGER NOT NULL DEFAULT 0 CHECK (check_attempts >= 0),

		put_status   INTEGER NOT NULL DEFAULT -1
			CHECK (put_status IN (-1, 101, 102, 103, 104, 110)),
		put_message  TEXT NOT NULL DEFAULT '',
		put_private  TEXT NOT NULL DEFAULT '',
		put_attempts INTEGER NOT NULL DEFAULT 0 CHECK (put_attempts >= 0),

		get_status   INTEGER NOT NULL DEFAULT -1
			CHECK (get_status IN (-1, 101, 102, 103, 104, 110)),
		get_message  TEXT NOT NULL DEFAULT '',
		get_private  TEXT NOT NULL DEFAULT '',
		get_attempts INTEGER NOT NULL DEFAULT 0 CHECK (get_attempts >= 0),

		stolen        INTEGER NOT NULL DEFAULT 0 CHECK (stolen >= 0),
		lost          INTEGER NOT NULL DEFAULT 0 CHECK (lost >= 0),
		score         DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (score >= 0),
		checks        INTEGER NOT NULL DEFAULT 0 CHECK (checks >= 0),
		checks_passed INTEGER NOT NULL DEFAULT 0 CHECK (checks_passed >= 0),

		public_message  TEXT NOT NULL DEFAULT '',
		private_message TEXT NOT NULL DEFAULT '',
		command         TEXT NOT NULL DEFAULT '',

		PRIMARY KEY (team_id, task_id),
		CONSTRAINT sla_valid CHECK (checks_passed <= checks)
	)`,

	`CREATE TABLE IF NOT EXISTS teamtasklog (
		id              SERIAL PRIMARY KEY,
		round           INTEGER NOT NULL,
		team_id         INTEGER NOT NULL,
		task_id         INTEGER NOT NULL,
		status          INTEGER NOT NULL,
		stolen          INTEGER NOT NULL,
		lost            INTEGER NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		checks          INTEGER NOT NULL,
		checks_passed   INTEGER NOT NULL,
		public_message  TEXT NOT NULL DEFAULT '',
		private_message TEXT NOT NULL DEFAULT '',
		command         TEXT NOT NULL DEFAULT '',
		ts              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS teamtasklog_round_idx ON teamtasklog (round)`,

	`CREATE TABLE IF NOT EXISTS game_config (
		id                 INTEGER PRIMARY KEY CHECK (id = 1),
		game_running       BOOLEAN NOT NULL DEFAULT FALSE,
		game_hardness      DOUBLE PRECISION NOT NULL CHECK (game_hardness >= 1),
		max_round          INTEGER NOT NULL DEFAULT 0,
		round_time         INTEGER NOT NULL CHECK (round_time > 0),
		real_round         INTEGER NOT NULL DEFAULT 0,
		flag_prefix        TEXT NOT NULL DEFAULT '',
		flag_lifetime      INTEGER NOT NULL CHECK (flag_lifetime > 0),
		inflation          BOOLEAN NOT NULL DEFAULT FALSE,
		volga_attacks_mode BOOLEAN NOT NULL DEFAULT FALSE,
		timezone           TEXT NOT NULL DEFAULT 'UTC',
		start_time         TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_history (
		id          SERIAL PRIMARY KEY,
		action      TEXT NOT NULL CHECK (action IN ('start_game', 'rounds')),
		executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// recalculateRating awards a capture. One call inserts the StolenFlag row,
// moves score between the two teamtasks rows and bumps the stolen/lost
// counters, all inside the caller's transaction, so the counters always add
// up to the net score movement.
//
// Exchange: the attacker gains hardness scaled by the Elo expectation that
// the victim outranks the attacker, so stealing from stronger teams pays
// more. The victim's loss is floored at zero score; without inflation the
// attacker gains exactly what the victim loses.
//
// Rows are locked in team id order to keep concurrent captures deadlock-free.
const recalculateRating = `
CREATE OR REPLACE FUNCTION recalculate_rating(
	_attacker INTEGER, _victim INTEGER, _task INTEGER, _flag INTEGER
) RETURNS TABLE (attacker_delta DOUBLE PRECISION, victim_delta DOUBLE PRECISION) AS $$
DECLARE
	_hardness   DOUBLE PRECISION;
	_inflation  BOOLEAN;
	att_score   DOUBLE PRECISION;
	vic_score   DOUBLE PRECISION;
	expectation DOUBLE PRECISION;
BEGIN
	SELECT game_hardness, inflation INTO _hardness, _inflation
		FROM game_config WHERE id = 1;

	IF _attacker < _victim THEN
		SELECT score INTO att_score FROM teamtasks
			WHERE team_id = _attacker AND task_id = _task FOR UPDATE;
		SELECT score INTO vic_score FROM teamtasks
			WHERE team_id = _victim AND task_id = _task FOR UPDATE;
	ELSE
		SELECT score INTO vic_score FROM teamtasks
			WHERE team_id = _victim AND task_id = _task FOR UPDATE;
		SELECT score INTO att_score FROM teamtasks
			WHERE team_id = _attacker AND task_id = _task FOR UPDATE;
	END IF;

	expectation := 1.0 / (1.0 + power(10.0,
		(att_score - vic_score) / (100.0 * _hardness)));
	attacker_delta := _hardness * expectation;
	victim_delta := LEAST(vic_score, attacker_delta);
	IF NOT _inflation THEN
		attacker_delta := victim_delta;
	END IF;

	INSERT INTO stolenflags (flag_id, attacker_id) VALUES (_flag, _attacker);

	UPDATE teamtasks SET score = score + attacker_delta, stolen = stolen + 1
		WHERE team_id = _attacker AND task_id = _task;
	UPDATE teamtasks SET score = score - victim_delta, lost = lost + 1
		WHERE team_id = _victim AND task_id = _task;

	RETURN NEXT;
END;
$$ LANGUAGE plpgsql`

// Migrate applies the schema and the scoring procedure. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := d.sql.ExecContext(ctx, recalculateRating); err != nil {
		return fmt.Errorf("create recalculate_rating: %w", err)
	}
	return nil
}

// Reset drops all game data. Used by adarena-cli reset only.
func (d *DB) Reset(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx, `
		DROP TABLE IF EXISTS stolenflags, flags, teamtasklog, teamtasks,
			tasks, teams, game_config, schedule_history CASCADE`)
	if err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	return nil
}
