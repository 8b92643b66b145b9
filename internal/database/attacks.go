package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrAlreadyStolen means this attacker already captured this flag. Raised by
// the stolenflags primary key inside recalculate_rating.
var ErrAlreadyStolen = errors.New("database: flag already stolen")

// RecalculateRating awards a capture through the stored procedure and
// returns the attacker's gain and the victim's loss. The single SELECT runs
// the insert and both score updates atomically.
func (d *DB) RecalculateRating(ctx context.Context, attackerID, victimID, taskID, flagID int) (attackerDelta, victimDelta float64, err error) {
	err = d.sql.QueryRowContext(ctx,
		"SELECT attacker_delta, victim_delta FROM recalculate_rating($1, $2, $3, $4)",
		attackerID, victimID, taskID, flagID).Scan(&attackerDelta, &victimDelta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, 0, ErrAlreadyStolen
		}
		return 0, 0, fmt.Errorf("recalculate_rating: %w", err)
	}
	return attackerDelta, victimDelta, nil
}
