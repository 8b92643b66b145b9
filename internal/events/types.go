// Package events carries the platform's live event bus: message types
// published on the Redis "adarena-events" channel, the attack notifier, and
// the WebSocket hub fanning events out to spectators.
package events

import "time"

// Channel is the Redis pub/sub channel every service publishes game events on.
const Channel = "adarena-events"

// EventType routes an envelope to its WebSocket audience.
type EventType string

const (
	// EventScoreboardUpdate goes to /ws/game_events subscribers.
	EventScoreboardUpdate EventType = "scoreboard_update"

	// Live feed events go to /ws/live_events subscribers.
	EventFlagSubmission EventType = "flag_submission"
	EventCheckerUpdate  EventType = "checker_update"
	EventFlagStolen     EventType = "flag_stolen"
)

// Envelope is the wire format on Channel and on WebSocket connections:
// {"event_type": ..., "event": ..., "data": ...}. Event duplicates the type
// for clients that only look at one of the two fields.
type Envelope struct {
	EventType EventType   `json:"event_type"`
	Event     EventType   `json:"event"`
	Data      interface{} `json:"data"`
}

// NewEnvelope wraps payload for publication.
func NewEnvelope(t EventType, payload interface{}) Envelope {
	return Envelope{EventType: t, Event: t, Data: payload}
}

// AttackNotification is the payload of a flag_stolen event.
type AttackNotification struct {
	AttackerID   int       `json:"attacker_id"`
	AttackerName string    `json:"attacker_name"`
	VictimID     int       `json:"victim_id"`
	VictimName   string    `json:"victim_name"`
	TaskID       int       `json:"task_id"`
	TaskName     string    `json:"task_name"`
	Points       float64   `json:"points"`
	Timestamp    time.Time `json:"timestamp"`
}

// CheckerUpdate is the payload of a checker_update event, emitted after each
// checker action is persisted.
type CheckerUpdate struct {
	Action  string `json:"action"`
	TeamID  int    `json:"team_id"`
	TaskID  int    `json:"task_id"`
	Round   int    `json:"round"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// FlagSubmission is the payload of a flag_submission event: one entry per
// flag in a submission batch, without revealing the flag itself.
type FlagSubmission struct {
	TeamID   int    `json:"team_id"`
	TeamName string `json:"team_name"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}
