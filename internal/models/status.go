package models

import "fmt"

// TaskStatus is the verdict code a checker (or the platform itself) assigns
// to a single action. The numeric values are part of the checker CLI
// contract: checkers exit with one of these codes.
type TaskStatus int

const (
	// StatusNotChecked marks an action that has not run yet this game.
	StatusNotChecked TaskStatus = -1

	StatusUp          TaskStatus = 101
	StatusCorrupt     TaskStatus = 102
	StatusMumble      TaskStatus = 103
	StatusDown        TaskStatus = 104
	StatusCheckFailed TaskStatus = 110
)

func (s TaskStatus) String() string {
	switch s {
	case StatusNotChecked:
		return "NOT_CHECKED"
	case StatusUp:
		return "UP"
	case StatusCorrupt:
		return "CORRUPT"
	case StatusMumble:
		return "MUMBLE"
	case StatusDown:
		return "DOWN"
	case StatusCheckFailed:
		return "CHECK_FAILED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// StatusFromExitCode maps a checker process exit code to a TaskStatus.
// Any code outside the contract is treated as CHECK_FAILED.
func StatusFromExitCode(code int) TaskStatus {
	switch TaskStatus(code) {
	case StatusUp, StatusCorrupt, StatusMumble, StatusDown, StatusCheckFailed:
		return TaskStatus(code)
	}
	return StatusCheckFailed
}

// Action is one of the three checker invocations performed per
// (team, task, round).
type Action string

const (
	ActionCheck Action = "check"
	ActionPut   Action = "put"
	ActionGet   Action = "get"
)

// CheckerVerdict is the outcome of a single checker subprocess run.
type CheckerVerdict struct {
	Status         TaskStatus
	Action         Action
	PublicMessage  string // checker stdout, shown to the team
	PrivateMessage string // checker stderr, admins only
	Command        string // shell-quoted argv, stored for debugging
}

// DeriveStatus computes the aggregate TeamTask status and public message
// from the three per-action statuses. First matching rule wins.
//
// The same derivation is embedded as a SQL CASE expression in every
// per-action UPDATE (see database.statusCaseSQL) so the row is never
// observable in a half-updated state; this Go version exists for in-memory
// consumers and tests.
func DeriveStatus(check, put, get TaskStatus) (TaskStatus, string) {
	switch check {
	case StatusCheckFailed:
		return StatusCheckFailed, "Service check failed"
	case StatusDown:
		return StatusDown, "Service is down"
	case StatusNotChecked:
		return StatusNotChecked, "Not checked yet"
	}

	switch put {
	case StatusCheckFailed:
		return StatusCorrupt, "Service corrupted (PUT failed)"
	case StatusDown:
		return StatusCorrupt, "Service corrupted (PUT unreachable)"
	}

	switch get {
	case StatusCheckFailed:
		return StatusMumble, "Service mumble (GET failed)"
	case StatusDown:
		return StatusMumble, "Service mumble (GET unreachable)"
	}

	return StatusUp, "Service operational"
}
