// Package models holds the domain types shared by every ADArena process.
//
// Entities are persisted by id only; cross-entity navigation goes through
// the repository layer rather than in-struct references, so the
// Team↔Flag↔Task↔TeamTask cycle is never owned in memory.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Team is a participating team. The token authenticates flag submissions
// and is generated once at creation with a cryptographic RNG.
type Team struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Token  string `json:"token"`
	Active bool   `json:"active"`
}

// GenerateToken returns a fresh 16-hex-char team token.
func GenerateToken() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("models: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Task is a vulnerable service definition together with its checker binary.
type Task struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Checker        string `json:"checker"`  // absolute path to the checker executable
	EnvPath        string `json:"env_path"` // prepended to PATH for the checker
	Gets           int    `json:"gets"`
	Puts           int    `json:"puts"`
	Places         int    `json:"places"`
	CheckerTimeout int    `json:"checker_timeout"` // seconds
	CheckerType    string `json:"checker_type"`
	DefaultScore   int    `json:"default_score"`
	Active         bool   `json:"active"`
}

func (t *Task) checkerTags() []string {
	return strings.Split(t.CheckerType, "_")
}

// CheckerReturnsFlagID reports whether the checker hands back a flag id on
// PUT. The "nfr" tag (no flag return) suppresses it.
func (t *Task) CheckerReturnsFlagID() bool {
	for _, tag := range t.checkerTags() {
		if tag == "nfr" {
			return false
		}
	}
	return true
}

// CheckerProvidesPublicFlagData reports whether the checker supplies the
// public flag data itself ("pfr" tag) instead of the platform choosing a
// random place.
func (t *Task) CheckerProvidesPublicFlagData() bool {
	for _, tag := range t.checkerTags() {
		if tag == "pfr" {
			return true
		}
	}
	return false
}

// Flag is a unit of attackable content planted by a PUT action.
type Flag struct {
	ID              int    `json:"id"`
	Flag            string `json:"flag"`
	TeamID          int    `json:"team_id"`
	TaskID          int    `json:"task_id"`
	Round           int    `json:"round"`
	PublicFlagData  string `json:"public_flag_data"`
	PrivateFlagData string `json:"private_flag_data"`
	VulnNumber      int    `json:"vuln_number"`
}

// NewFlag builds a flag for (team, task, round): flag string is the prefix
// plus 32 hex chars, private data is 64 hex chars, public data is a place
// number in [1, places].
func NewFlag(prefix string, teamID, taskID, round, place int) Flag {
	return Flag{
		Flag:            prefix + randomHex(16),
		TeamID:          teamID,
		TaskID:          taskID,
		Round:           round,
		PublicFlagData:  strconv.Itoa(place),
		PrivateFlagData: randomHex(32),
		VulnNumber:      1,
	}
}

// StolenFlag records a successful capture. The (flag, attacker) pair is the
// primary key, so each attacker can steal a given flag at most once.
type StolenFlag struct {
	FlagID     int       `json:"flag_id"`
	AttackerID int       `json:"attacker_id"`
	SubmitTime time.Time `json:"submit_time"`
}

// TeamTask is the per-(team, task) scoring row.
type TeamTask struct {
	TeamID int `json:"team_id"`
	TaskID int `json:"task_id"`

	Status TaskStatus `json:"status"`

	CheckStatus   TaskStatus `json:"check_status"`
	CheckMessage  string     `json:"check_message"`
	CheckPrivate  string     `json:"check_private"`
	CheckAttempts int        `json:"check_attempts"`

	PutStatus   TaskStatus `json:"put_status"`
	PutMessage  string     `json:"put_message"`
	PutPrivate  string     `json:"put_private"`
	PutAttempts int        `json:"put_attempts"`

	GetStatus   TaskStatus `json:"get_status"`
	GetMessage  string     `json:"get_message"`
	GetPrivate  string     `json:"get_private"`
	GetAttempts int        `json:"get_attempts"`

	Stolen       int     `json:"stolen"`
	Lost         int     `json:"lost"`
	Score        float64 `json:"score"`
	Checks       int     `json:"checks"`
	ChecksPassed int     `json:"checks_passed"`

	PublicMessage  string `json:"public_message"`
	PrivateMessage string `json:"private_message"`
	Command        string `json:"command"`
}

// SLA is checks_passed / checks as a fraction in [0, 1].
func (tt *TeamTask) SLA() float64 {
	if tt.Checks == 0 {
		return 0
	}
	return float64(tt.ChecksPassed) / float64(tt.Checks)
}

// TeamTaskLog is an append-only snapshot of a TeamTask taken at each round
// boundary.
type TeamTaskLog struct {
	ID             int        `json:"id"`
	Round          int        `json:"round"`
	TeamID         int        `json:"team_id"`
	TaskID         int        `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Stolen         int        `json:"stolen"`
	Lost           int        `json:"lost"`
	Score          float64    `json:"score"`
	Checks         int        `json:"checks"`
	ChecksPassed   int        `json:"checks_passed"`
	PublicMessage  string     `json:"public_message"`
	PrivateMessage string     `json:"private_message"`
	Command        string     `json:"command"`
	Timestamp      time.Time  `json:"ts"`
}

// GameConfig is the single-row game configuration. Only the ticker and the
// admin endpoints mutate it.
type GameConfig struct {
	ID               int       `json:"id"`
	GameRunning      bool      `json:"game_running"`
	GameHardness     float64   `json:"game_hardness"`
	MaxRound         int       `json:"max_round"`
	RoundTime        int       `json:"round_time"` // seconds
	RealRound        int       `json:"real_round"`
	FlagPrefix       string    `json:"flag_prefix"`
	FlagLifetime     int       `json:"flag_lifetime"` // rounds
	Inflation        bool      `json:"inflation"`
	VolgaAttacksMode bool      `json:"volga_attacks_mode"`
	Timezone         string    `json:"timezone"`
	StartTime        time.Time `json:"start_time"`
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("models: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
