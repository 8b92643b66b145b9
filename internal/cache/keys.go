package cache

import (
	"fmt"
	"time"
)

// Plain keys. Names are shared with every process; changing one is a
// deployment-wide migration.
const (
	KeyRealRound  = "real_round"
	KeyGameConfig = "game_config"
	KeyGameState  = "game_state"
	KeyTeams      = "teams"
	KeyTasks      = "tasks"
	KeyAttackData = "attack_data"
)

const (
	// GameConfigTTL keeps config reads cheap while bounding staleness of
	// admin edits.
	GameConfigTTL = 60 * time.Second

	// SessionTTL is the admin session lifetime.
	SessionTTL = 86400 * time.Second
)

func TeamTokenKey(token string) string { return "team:token:" + token }

func FlagKey(flag string) string { return "flag:str:" + flag }

// FlagTTL covers the full window a flag can still be submitted in, doubled.
func FlagTTL(flagLifetime, roundTime int) time.Duration {
	return time.Duration(2*flagLifetime*roundTime) * time.Second
}

func RoundStartKey(round int) string { return fmt.Sprintf("round:%d:start_time", round) }

func SessionKey(id string) string { return "session:" + id }
