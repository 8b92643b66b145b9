package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/adarena/backend/internal/models"
)

// Cache layers typed accessors over a Store. All values are JSON except the
// scalar round and timestamp keys.
type Cache struct {
	store Store
}

func New(store Store) *Cache { return &Cache{store: store} }

// Store exposes the underlying client for callers that need raw access
// (queue, coordinator).
func (c *Cache) Store() Store { return c.store }

// RealRound returns the cached current round, or 0 on a miss.
func (c *Cache) RealRound(ctx context.Context) (int, error) {
	v, err := c.store.Get(ctx, KeyRealRound)
	if err == ErrMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("real_round %q: %w", v, err)
	}
	return n, nil
}

func (c *Cache) SetRealRound(ctx context.Context, round int) error {
	return c.store.Set(ctx, KeyRealRound, strconv.Itoa(round), 0)
}

func (c *Cache) GameConfig(ctx context.Context) (*models.GameConfig, error) {
	var cfg models.GameConfig
	if err := c.getJSON(ctx, KeyGameConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Cache) SetGameConfig(ctx context.Context, cfg *models.GameConfig) error {
	return c.setJSON(ctx, KeyGameConfig, cfg, GameConfigTTL)
}

// InvalidateGameConfig drops the cached config so the next read hits
// Postgres. Called by the ticker at round boundaries and by admin writes.
func (c *Cache) InvalidateGameConfig(ctx context.Context) error {
	return c.store.Del(ctx, KeyGameConfig)
}

func (c *Cache) Teams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	if err := c.getJSON(ctx, KeyTeams, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// SetTeams stores the team list and rewrites the token index used by the
// submission handler.
func (c *Cache) SetTeams(ctx context.Context, teams []models.Team) error {
	if err := c.setJSON(ctx, KeyTeams, teams, 0); err != nil {
		return err
	}
	for i := range teams {
		t := &teams[i]
		if err := c.setJSON(ctx, TeamTokenKey(t.Token), t, 0); err != nil {
			return err
		}
	}
	return nil
}

// TeamByToken resolves a submission token. ErrMiss means unknown token.
func (c *Cache) TeamByToken(ctx context.Context, token string) (*models.Team, error) {
	var t models.Team
	if err := c.getJSON(ctx, TeamTokenKey(token), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Cache) Tasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.getJSON(ctx, KeyTasks, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Cache) SetTasks(ctx context.Context, tasks []models.Task) error {
	return c.setJSON(ctx, KeyTasks, tasks, 0)
}

// GameState is the prebuilt scoreboard JSON served to clients and sent to
// new WebSocket subscribers. Stored raw to avoid a decode/encode round trip.
func (c *Cache) GameState(ctx context.Context) (json.RawMessage, error) {
	v, err := c.store.Get(ctx, KeyGameState)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

func (c *Cache) SetGameState(ctx context.Context, state json.RawMessage) error {
	return c.store.Set(ctx, KeyGameState, string(state), 0)
}

// AttackData is the per-round public flag hint blob. No TTL: the ticker
// overwrites it each round and it must outlive slow rounds.
func (c *Cache) AttackData(ctx context.Context) (json.RawMessage, error) {
	v, err := c.store.Get(ctx, KeyAttackData)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

func (c *Cache) SetAttackData(ctx context.Context, data json.RawMessage) error {
	return c.store.Set(ctx, KeyAttackData, string(data), 0)
}

// Flag caches a planted flag under its string for fast submission lookups.
func (c *Cache) SetFlag(ctx context.Context, f *models.Flag, flagLifetime, roundTime int) error {
	return c.setJSON(ctx, FlagKey(f.Flag), f, FlagTTL(flagLifetime, roundTime))
}

func (c *Cache) Flag(ctx context.Context, flag string) (*models.Flag, error) {
	var f models.Flag
	if err := c.getJSON(ctx, FlagKey(flag), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Cache) SetRoundStart(ctx context.Context, round int, ts time.Time) error {
	return c.store.Set(ctx, RoundStartKey(round), strconv.FormatInt(ts.Unix(), 10), 0)
}

// RoundStart returns the zero time on a miss.
func (c *Cache) RoundStart(ctx context.Context, round int) (time.Time, error) {
	v, err := c.store.Get(ctx, RoundStartKey(round))
	if err == ErrMiss {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("round start %q: %w", v, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// Sessions: admin login state keyed by a random id carried in a cookie.

func (c *Cache) SetSession(ctx context.Context, id, username string) error {
	return c.store.Set(ctx, SessionKey(id), username, SessionTTL)
}

func (c *Cache) Session(ctx context.Context, id string) (string, error) {
	return c.store.Get(ctx, SessionKey(id))
}

func (c *Cache) DeleteSession(ctx context.Context, id string) error {
	return c.store.Del(ctx, SessionKey(id))
}

func (c *Cache) getJSON(ctx context.Context, key string, dst interface{}) error {
	v, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(raw), ttl)
}
