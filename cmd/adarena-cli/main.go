// adarena-cli bootstraps a game from config.yml.
//
//	adarena-cli -config config.yml init    create schema, load config, teams, tasks
//	adarena-cli tokens                     print team submission tokens
//	adarena-cli reset                      drop all game data and cached state
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/adarena/backend/internal/cache"
	"github.com/adarena/backend/internal/config"
	"github.com/adarena/backend/internal/database"
	"github.com/adarena/backend/internal/models"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "config.yml", "path to the game configuration")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal("usage: adarena-cli [-config config.yml] init|tokens|reset")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "cli")
	env := config.FromEnv()
	ctx := context.Background()

	db, err := database.Open(ctx, env.DatabaseURL())
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	redis, err := cache.NewGoRedisAdapter(ctx, env.RedisAddr(), env.RedisPassword, env.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redis.Close()
	c := cache.New(redis)

	switch cmd {
	case "init":
		if err := runInit(ctx, *configPath, db, c, logger); err != nil {
			log.Fatalf("init: %v", err)
		}
	case "tokens":
		if err := runTokens(ctx, db); err != nil {
			log.Fatalf("tokens: %v", err)
		}
	case "reset":
		if err := runReset(ctx, db, c, logger); err != nil {
			log.Fatalf("reset: %v", err)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func runInit(ctx context.Context, path string, db *database.DB, c *cache.Cache, logger *slog.Logger) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	startTime, err := parseStartTime(f.Game.StartTime, f.Game.Timezone)
	if err != nil {
		return err
	}
	cfg := &models.GameConfig{
		GameHardness:     f.Game.GameHardness,
		MaxRound:         f.Game.MaxRound,
		RoundTime:        f.Game.RoundTime,
		FlagPrefix:       f.Game.FlagPrefix,
		FlagLifetime:     f.Game.FlagLifetime,
		Inflation:        f.Game.Inflation,
		VolgaAttacksMode: f.Game.VolgaAttacksMode,
		Timezone:         f.Game.Timezone,
		StartTime:        startTime,
	}
	if err := db.InsertGameConfig(ctx, cfg); err != nil {
		return err
	}

	for _, ts := range f.Tasks {
		checkerPath := ts.Checker
		if !filepath.IsAbs(checkerPath) {
			checkerPath = filepath.Join(f.Game.CheckersPath, checkerPath)
		}
		task := models.Task{
			Name:           ts.Name,
			Checker:        checkerPath,
			EnvPath:        ts.EnvPath,
			Gets:           ts.Gets,
			Puts:           ts.Puts,
			Places:         ts.Places,
			CheckerTimeout: ts.CheckerTimeout,
			CheckerType:    ts.CheckerType,
			DefaultScore:   ts.DefaultScore,
			Active:         true,
		}
		if err := db.CreateTask(ctx, &task); err != nil {
			return err
		}
		logger.Info("task created", "name", task.Name, "checker", task.Checker)
	}

	for _, tm := range f.Teams {
		team := models.Team{
			Name:   tm.Name,
			IP:     tm.IP,
			Token:  models.GenerateToken(),
			Active: true,
		}
		if err := db.CreateTeam(ctx, &team); err != nil {
			return err
		}
		logger.Info("team created", "name", team.Name, "ip", team.IP)
	}

	if err := seedCaches(ctx, db, c); err != nil {
		return err
	}
	logger.Info("game initialized",
		"teams", len(f.Teams), "tasks", len(f.Tasks), "start_time", startTime)
	return runTokens(ctx, db)
}

func seedCaches(ctx context.Context, db *database.DB, c *cache.Cache) error {
	teams, err := db.Teams(ctx)
	if err != nil {
		return err
	}
	if err := c.SetTeams(ctx, teams); err != nil {
		return err
	}
	tasks, err := db.Tasks(ctx)
	if err != nil {
		return err
	}
	if err := c.SetTasks(ctx, tasks); err != nil {
		return err
	}
	return c.SetRealRound(ctx, 0)
}

func runTokens(ctx context.Context, db *database.DB) error {
	teams, err := db.Teams(ctx)
	if err != nil {
		return err
	}
	for _, t := range teams {
		fmt.Printf("%s\t%s\n", t.Name, t.Token)
	}
	return nil
}

func runReset(ctx context.Context, db *database.DB, c *cache.Cache, logger *slog.Logger) error {
	if err := db.Reset(ctx); err != nil {
		return err
	}
	store := c.Store()
	if err := store.Del(ctx,
		cache.KeyRealRound, cache.KeyGameConfig, cache.KeyGameState,
		cache.KeyTeams, cache.KeyTasks, cache.KeyAttackData); err != nil {
		return err
	}
	logger.Info("game data dropped")
	return nil
}

// parseStartTime accepts RFC 3339 or "2006-01-02 15:04:05" in the game
// timezone.
func parseStartTime(value, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("timezone %q: %w", tz, err)
	}
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_time %q: %w", value, err)
	}
	return t, nil
}
