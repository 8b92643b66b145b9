// Package config loads the game definition from config.yml and runtime
// settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// File is the top-level config.yml layout consumed by adarena-cli init.
type File struct {
	Admin    AdminConfig    `yaml:"admin"`
	Storages StoragesConfig `yaml:"storages"`
	Game     GameSection    `yaml:"game"`
	Tasks    []TaskSection  `yaml:"tasks"`
	Teams    []TeamSection  `yaml:"teams"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type StoragesConfig struct {
	Database DatabaseConfig `yaml:"db"`
	Cache    RedisConfig    `yaml:"redis"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// URL renders a lib/pq connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GameSection configures the round clock and scoring constants.
type GameSection struct {
	MaxRound         int     `yaml:"max_round"`
	RoundTime        int     `yaml:"round_time"`
	FlagPrefix       string  `yaml:"flag_prefix"`
	FlagLifetime     int     `yaml:"flag_lifetime"`
	Timezone         string  `yaml:"timezone"`
	StartTime        string  `yaml:"start_time"` // RFC 3339, interpreted in Timezone
	DefaultScore     int     `yaml:"default_score"`
	GameHardness     float64 `yaml:"game_hardness"`
	Inflation        bool    `yaml:"inflation"`
	VolgaAttacksMode bool    `yaml:"volga_attacks_mode"`
	CheckersPath     string  `yaml:"checkers_path"`
	EnvPath          string  `yaml:"env_path"`
}

// TaskSection is one vulnerable service entry. Checker is resolved relative
// to game.checkers_path unless absolute.
type TaskSection struct {
	Name           string `yaml:"name"`
	Checker        string `yaml:"checker"`
	Gets           int    `yaml:"gets"`
	Puts           int    `yaml:"puts"`
	Places         int    `yaml:"places"`
	CheckerTimeout int    `yaml:"checker_timeout"`
	CheckerType    string `yaml:"checker_type"`
	EnvPath        string `yaml:"env_path"`
	DefaultScore   int    `yaml:"default_score"`
}

type TeamSection struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

// Load reads and validates config.yml, applying per-task defaults.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.applyDefaults(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() error {
	g := &f.Game
	if g.RoundTime <= 0 {
		return fmt.Errorf("config: game.round_time must be positive, got %d", g.RoundTime)
	}
	if g.FlagLifetime <= 0 {
		return fmt.Errorf("config: game.flag_lifetime must be positive, got %d", g.FlagLifetime)
	}
	if g.Timezone == "" {
		g.Timezone = "UTC"
	}
	if g.DefaultScore == 0 {
		g.DefaultScore = 2500
	}
	if g.GameHardness == 0 {
		g.GameHardness = 10
	}
	if g.GameHardness < 1 {
		return fmt.Errorf("config: game.game_hardness must be >= 1, got %v", g.GameHardness)
	}
	if g.CheckersPath == "" {
		g.CheckersPath = "/checkers/"
	}
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.Name == "" {
			return fmt.Errorf("config: tasks[%d] has no name", i)
		}
		if t.Checker == "" {
			return fmt.Errorf("config: task %q has no checker", t.Name)
		}
		if t.CheckerTimeout == 0 {
			t.CheckerTimeout = 10
		}
		if t.CheckerType == "" {
			t.CheckerType = "hackerdom"
		}
		if t.Places == 0 {
			t.Places = 1
		}
		if t.DefaultScore == 0 {
			t.DefaultScore = g.DefaultScore
		}
		if t.EnvPath == "" {
			t.EnvPath = g.EnvPath
		}
	}
	for i, tm := range f.Teams {
		if tm.Name == "" || tm.IP == "" {
			return fmt.Errorf("config: teams[%d] needs both name and ip", i)
		}
	}
	return nil
}

// Env is the runtime environment every service reads at startup. config.yml
// is only read by adarena-cli; services get storage endpoints from here.
type Env struct {
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	Port     int
	Jobs     int // concurrent job handlers per worker
	Checkers int // concurrent checker subprocesses per worker
}

// FromEnv reads settings with the defaults used by the docker deployment.
func FromEnv() Env {
	return Env{
		PostgresHost:     envDefault("POSTGRES_HOST", "postgres"),
		PostgresPort:     envInt("POSTGRES_PORT", 5432),
		PostgresUser:     envDefault("POSTGRES_USER", "adarena"),
		PostgresPassword: envDefault("POSTGRES_PASSWORD", ""),
		PostgresDB:       envDefault("POSTGRES_DB", "adarena"),

		RedisHost:     envDefault("REDIS_HOST", "redis"),
		RedisPort:     envInt("REDIS_PORT", 6379),
		RedisPassword: envDefault("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		AdminUsername:     envDefault("ADMIN_USERNAME", "admin"),
		AdminPassword:     envDefault("ADMIN_PASSWORD", ""),
		AdminPasswordHash: envDefault("ADMIN_PASSWORD_HASH", ""),

		Port:     envInt("PORT", 8000),
		Jobs:     envInt("JOBS", 20),
		Checkers: envInt("CHECKERS", 10),
	}
}

// DatabaseURL renders the lib/pq connection string for the env settings.
func (e Env) DatabaseURL() string {
	return DatabaseConfig{
		Host:     e.PostgresHost,
		Port:     e.PostgresPort,
		User:     e.PostgresUser,
		Password: e.PostgresPassword,
		DBName:   e.PostgresDB,
	}.URL()
}

// RedisAddr renders the host:port pair for go-redis.
func (e Env) RedisAddr() string {
	return fmt.Sprintf("%s:%d", e.RedisHost, e.RedisPort)
}

// PortOr reads PORT with a per-service default: each binary listens
// somewhere else when the variable is unset.
func PortOr(def int) int {
	return envInt("PORT", def)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
