package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
admin:
  username: admin
  password: secret
storages:
  db:
    host: postgres
    port: 5432
    user: adarena
    password: pw
    dbname: adarena
  redis:
    host: redis
    port: 6379
game:
  round_time: 60
  flag_lifetime: 5
  flag_prefix: CTF_
  start_time: "2026-09-01T10:00:00Z"
tasks:
  - name: web
    checker: web/checker.py
    puts: 1
    gets: 1
  - name: crypto
    checker: /opt/checkers/crypto.py
    puts: 2
    gets: 1
    checker_timeout: 30
    places: 3
teams:
  - name: alpha
    ip: 10.0.0.1
  - name: bravo
    ip: 10.0.0.2
`

func TestLoadAppliesDefaults(t *testing.T) {
	f, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "UTC", f.Game.Timezone)
	assert.Equal(t, 2500, f.Game.DefaultScore)
	assert.Equal(t, 10.0, f.Game.GameHardness)
	assert.Equal(t, "/checkers/", f.Game.CheckersPath)

	require.Len(t, f.Tasks, 2)
	web := f.Tasks[0]
	assert.Equal(t, 10, web.CheckerTimeout)
	assert.Equal(t, "hackerdom", web.CheckerType)
	assert.Equal(t, 1, web.Places)
	assert.Equal(t, 2500, web.DefaultScore)

	crypto := f.Tasks[1]
	assert.Equal(t, 30, crypto.CheckerTimeout)
	assert.Equal(t, 3, crypto.Places)

	require.Len(t, f.Teams, 2)
	assert.Equal(t, "10.0.0.1", f.Teams[0].IP)
}

func TestLoadRejectsBadGameSettings(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing round_time", `
game:
  flag_lifetime: 5
`, "round_time"},
		{"missing flag_lifetime", `
game:
  round_time: 60
`, "flag_lifetime"},
		{"hardness below one", `
game:
  round_time: 60
  flag_lifetime: 5
  game_hardness: 0.5
`, "game_hardness"},
		{"task without checker", `
game:
  round_time: 60
  flag_lifetime: 5
tasks:
  - name: web
`, "checker"},
		{"team without ip", `
game:
  round_time: 60
  flag_lifetime: 5
teams:
  - name: alpha
`, "name and ip"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{Host: "pg", Port: 5432, User: "u", Password: "p", DBName: "game"}
	assert.Equal(t, "postgres://u:p@pg:5432/game?sslmode=disable", d.URL())
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "redis", Port: 6379}
	assert.Equal(t, "redis:6379", r.Addr())
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_DB",
		"REDIS_HOST", "REDIS_PORT", "ADMIN_USERNAME", "PORT", "JOBS", "CHECKERS",
	} {
		t.Setenv(key, "")
	}

	e := FromEnv()
	assert.Equal(t, "postgres", e.PostgresHost)
	assert.Equal(t, 5432, e.PostgresPort)
	assert.Equal(t, "adarena", e.PostgresUser)
	assert.Equal(t, "redis:6379", e.RedisAddr())
	assert.Equal(t, "admin", e.AdminUsername)
	assert.Equal(t, 8000, e.Port)
	assert.Equal(t, 20, e.Jobs)
	assert.Equal(t, 10, e.Checkers)
	assert.Equal(t, "postgres://adarena:@postgres:5432/adarena?sslmode=disable", e.DatabaseURL())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "15432")
	t.Setenv("JOBS", "not-a-number")

	e := FromEnv()
	assert.Equal(t, "db.internal", e.PostgresHost)
	assert.Equal(t, 15432, e.PostgresPort)
	assert.Equal(t, 20, e.Jobs)
}

func TestPortOr(t *testing.T) {
	t.Setenv("PORT", "")
	assert.Equal(t, 5000, PortOr(5000))
	t.Setenv("PORT", "9999")
	assert.Equal(t, 9999, PortOr(5000))
}
