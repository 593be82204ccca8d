package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/songquiz/internal/fsrs"
)

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("songquiz", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.Bool("sync", false, "not a config flag")
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "songquiz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(parseFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "songquiz.db", cfg.DB.Path)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 20, cfg.Session.Size)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Session.Shuffle)
	assert.False(t, cfg.Session.OrderDueByDate)
	assert.InDelta(t, 0.9, cfg.FSRS.DesiredRetention, 1e-9)
	assert.Equal(t, 36500, cfg.FSRS.MaximumInterval)
	assert.True(t, cfg.FSRS.EnableFuzz)
	assert.Equal(t, "repos", cfg.Sync.ReposDir)
	assert.True(t, cfg.Sync.OnStart)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLayering(t *testing.T) {
	path := writeConfig(t, `
db:
  path: from-file.db
server:
  listen: ":9000"
  cors_origins:
    - https://quiz.example
session:
  size: 10
  order_due_by_date: true
fsrs:
  desired_retention: 0.85
  learning_steps: ["30s", "5m"]
log:
  level: debug
`)
	t.Setenv("SONGQUIZ_SESSION_SIZE", "15")
	t.Setenv("SONGQUIZ_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SONGQUIZ_FSRS_ENABLE_FUZZ", "false")

	cfg, err := Load(parseFlags(t, "--config", path, "--listen", ":7000", "--sync"))
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.DB.Path, "file overrides defaults")
	assert.Equal(t, []string{"https://quiz.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Session.OrderDueByDate)
	assert.Equal(t, 15, cfg.Session.Size, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.FSRS.EnableFuzz)
	assert.Equal(t, ":7000", cfg.Server.Listen, "flags override everything")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []time.Duration{30 * time.Second, 5 * time.Minute}, cfg.FSRS.LearningSteps)
}

func TestUnchangedFlagsDoNotOverride(t *testing.T) {
	t.Setenv("SONGQUIZ_DB_PATH", "env.db")
	cfg, err := Load(parseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.DB.Path)
}

func TestEnvList(t *testing.T) {
	t.Setenv("SONGQUIZ_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")
	cfg, err := Load(parseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidation(t *testing.T) {
	tests := map[string][]string{
		"bad level":      {"--log-level", "loud"},
		"bad format":     {"--log-format", "xml"},
		"zero size":      {"--session-size", "0"},
		"missing config": {"--config", "/does/not/exist.yaml"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(parseFlags(t, args...))
			assert.Error(t, err)
		})
	}

	t.Run("retention out of range", func(t *testing.T) {
		t.Setenv("SONGQUIZ_FSRS_DESIRED_RETENTION", "1.5")
		_, err := Load(parseFlags(t))
		assert.ErrorContains(t, err, "invalid config")
	})
}

func TestFSRSParams(t *testing.T) {
	c := FSRSConfig{
		DesiredRetention: 0.8,
		MaximumInterval:  365,
		EnableFuzz:       true,
		FuzzSeed:         7,
		LearningSteps:    []time.Duration{time.Minute},
	}
	p := c.Params()
	require.NoError(t, p.Validate())
	assert.InDelta(t, 0.8, p.DesiredRetention, 1e-9)
	assert.Equal(t, 365, p.MaximumInterval)
	assert.Equal(t, []time.Duration{time.Minute}, p.LearningSteps)
	assert.Equal(t, fsrs.DefaultParams().RelearningSteps, p.RelearningSteps)
	assert.Equal(t, fsrs.DefaultWeights, p.Weights)
	assert.Equal(t, fsrs.SeededFuzzer{Seed: 7}, c.Fuzzer())

	c.EnableFuzz = false
	assert.Nil(t, c.Fuzzer())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LogConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", LogConfig{Level: "warn"}.SlogLevel().String())
	assert.Equal(t, "INFO", LogConfig{Level: "nonsense"}.SlogLevel().String())
}
