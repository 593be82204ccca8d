// Package config loads songquiz settings from built-in defaults, an optional
// YAML file, SONGQUIZ_* environment variables and command-line flags, each
// layer overriding the one before.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/songquiz/internal/fsrs"
	"github.com/conorfennell/songquiz/internal/validation"
)

const envPrefix = "SONGQUIZ_"

type Config struct {
	DB      DBConfig      `koanf:"db"`
	Server  ServerConfig  `koanf:"server"`
	Session SessionConfig `koanf:"session"`
	FSRS    FSRSConfig    `koanf:"fsrs"`
	Sync    SyncConfig    `koanf:"sync"`
	Log     LogConfig     `koanf:"log"`
}

type DBConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ServerConfig struct {
	Listen          string        `koanf:"listen" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       float64       `koanf:"rate_limit" validate:"gte=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"gte=0"`
}

type SessionConfig struct {
	Size           int           `koanf:"size" validate:"gt=0,max=1000"`
	TTL            time.Duration `koanf:"ttl" validate:"gte=0"`
	Shuffle        bool          `koanf:"shuffle"`
	OrderDueByDate bool          `koanf:"order_due_by_date"`
}

// FSRSConfig mirrors fsrs.Params. Empty weights or steps keep the defaults.
type FSRSConfig struct {
	DesiredRetention float64         `koanf:"desired_retention" validate:"gt=0,lte=1"`
	MaximumInterval  int             `koanf:"maximum_interval" validate:"gt=0"`
	EnableFuzz       bool            `koanf:"enable_fuzz"`
	FuzzSeed         uint64          `koanf:"fuzz_seed"`
	Weights          []float64       `koanf:"weights" validate:"omitempty,len=21"`
	LearningSteps    []time.Duration `koanf:"learning_steps"`
	RelearningSteps  []time.Duration `koanf:"relearning_steps"`
}

type SyncConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
	OnStart  bool   `koanf:"on_start"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

func defaults() map[string]any {
	return map[string]any{
		"db.path":                   "songquiz.db",
		"server.listen":             ":8080",
		"server.shutdown_timeout":   "10s",
		"server.rate_limit":         0,
		"server.rate_burst":         0,
		"session.size":              20,
		"session.ttl":               "2h",
		"session.shuffle":           false,
		"session.order_due_by_date": false,
		"fsrs.desired_retention":    0.9,
		"fsrs.maximum_interval":     36500,
		"fsrs.enable_fuzz":          true,
		"fsrs.fuzz_seed":            0,
		"sync.repos_dir":            "repos",
		"sync.on_start":             true,
		"log.level":                 "info",
		"log.format":                "text",
	}
}

// flagKeys maps command-line flags onto configuration keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"db":            "db.path",
	"listen":        "server.listen",
	"session-size":  "session.size",
	"shuffle":       "session.shuffle",
	"repos-dir":     "sync.repos_dir",
	"sync-on-start": "sync.on_start",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

// RegisterFlags adds the configuration flags to fs. Their defaults are only
// shown in help output; the built-in defaults live in this package.
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", d["db.path"].(string), "Path to the SQLite database file")
	fs.String("listen", d["server.listen"].(string), "HTTP listen address")
	fs.Int("session-size", d["session.size"].(int), "Questions per quiz session")
	fs.Bool("shuffle", false, "Shuffle the order questions are presented in")
	fs.String("repos-dir", d["sync.repos_dir"].(string), "Directory git sources are cloned into")
	fs.Bool("sync-on-start", d["sync.on_start"].(bool), "Sync all sources when the server starts")
	fs.String("log-level", d["log.level"].(string), "Log level: debug, info, warn or error")
	fs.String("log-format", d["log.format"].(string), "Log format: text or json")
}

// Load builds the configuration. fs must already be parsed and carry the
// flags from RegisterFlags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey turns SONGQUIZ_SESSION_ORDER_DUE_BY_DATE into
// session.order_due_by_date: the first underscore separates the section.
// Comma-separated values become lists.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if strings.Contains(value, ",") {
		return key, strings.Split(value, ",")
	}
	return key, value
}

func flagKey(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	return key, f.Value.String()
}

// Params converts the settings to scheduler parameters.
func (c FSRSConfig) Params() *fsrs.Params {
	p := fsrs.DefaultParams()
	p.DesiredRetention = c.DesiredRetention
	p.MaximumInterval = c.MaximumInterval
	p.EnableFuzz = c.EnableFuzz
	if len(c.Weights) == len(p.Weights) {
		copy(p.Weights[:], c.Weights)
	}
	if len(c.LearningSteps) > 0 {
		p.LearningSteps = c.LearningSteps
	}
	if len(c.RelearningSteps) > 0 {
		p.RelearningSteps = c.RelearningSteps
	}
	return p
}

// Fuzzer returns the interval fuzzer, or nil when fuzzing is off.
func (c FSRSConfig) Fuzzer() fsrs.Fuzzer {
	if !c.EnableFuzz {
		return nil
	}
	return fsrs.SeededFuzzer{Seed: c.FuzzSeed}
}

// SlogLevel parses the configured level.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
