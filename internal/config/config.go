// Package config assembles process configuration from an optional .env file
// and STREAM_DROP_* environment variables layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stream-drop/server"
	"stream-drop/server/internal/physics"
	"stream-drop/server/logging"
	"stream-drop/server/powerups/catalog"
)

// Game mirrors physics.Tuning so each constant can be set individually.
type Game struct {
	PlayWidth             float64       `env:"PLAY_WIDTH"`
	PlayHeight            float64       `env:"PLAY_HEIGHT"`
	PlatformY             float64       `env:"PLATFORM_Y"`
	EntityRadius          float64       `env:"ENTITY_RADIUS"`
	Gravity               float64       `env:"GRAVITY"`
	BounceDamping         float64       `env:"BOUNCE_DAMPING"`
	MinHorizontalVelocity float64       `env:"MIN_HORIZONTAL_VELOCITY"`
	MaxHorizontalVelocity float64       `env:"MAX_HORIZONTAL_VELOCITY"`
	HorizontalDrift       float64       `env:"HORIZONTAL_DRIFT"`
	PlatformWidthRatio    float64       `env:"PLATFORM_WIDTH_RATIO"`
	CenterBandRatio       float64       `env:"CENTER_BAND_RATIO"`
	SpawnBandRatio        float64       `env:"SPAWN_BAND_RATIO"`
	BasePoints            int           `env:"BASE_POINTS"`
	CenterBonusPoints     int           `env:"CENTER_BONUS_POINTS"`
	MaxFallTime           time.Duration `env:"MAX_FALL_TIME"`
}

func gameFrom(t physics.Tuning) Game {
	return Game{
		PlayWidth:             t.PlayWidth,
		PlayHeight:            t.PlayHeight,
		PlatformY:             t.PlatformY,
		EntityRadius:          t.EntityRadius,
		Gravity:               t.Gravity,
		BounceDamping:         t.BounceDamping,
		MinHorizontalVelocity: t.MinHorizontalVelocity,
		MaxHorizontalVelocity: t.MaxHorizontalVelocity,
		HorizontalDrift:       t.HorizontalDrift,
		PlatformWidthRatio:    t.PlatformWidthRatio,
		CenterBandRatio:       t.CenterBandRatio,
		SpawnBandRatio:        t.SpawnBandRatio,
		BasePoints:            t.BasePoints,
		CenterBonusPoints:     t.CenterBonusPoints,
		MaxFallTime:           t.MaxFallTime,
	}
}

// Tuning converts the game constants for the physics world.
func (g Game) Tuning() physics.Tuning {
	return physics.Tuning{
		PlayWidth:             g.PlayWidth,
		PlayHeight:            g.PlayHeight,
		PlatformY:             g.PlatformY,
		EntityRadius:          g.EntityRadius,
		Gravity:               g.Gravity,
		BounceDamping:         g.BounceDamping,
		MinHorizontalVelocity: g.MinHorizontalVelocity,
		MaxHorizontalVelocity: g.MaxHorizontalVelocity,
		HorizontalDrift:       g.HorizontalDrift,
		PlatformWidthRatio:    g.PlatformWidthRatio,
		CenterBandRatio:       g.CenterBandRatio,
		SpawnBandRatio:        g.SpawnBandRatio,
		BasePoints:            g.BasePoints,
		CenterBonusPoints:     g.CenterBonusPoints,
		MaxFallTime:           g.MaxFallTime,
	}
}

// Config is the full process configuration.
type Config struct {
	HTTPAddr    string   `env:"HTTP_ADDR"`
	DBPath      string   `env:"DB_PATH"`
	CatalogPath string   `env:"CATALOG_PATH"`
	Admins      []string `env:"ADMINS" envSeparator:","`

	Seed             string        `env:"SEED"`
	TickRate         int           `env:"TICK_RATE"`
	CatchupMaxTicks  int           `env:"CATCHUP_MAX_TICKS"`
	CommandCapacity  int           `env:"COMMAND_CAPACITY"`
	PerActorLimit    int           `env:"PER_ACTOR_LIMIT"`
	BroadcastEvery   int           `env:"BROADCAST_EVERY"`
	CleanupDelay     time.Duration `env:"CLEANUP_DELAY"`
	DropCooldown     time.Duration `env:"DROP_COOLDOWN"`
	BuyCooldown      time.Duration `env:"BUY_COOLDOWN"`
	ActivateCooldown time.Duration `env:"ACTIVATE_COOLDOWN"`
	ActivationPolicy string        `env:"ACTIVATION_POLICY"`

	LogSinks       []string `env:"LOG_SINKS" envSeparator:","`
	LogJSONPath    string   `env:"LOG_JSON_PATH"`
	LogMinSeverity string   `env:"LOG_MIN_SEVERITY"`
	EnablePprof    bool     `env:"ENABLE_PPROF"`

	Game Game `envPrefix:"GAME_"`
}

// Default returns the built-in configuration.
func Default() Config {
	hub := server.DefaultHubConfig()
	logCfg := logging.DefaultConfig()
	return Config{
		HTTPAddr:         ":8080",
		DBPath:           "data/stream-drop.db",
		CatalogPath:      catalog.DefaultPath(),
		Seed:             hub.Seed,
		TickRate:         hub.TickRate,
		CatchupMaxTicks:  hub.CatchupMaxTicks,
		CommandCapacity:  hub.CommandCapacity,
		PerActorLimit:    hub.PerActorLimit,
		BroadcastEvery:   hub.BroadcastEvery,
		CleanupDelay:     hub.CleanupDelay,
		DropCooldown:     hub.Cooldowns.Drop,
		BuyCooldown:      hub.Cooldowns.Buy,
		ActivateCooldown: hub.Cooldowns.Activate,
		ActivationPolicy: string(hub.ActivationPolicy),
		LogSinks:         append([]string(nil), logCfg.EnabledSinks...),
		LogJSONPath:      logCfg.JSON.FilePath,
		LogMinSeverity:   logCfg.MinimumSeverity.String(),
		Game:             gameFrom(hub.Tuning),
	}
}

// Load reads envFile when it exists, then applies the environment over
// Default. Variables already set in the process win over the file.
func Load(envFile string) (Config, error) {
	if path := strings.TrimSpace(envFile); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg := Default()
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: db path is required")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick rate must be positive, got %d", c.TickRate)
	}
	if _, err := server.ParseActivationPolicy(c.ActivationPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, ok := logging.ParseSeverity(c.LogMinSeverity); !ok {
		return fmt.Errorf("config: unknown log severity %q", c.LogMinSeverity)
	}
	if err := c.Game.Tuning().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Hub translates the configuration into hub settings. Logger, metrics and
// clock are left for the caller.
func (c Config) Hub() server.HubConfig {
	policy, _ := server.ParseActivationPolicy(c.ActivationPolicy)
	return server.HubConfig{
		Tuning:          c.Game.Tuning(),
		Seed:            c.Seed,
		TickRate:        c.TickRate,
		CatchupMaxTicks: c.CatchupMaxTicks,
		CommandCapacity: c.CommandCapacity,
		PerActorLimit:   c.PerActorLimit,
		BroadcastEvery:  c.BroadcastEvery,
		CleanupDelay:    c.CleanupDelay,
		Cooldowns: server.CooldownConfig{
			Drop:     c.DropCooldown,
			Buy:      c.BuyCooldown,
			Activate: c.ActivateCooldown,
		},
		ActivationPolicy: policy,
	}
}

// Logging translates the log settings for the event router.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	if c.LogJSONPath != "" {
		cfg.JSON.FilePath = c.LogJSONPath
	}
	if severity, ok := logging.ParseSeverity(c.LogMinSeverity); ok {
		cfg.MinimumSeverity = severity
	}
	return cfg
}
