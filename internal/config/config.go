// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"unitsync/internal/metrics"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Config is the arbitrator process configuration.
type Config struct {
	Port              string        `env:"PORT"                envDefault:"8080"`
	TickRate          int           `env:"TICK_RATE"           envDefault:"30"`
	StatsPath         string        `env:"STATS_PATH"          envDefault:"internal/data/units.json"`
	Roster            []string      `env:"ROSTER"              envDefault:"footman,footman,archer"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	JWTKey            string        `env:"JWT_KEY"`
	TokenTTL          time.Duration `env:"TOKEN_TTL"           envDefault:"24h"`
	LobbyPasswordHash string        `env:"LOBBY_PASSWORD_HASH"`

	// Report labels, indexed by team.
	TeamNames          []string `env:"TEAM_NAMES"`
	Difficulty         string   `env:"DIFFICULTY"`
	DifficultyEquation string   `env:"DIFFICULTY_EQUATION"`
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("TICK_RATE must be positive, got %d", c.TickRate)
	}
	if len(c.Roster) == 0 {
		return errors.New("ROSTER must name at least one unit")
	}
	if _, err := metrics.ParseDifficulty(c.Difficulty); err != nil {
		return fmt.Errorf("DIFFICULTY: %w", err)
	}
	return nil
}

// BotConfig drives a headless owner.
type BotConfig struct {
	ServerURL string    `env:"SERVER_URL"    envDefault:"ws://localhost:8080/ws"`
	Token     string    `env:"BOT_TOKEN"`
	Password  string    `env:"BOT_PASSWORD"`
	TickRate  int       `env:"BOT_TICK_RATE" envDefault:"30"`
	Rally     []float64 `env:"BOT_RALLY"`
	// RallyHold keeps steering to the rally point for this long. Zero sends
	// a single order.
	RallyHold time.Duration `env:"BOT_RALLY_HOLD"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	if err := ParseEnv(&cfg); err != nil {
		return BotConfig{}, err
	}
	return cfg, cfg.Validate()
}

func (c BotConfig) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("BOT_TICK_RATE must be positive, got %d", c.TickRate)
	}
	if n := len(c.Rally); n != 0 && n != 3 {
		return fmt.Errorf("BOT_RALLY wants x,y,z, got %d values", n)
	}
	if c.RallyHold < 0 {
		return fmt.Errorf("BOT_RALLY_HOLD must not be negative, got %s", c.RallyHold)
	}
	return nil
}
