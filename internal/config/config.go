// Package config loads process settings from the environment and detector
// policy from CUE files.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all process configuration.
type Config struct {
	LogLevel    string `env:"INSIGHT_LOG_LEVEL" envDefault:"info"`
	DBPath      string `env:"INSIGHT_DB_PATH"`
	MaxEvents   int    `env:"INSIGHT_MAX_EVENTS" envDefault:"25000"`
	MaxFindings int    `env:"INSIGHT_MAX_FINDINGS" envDefault:"5000"`
	StreamQueue int    `env:"INSIGHT_STREAM_QUEUE" envDefault:"1000"`
	PolicyFile  string `env:"INSIGHT_POLICY_FILE"`

	// Redis alert sink; disabled when RedisAddr is empty.
	RedisAddr   string `env:"INSIGHT_REDIS_ADDR"`
	RedisStream string `env:"INSIGHT_REDIS_STREAM" envDefault:"insight:alerts"`
	RedisMaxLen int64  `env:"INSIGHT_REDIS_MAXLEN" envDefault:"10000"`
}

// Load reads configuration from environment variables. envFiles are
// loaded first when present (default ".env"); variables already set in the
// environment win.
func Load(envFiles ...string) (*Config, error) {
	// Optional, mainly for local development.
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"INSIGHT_MAX_EVENTS":   c.MaxEvents,
		"INSIGHT_MAX_FINDINGS": c.MaxFindings,
		"INSIGHT_STREAM_QUEUE": c.StreamQueue,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.RedisMaxLen < 0 {
		return fmt.Errorf("INSIGHT_REDIS_MAXLEN must not be negative, got %d", c.RedisMaxLen)
	}
	return nil
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn, and error (any case) to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
