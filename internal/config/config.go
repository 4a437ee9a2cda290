// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/decentracode/attendme/internal/app/domain/session"
)

// Config holds all runtime settings for the attendance service.
type Config struct {
	Env  string `env:"APP_ENV,default=dev"`
	Port string `env:"PORT,default=8080"`

	// DatabaseURL selects postgres persistence. Empty falls back to the
	// in-memory store, which is only suitable for local development.
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	BalanceCacheTTL time.Duration `env:"BALANCE_CACHE_TTL,default=15s"`

	RPCURL        string        `env:"RPC_URL,required"`
	PrivateKey    string        `env:"REWARD_PRIVATE_KEY,required"`
	TokenContract string        `env:"TOKEN_CONTRACT,required"`
	TokenDecimals uint8         `env:"TOKEN_DECIMALS,default=18"`
	ChainTimeout  time.Duration `env:"CHAIN_TIMEOUT,default=30s"`

	ConfirmTimeout    time.Duration `env:"CLAIM_CONFIRM_TIMEOUT,default=2m"`
	ReconcileGrace    time.Duration `env:"CLAIM_RECONCILE_GRACE,default=10m"`
	ReconcileSchedule string        `env:"CLAIM_RECONCILE_SCHEDULE,default=@every 1m"`

	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN,default=120"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// SessionsFile points at a YAML list of sessions to seed on startup.
	SessionsFile string `env:"SESSIONS_FILE"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads .env when present and decodes the environment into a Config.
func Load() (Config, error) {
	// .env is a development convenience; a missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode environment: %w", err)
	}
	return cfg, nil
}

type sessionsFile struct {
	Sessions []struct {
		Code   string `yaml:"code"`
		Name   string `yaml:"name"`
		Active bool   `yaml:"active"`
	} `yaml:"sessions"`
}

// SessionSeeds reads the configured sessions file. Without one it returns the
// built-in default session so a fresh deployment accepts registrations.
func (c Config) SessionSeeds() ([]session.Session, error) {
	if c.SessionsFile == "" {
		return []session.Session{{Code: "SESSION123", Name: "Default Session", Active: true}}, nil
	}

	raw, err := os.ReadFile(c.SessionsFile)
	if err != nil {
		return nil, fmt.Errorf("config: read sessions file: %w", err)
	}

	var parsed sessionsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse sessions file: %w", err)
	}

	seeds := make([]session.Session, 0, len(parsed.Sessions))
	for _, s := range parsed.Sessions {
		if s.Code == "" {
			return nil, fmt.Errorf("config: sessions file entry without code")
		}
		seeds = append(seeds, session.Session{Code: s.Code, Name: s.Name, Active: s.Active})
	}
	return seeds, nil
}
