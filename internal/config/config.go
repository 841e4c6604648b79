// Package config loads the service configuration from CLASSREPLAY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Addr   string `env:"ADDR" envDefault:":8080"`
	DBPath string `env:"DB_PATH" envDefault:"./data/classreplay.db"`

	TickInterval   time.Duration `env:"TICK_INTERVAL" envDefault:"30ms"`
	DriftTolerance time.Duration `env:"DRIFT_TOLERANCE" envDefault:"500ms"`
	SeekCooldown   time.Duration `env:"SEEK_COOLDOWN" envDefault:"1s"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	ReapInterval       time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
	MaxSessions        int           `env:"MAX_SESSIONS" envDefault:"256"`

	FFprobePath    string        `env:"FFPROBE_PATH"`
	ProbeTimeout   time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	MediaLoadDelay time.Duration `env:"MEDIA_LOAD_DELAY" envDefault:"200ms"`
	MediaSeekDelay time.Duration `env:"MEDIA_SEEK_DELAY" envDefault:"150ms"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	CORSEnabled bool          `env:"CORS_ENABLED" envDefault:"false"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Prefix is prepended to every variable name.
const Prefix = "CLASSREPLAY_"

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the replay engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.DriftTolerance <= 0 {
		errs = append(errs, errors.New("drift tolerance must be positive"))
	}
	if c.SeekCooldown < 0 {
		errs = append(errs, errors.New("seek cooldown must not be negative"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("reap interval must be positive"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
