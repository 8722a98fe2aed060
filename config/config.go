// Package config loads and validates the server configuration from
// YAML, applying defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optseb/spinemlnet/errors"
)

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the TCP address clients dial, host:port.
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig holds the per-connection protocol tunables.
type EngineConfig struct {
	RetryBudget   int           `yaml:"retry_budget"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	MaxNameLength int           `yaml:"max_name_length"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NATSConfig controls the optional frame tap.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr:      ":50091",
		ShutdownTimeout: 10 * time.Second,
		Engine: EngineConfig{
			RetryBudget:   100,
			PollInterval:  10 * time.Millisecond,
			WriteTimeout:  10 * time.Second,
			MaxNameLength: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "spineml.frames",
			Name:          "spinemlnet",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, overlays it on the defaults, applies environment
// overrides and validates the result. An empty path yields the
// defaults (still environment-overridden and validated).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapFatal(err, "config", "Load", "read file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment. Only the NATS URL
// is overridable; everything else belongs in the file.
func (c *Config) applyEnv() {
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
}

// Validate checks the configuration for values the server cannot run
// with.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
			"config", "Validate", "check")
	}

	if c.ListenAddr == "" {
		return invalid("listen_addr is required")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}
	if c.Engine.RetryBudget <= 0 {
		return invalid("engine.retry_budget must be positive")
	}
	if c.Engine.PollInterval <= 0 {
		return invalid("engine.poll_interval must be positive")
	}
	if c.Engine.WriteTimeout <= 0 {
		return invalid("engine.write_timeout must be positive")
	}
	if c.Engine.MaxNameLength <= 0 {
		return invalid("engine.max_name_length must be positive")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid("metrics.port out of range")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return invalid("nats.url is required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return invalid("nats.subject_prefix is required when nats is enabled")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format must be text or json")
	}
	return nil
}
