// Package config loads the server configuration by layering defaults, an
// optional YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"leaderkit/core"
)

// Config holds the complete server configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Redis   RedisConfig   `koanf:"redis"`
	Board   BoardConfig   `koanf:"board"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address           string        `koanf:"address"`
	PathPrefix        string        `koanf:"path_prefix"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// RedisConfig holds store connection configuration.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// BoardConfig holds the default options applied to leaderboards created
// through the API.
type BoardConfig struct {
	SortPolicy   string `koanf:"sort_policy"`
	UpdatePolicy string `koanf:"update_policy"`
	LimitTopN    int32  `koanf:"limit_top_n"`
}

// Options converts the board section into core options.
func (b BoardConfig) Options() core.Options {
	return core.Options{
		SortPolicy:   core.SortPolicy(b.SortPolicy),
		UpdatePolicy: core.UpdatePolicy(b.UpdatePolicy),
		LimitTopN:    b.LimitTopN,
	}.Normalize()
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Default returns a configuration with sensible defaults for development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Board: BoardConfig{
			SortPolicy:   string(core.HighToLow),
			UpdatePolicy: string(core.Replace),
			LimitTopN:    0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (Default())
//  2. file (YAML) if LEADERKIT_CONFIG is set
//  3. env (prefix LEADERKIT_; the first underscore after the prefix maps to
//     a dot and later ones are kept: LEADERKIT_SERVER_ADDRESS ->
//     server.address, LEADERKIT_BOARD_SORT_POLICY -> board.sort_policy)
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("LEADERKIT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("LEADERKIT_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LEADERKIT_"))
		return strings.Replace(s, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and returns detailed error messages.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Address == "" {
		errs = append(errs, "server.address cannot be empty")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr cannot be empty")
	}
	if c.Redis.PoolSize <= 0 {
		errs = append(errs, "redis.pool_size must be > 0")
	}
	switch core.SortPolicy(c.Board.SortPolicy) {
	case core.HighToLow, core.LowToHigh:
	default:
		errs = append(errs, fmt.Sprintf("board.sort_policy %q is not a valid sort policy", c.Board.SortPolicy))
	}
	switch core.UpdatePolicy(c.Board.UpdatePolicy) {
	case core.Replace, core.Aggregate, core.Best:
	default:
		errs = append(errs, fmt.Sprintf("board.update_policy %q is not a valid update policy", c.Board.UpdatePolicy))
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, "metrics.path cannot be empty when metrics are enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
