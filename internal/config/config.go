// Package config loads the orchestrator configuration file and validates
// audit settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Network      NetworkConfig      `yaml:"network"`
	Cache        CacheConfig        `yaml:"cache"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
	UI           UIConfig           `yaml:"ui"`
	Audits       []Audit            `yaml:"audits"`
}

// OrchestratorConfig controls the consumer loop and plugin workers.
type OrchestratorConfig struct {
	Workers      int           `yaml:"workers"`
	DatabaseDir  string        `yaml:"database_dir"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	ExitWhenIdle bool          `yaml:"exit_when_idle"`
}

// NetworkConfig bounds plugin connections per host.
type NetworkConfig struct {
	MaxConnectionsPerHost int     `yaml:"max_connections_per_host"`
	SlotsPerSecond        float64 `yaml:"slots_per_second"`
	Burst                 int     `yaml:"burst"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // memory|redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
	File   string `yaml:"file"`
}

// UIConfig selects the user interface.
type UIConfig struct {
	Mode string `yaml:"mode"` // console|none
}

// Defaults.
const (
	DefaultWorkers     = 4
	DefaultDatabaseDir = "audits"
	DefaultStopTimeout = 10 * time.Second
	DefaultMaxPerHost  = 4
	DefaultKeyPrefix   = "auditcore"
	DefaultMetricsAddr = ":9464"
	DefaultMetricsPath = "/metrics"
)

// Default returns a configuration with every default applied and no audits.
func Default() *Config {
	cfg := &Config{Orchestrator: OrchestratorConfig{ExitWhenIdle: true}}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a YAML config file, then applies defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &Config{Orchestrator: OrchestratorConfig{ExitWhenIdle: true}}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.Workers <= 0 {
		c.Orchestrator.Workers = DefaultWorkers
	}
	if c.Orchestrator.DatabaseDir == "" {
		c.Orchestrator.DatabaseDir = DefaultDatabaseDir
	}
	if c.Orchestrator.StopTimeout <= 0 {
		c.Orchestrator.StopTimeout = DefaultStopTimeout
	}
	if c.Network.MaxConnectionsPerHost == 0 {
		c.Network.MaxConnectionsPerHost = DefaultMaxPerHost
	}
	if c.Network.SlotsPerSecond > 0 && c.Network.Burst <= 0 {
		c.Network.Burst = 1
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Redis.KeyPrefix == "" {
		c.Cache.Redis.KeyPrefix = DefaultKeyPrefix
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.UI.Mode == "" {
		c.UI.Mode = "console"
	}
}

// Validate checks the orchestrator settings and every configured audit.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.redis.addr: required for the redis backend"))
	}
	switch c.UI.Mode {
	case "console", "none":
	default:
		errs = append(errs, fmt.Errorf("ui.mode: unknown mode %q", c.UI.Mode))
	}
	if c.Network.MaxConnectionsPerHost < 0 {
		errs = append(errs, errors.New("network.max_connections_per_host: must not be negative"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	for i, a := range c.Audits {
		for _, v := range ValidateAudit(a) {
			errs = append(errs, fmt.Errorf("audits[%d]: %w", i, v))
		}
	}
	return errors.Join(errs...)
}
