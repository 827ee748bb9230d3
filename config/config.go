// Package config loads the YAML configuration of the acommand runtime and
// turns it into the options of the packages it configures.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// Config is the root document.
type Config struct {
	Logger    LoggerConfig     `yaml:"logger"`
	Runner    RunnerConfig     `yaml:"runner"`
	Store     StoreConfig      `yaml:"store"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RunnerConfig drives retries of dispatched commands.
type RunnerConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    BackoffConfig `yaml:"backoff"`
}

// BackoffConfig configures exponential backoff between attempts. A zero
// Base disables the delay.
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Max    time.Duration `yaml:"max"`
}

// StoreConfig selects where execution records are kept.
//
//	driver: memory | sqlite | redis
type StoreConfig struct {
	Driver string        `yaml:"driver"`
	DSN    string        `yaml:"dsn"`
	Table  string        `yaml:"table"`
	Addr   string        `yaml:"addr"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Service  string `yaml:"service"`
	Endpoint string `yaml:"endpoint"`
}

// ScheduleConfig dispatches Code with Params whenever Expression fires.
type ScheduleConfig struct {
	Expression string         `yaml:"expression"`
	Code       string         `yaml:"code"`
	Params     map[string]any `yaml:"params"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger:  LoggerConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Driver: DriverMemory},
		Metrics: MetricsConfig{Namespace: "acommand"},
		Tracing: TracingConfig{Service: "acommand"},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.CategoryBadInput, "failed to read config file").
			WithTextCode("CONFIG_READ_FAILED").
			WithMetadata(map[string]any{"path": path})
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CategoryBadInput, "failed to parse config file").
			WithTextCode("CONFIG_PARSE_FAILED")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	c.Logger.Level = strings.ToLower(strings.TrimSpace(c.Logger.Level))
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "acommand"
	}
	if c.Tracing.Service == "" {
		c.Tracing.Service = "acommand"
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	field := func(name, msg string) {
		errs = append(errs, errors.New(msg, errors.CategoryBadInput).
			WithTextCode("CONFIG_INVALID").
			WithMetadata(map[string]any{"field": name}))
	}

	switch c.Logger.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		field("logger.level", "unknown log level "+c.Logger.Level)
	}

	if c.Runner.MaxRetries < 0 {
		field("runner.max_retries", "max_retries cannot be negative")
	}
	if c.Runner.Timeout < 0 {
		field("runner.timeout", "timeout cannot be negative")
	}
	if c.Runner.Backoff.Base < 0 || c.Runner.Backoff.Max < 0 {
		field("runner.backoff", "backoff durations cannot be negative")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Store.DSN) == "" {
			field("store.dsn", "sqlite store requires a dsn")
		}
	case DriverRedis:
		if strings.TrimSpace(c.Store.Addr) == "" {
			field("store.addr", "redis store requires an addr")
		}
	default:
		field("store.driver", "unknown store driver "+c.Store.Driver)
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		field("tracing.endpoint", "tracing requires an endpoint")
	}

	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Expression) == "" || strings.TrimSpace(s.Code) == "" {
			errs = append(errs, errors.New("schedule requires an expression and a code", errors.CategoryBadInput).
				WithTextCode("CONFIG_INVALID").
				WithMetadata(map[string]any{"field": "schedules", "index": i}))
		}
	}

	return errors.Join(errs...)
}
