package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"RunGuard/internal/services/engine"
	"RunGuard/pkg/cache"
	pkgch "RunGuard/pkg/clickhouse"
	xhttp "RunGuard/pkg/http"
	pkgkafka "RunGuard/pkg/kafka"
)

// Backend types accepted by backend.type.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendMulti      = "multi"
)

type Config struct {
	Environment string             `yaml:"environment" default:"development"`
	Server      xhttp.ServerConfig `yaml:"server"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Backend struct {
		Type string `yaml:"type" default:"none"`

		// Targets lists the recorders fanned out to when Type is multi.
		Targets []string `yaml:"targets"`
	} `yaml:"backend"`
	Kafka struct {
		pkgkafka.Config `yaml:",inline"`
		BlocksTopic     string `yaml:"blocks_topic" default:"runguard.blocks"`
		OutputsTopic    string `yaml:"outputs_topic" default:"runguard.outputs"`
	} `yaml:"kafka"`
	ClickHouse pkgch.Config `yaml:"clickhouse"`
	Postgres   struct {
		DSN         string        `yaml:"dsn"`
		MaxConns    int32         `yaml:"max_conns" default:"10"`
		MinConns    int32         `yaml:"min_conns" default:"1"`
		ConnTimeout time.Duration `yaml:"conn_timeout" default:"5s"`
	} `yaml:"postgres"`
	Redis struct {
		// Enabled switches snapshots from the in-process cache to Redis.
		Enabled           bool `yaml:"enabled"`
		cache.RedisConfig `yaml:",inline"`
	} `yaml:"redis"`
	Session struct {
		SnapshotTTL   time.Duration `yaml:"snapshot_ttl" default:"24h"`
		SnapshotEvery int           `yaml:"snapshot_every" default:"50"`
		MaxSessions   int           `yaml:"max_sessions" default:"1000"`

		// BlocksPerSecond caps each session's block rate; 0 disables the cap.
		BlocksPerSecond float64 `yaml:"blocks_per_second"`
		Burst           int     `yaml:"burst" default:"50"`
		StreamBuffer    int     `yaml:"stream_buffer" default:"64"`
	} `yaml:"session"`
	Engine engine.Config `yaml:"engine"`
}

// Default returns a configuration populated from the default tags.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load reads a YAML configuration file over the defaults and validates it.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment variables
// and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RUNGUARD_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BLOCKS_TOPIC"); v != "" {
		c.Kafka.BlocksTopic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Backends returns the recorder types selected by backend.type.
func (c *Config) Backends() []string {
	if c.Backend.Type == BackendMulti {
		return c.Backend.Targets
	}
	if c.Backend.Type == BackendNone {
		return nil
	}
	return []string{c.Backend.Type}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment == "" {
		errs = append(errs, fmt.Errorf("environment is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch c.Backend.Type {
	case BackendNone, BackendKafka, BackendClickHouse, BackendPostgres:
	case BackendMulti:
		if len(c.Backend.Targets) == 0 {
			errs = append(errs, fmt.Errorf("backend.targets cannot be empty for multi"))
		}
		for _, t := range c.Backend.Targets {
			if t != BackendKafka && t != BackendClickHouse && t != BackendPostgres {
				errs = append(errs, fmt.Errorf("backend.targets: unsupported %q", t))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("backend.type must be one of none, kafka, clickhouse, postgres, multi, got '%s'", c.Backend.Type))
	}

	needsKafka := c.Kafka.Consumer.Enabled
	for _, b := range c.Backends() {
		switch b {
		case BackendKafka:
			needsKafka = true
			if c.Kafka.OutputsTopic == "" {
				errs = append(errs, fmt.Errorf("kafka.outputs_topic is required"))
			}
		case BackendPostgres:
			if c.Postgres.DSN == "" {
				errs = append(errs, fmt.Errorf("postgres.dsn is required"))
			}
		case BackendClickHouse:
			if err := c.ClickHouse.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if needsKafka {
		if err := c.Kafka.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Kafka.Consumer.Enabled && c.Kafka.BlocksTopic == "" {
		errs = append(errs, fmt.Errorf("kafka.blocks_topic is required"))
	}
	if c.Session.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("session.snapshot_every must be >= 0"))
	}
	if c.Session.BlocksPerSecond < 0 || c.Session.Burst < 0 {
		errs = append(errs, fmt.Errorf("session rate limit must be >= 0"))
	}

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	return errors.Join(errs...)
}
