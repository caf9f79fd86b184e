package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RunGuard/internal/domain/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 15*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, BackendNone, c.Backend.Type)
	assert.Nil(t, c.Backends())
	assert.Equal(t, 140.0, c.Engine.Lifecycle.ActivationThreshold)
	assert.Equal(t, "runguard", c.ClickHouse.Database)
	assert.Equal(t, 10, c.ClickHouse.MaxOpenConns)
	assert.Equal(t, "runguard", c.Redis.Prefix)
	assert.Equal(t, 30*time.Second, c.Redis.PoolTimeout)
}

func TestLoadInlinesRedisSection(t *testing.T) {
	path := writeConfig(t, `
redis:
  enabled: true
  addr: cache:6380
  pool_size: 4
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache:6380", c.Redis.Addr)
	assert.Equal(t, 4, c.Redis.PoolSize)
	assert.Equal(t, 2, c.Redis.MinIdleConns, "unset keys keep their defaults")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
backend:
  type: multi
  targets: [kafka, clickhouse]
kafka:
  brokers: ["k1:9092"]
engine:
  lifecycle:
    activation_threshold: 200
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, []string{"kafka", "clickhouse"}, c.Backends())
	assert.Equal(t, 200.0, c.Engine.Lifecycle.ActivationThreshold)
	assert.Equal(t, 140.0, c.Engine.Lifecycle.DeactivationThreshold, "untouched fields keep defaults")
	assert.Equal(t, "runguard.outputs", c.Kafka.OutputsTopic)
	assert.Equal(t, []string{"k1:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "hash", c.Kafka.Producer.Balancer)
	assert.Equal(t, 3, c.Kafka.Consumer.RetryMax)
}

func TestLoadRejectsInvalidEngine(t *testing.T) {
	path := writeConfig(t, `
engine:
  same_dir:
    resume_triggers: [ZZ, Anti2A2]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestValidateBackendRequirements(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.Backend.Type = "mongo" },
		"kafka no brokers":  func(c *Config) { c.Backend.Type = BackendKafka },
		"postgres no dsn":   func(c *Config) { c.Backend.Type = BackendPostgres },
		"multi empty":       func(c *Config) { c.Backend.Type = BackendMulti },
		"multi bad target":  func(c *Config) { c.Backend.Type = BackendMulti; c.Backend.Targets = []string{"s3"} },
		"consumer no topic": func(c *Config) { c.Kafka.Consumer.Enabled = true; c.Kafka.Brokers = []string{"k"}; c.Kafka.BlocksTopic = "" },
		"bad port":          func(c *Config) { c.Server.Port = 0 },
		"clickhouse bad db": func(c *Config) { c.Backend.Type = BackendClickHouse; c.ClickHouse.Database = "a-b" },
		"kafka bad codec":   func(c *Config) { c.Backend.Type = BackendKafka; c.Kafka.Brokers = []string{"k"}; c.Kafka.Compression = "brotli" },
	}
	for name, mutate := range cases {
		c, err := Default()
		require.NoError(t, err)
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "environment: dev\n")
	t.Setenv("RUNGUARD_ENV", "prod")
	t.Setenv("BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", c.Environment)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestExampleConfigLoads(t *testing.T) {
	_, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
}
