package cache

import "time"

// RedisConfig is the redis section of the application config.
type RedisConfig struct {
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	// Prefix namespaces every key so several deployments can share a server.
	Prefix string `yaml:"prefix" default:"runguard"`
}

// MemoryOption configures Memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// WithMemoryMaxSize caps the number of keys; the least recently used key is
// evicted on overflow.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		if size > 0 {
			c.MaxSize = size
		}
	}
}

// WithMemoryCleanup sets how often expired keys are swept.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if interval > 0 {
			c.CleanupInterval = interval
		}
	}
}
