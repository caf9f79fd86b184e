package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// Partition balancers accepted in producer.balancer.
const (
	BalancerHash       = "hash"
	BalancerLeastBytes = "least_bytes"
)

// Config is the kafka section of the application config, shared by the
// producer and the consumer.
type Config struct {
	Brokers      []string       `yaml:"brokers"`
	RequiredAcks int            `yaml:"required_acks" default:"-1"`
	Compression  string         `yaml:"compression" default:"snappy"`
	Producer     ProducerConfig `yaml:"producer"`
	Consumer     ConsumerConfig `yaml:"consumer"`
}

type ProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	Linger       time.Duration `yaml:"linger" default:"50ms"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
	// Balancer "hash" keeps every record of one key on one partition.
	Balancer string `yaml:"balancer" default:"hash"`
}

type ConsumerConfig struct {
	// Enabled is read by the application; the consumer itself ignores it.
	Enabled    bool          `yaml:"enabled"`
	GroupID    string        `yaml:"group_id" default:"runguard"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	MaxWait    time.Duration `yaml:"max_wait" default:"500ms"`
}

// DefaultConfig returns a Config with every default tag applied and no brokers.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	return c
}

// Validate reports settings kafka-go would misbehave on.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers cannot be empty"))
	}
	switch c.RequiredAcks {
	case -1, 0, 1:
	default:
		errs = append(errs, fmt.Errorf("kafka.required_acks must be -1, 0 or 1, got %d", c.RequiredAcks))
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("kafka.compression: unsupported %q", c.Compression))
	}
	switch c.Producer.Balancer {
	case BalancerHash, BalancerLeastBytes:
	default:
		errs = append(errs, fmt.Errorf("kafka.producer.balancer: unsupported %q", c.Producer.Balancer))
	}
	if c.Consumer.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("kafka.consumer.retry_max cannot be negative"))
	}
	if c.Consumer.BackoffMin > c.Consumer.BackoffMax {
		errs = append(errs, fmt.Errorf("kafka.consumer.backoff_min %s exceeds backoff_max %s", c.Consumer.BackoffMin, c.Consumer.BackoffMax))
	}
	return errors.Join(errs...)
}
