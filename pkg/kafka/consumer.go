package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"RunGuard/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads every registered topic with one goroutine per topic and
// handles messages strictly in partition order. Offsets are committed only
// after the handler succeeded or the message was parked in the DLQ.
type Consumer struct {
	cfg      ConsumerConfig
	brokers  []string
	log      *logger.Logger
	readers  map[string]messageReader
	handlers map[string]MessageHandler
	dlq      messageWriter
	hook     ConsumerHook
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer over cfg.Brokers using cfg.Consumer.
func NewConsumer(log *logger.Logger, cfg Config) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Consumer{
		cfg:      cfg.Consumer,
		brokers:  cfg.Brokers,
		log:      log,
		readers:  make(map[string]messageReader),
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
	}

	initConsumerMetricsOnce()

	if cfg.Consumer.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}

	return c, nil
}

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) error {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		return fmt.Errorf("handler already registered for topic %s", topic)
	}
	c.handlers[topic] = handler
	return nil
}

// WithConsumerHook sets a hook implementation for handling events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic, handler := range c.handlers {
		reader, ok := c.readers[topic]
		if !ok {
			reader = kafka.NewReader(kafka.ReaderConfig{
				Brokers:  c.brokers,
				Topic:    topic,
				GroupID:  c.cfg.GroupID,
				MinBytes: c.cfg.MinBytes,
				MaxBytes: c.cfg.MaxBytes,
				MaxWait:  c.cfg.MaxWait,
			})
			c.readers[topic] = reader
		}
		c.wg.Add(1)
		go c.consume(ctx, handler, reader)
		c.log.Info("kafka consumer started", logger.String("topic", topic), logger.String("group", c.cfg.GroupID))
	}
	return nil
}

// Stop cancels consumption, waits for in-flight messages and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("close kafka reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("close dlq writer", logger.Error(err))
			}
		}
	})

	return stopErr
}

func (c *Consumer) consume(ctx context.Context, handler MessageHandler, reader messageReader) {
	defer c.wg.Done()
	topic := handler.Topic()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}

		start := time.Now()
		result, err := c.process(ctx, handler, msg)
		if ctx.Err() != nil && err != nil {
			// shutting down mid-retry: leave the offset uncommitted for redelivery
			return
		}
		observeConsumerMetrics(topic, result, time.Since(start))

		if err := c.commitWithRetry(ctx, reader, msg, 3); err != nil {
			c.log.Error("kafka commit failed", logger.String("topic", topic),
				logger.Int("partition", msg.Partition), logger.Any("offset", msg.Offset), logger.Error(err))
		}
	}
}

// process runs the handler with retries. It returns the outcome label and
// the last handler error; a message that failed every attempt is written to
// the DLQ when one is configured.
func (c *Consumer) process(ctx context.Context, handler MessageHandler, msg kafka.Message) (string, error) {
	topic := handler.Topic()
	var err error
	attempts := 0
	for {
		attempts++
		hctx := c.hook.BeforeHandle(ctx, topic, msg)
		err = c.safeHandle(hctx, handler, msg.Value)
		c.hook.AfterHandle(hctx, topic, msg, err)
		if err == nil {
			return "ok", nil
		}
		if IsPermanent(err) || attempts > c.cfg.RetryMax {
			break
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return "aborted", err
		}
	}

	c.log.Error("kafka message failed",
		logger.String("topic", topic),
		logger.Int("partition", msg.Partition),
		logger.Any("offset", msg.Offset),
		logger.Int("attempts", attempts),
		logger.Bool("permanent", IsPermanent(err)),
		logger.Error(err),
	)
	if c.dlq == nil {
		return "dropped", err
	}
	dlqErr := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(topic)},
			{Key: "error", Value: []byte(err.Error())},
		},
	})
	if dlqErr != nil {
		c.log.Error("write to dlq failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(dlqErr))
	}
	return "dlq", err
}

func (c *Consumer) safeHandle(ctx context.Context, handler MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic in handler for topic %s: %v", handler.Topic(), r))
		}
	}()
	return handler.Handle(ctx, data)
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(ctx context.Context, reader messageReader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = reader.CommitMessages(cctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 30 {
		if e := min * time.Duration(1<<uint(attempt-1)); e > 0 && e < max {
			exp = e
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	// jitter up to 50%
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerMsgsTotal     *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          = make(chan struct{}, 1)
	consumerRegisterer    prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetConsumerMetricsRegisterer sets the registerer used by the first NewConsumer call.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	select {
	case consumerOnce <- struct{}{}:
		f := promauto.With(consumerRegisterer)
		consumerMsgsTotal = f.NewCounterVec(
			prometheus.CounterOpts{Name: "runguard_kafka_consumer_messages_total", Help: "Messages consumed by outcome"},
			[]string{"topic", "result"},
		)
		consumerHandleLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "runguard_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		)
	default:
	}
}

func observeConsumerMetrics(topic, result string, dur time.Duration) {
	if consumerMsgsTotal == nil {
		return
	}
	consumerMsgsTotal.WithLabelValues(topic, result).Inc()
	consumerHandleLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
