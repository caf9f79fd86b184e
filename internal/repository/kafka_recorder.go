package repository

import (
	"context"
	"strconv"

	"RunGuard/internal/domain/models"
	pkgkafka "RunGuard/pkg/kafka"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...pkgkafka.Header) error
	Close() error
}

// KafkaRecorder publishes every output to the outputs topic keyed by session
// id, so one session's outputs stay ordered on one partition.
type KafkaRecorder struct {
	producer publisher
	topic    string
}

func NewKafkaRecorder(producer *pkgkafka.Producer, topic string) *KafkaRecorder {
	return &KafkaRecorder{producer: producer, topic: topic}
}

func (r *KafkaRecorder) Name() string { return "kafka" }

func (r *KafkaRecorder) Record(ctx context.Context, out *models.BlockOutput) error {
	return r.producer.Publish(ctx, r.topic, []byte(out.SessionID), out,
		pkgkafka.Header{Key: "session_id", Value: []byte(out.SessionID)},
		pkgkafka.Header{Key: "block_index", Value: []byte(strconv.Itoa(out.Block.Index))},
	)
}

func (r *KafkaRecorder) Close() error {
	if r.producer != nil {
		return r.producer.Close()
	}
	return nil
}
