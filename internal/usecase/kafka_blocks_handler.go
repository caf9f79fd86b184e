package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"RunGuard/internal/domain/models"
	domrepo "RunGuard/internal/domain/repository"
	pkgkafka "RunGuard/pkg/kafka"
)

// BlockProcessor forwards one block of one session.
type BlockProcessor interface {
	Process(ctx context.Context, sessionID string, b models.Block, source string) (*models.BlockOutput, error)
}

type sessionEnsurer interface {
	GetOrCreate(ctx context.Context, id string) (*SessionRunner, error)
}

// KafkaBlocksHandler feeds the blocks topic into sessions. Unknown session
// ids are created on their first block.
type KafkaBlocksHandler struct {
	topic    string
	sessions sessionEnsurer
	proc     BlockProcessor
	metrics  domrepo.Metrics
	validate *validator.Validate
}

func NewKafkaBlocksHandler(topic string, sessions sessionEnsurer, proc BlockProcessor, metrics domrepo.Metrics) *KafkaBlocksHandler {
	return &KafkaBlocksHandler{topic: topic, sessions: sessions, proc: proc, metrics: metrics, validate: validator.New()}
}

func (h *KafkaBlocksHandler) Topic() string { return h.topic }

// incoming message schema: {session_id, index, direction, magnitude}
func (h *KafkaBlocksHandler) Handle(ctx context.Context, data []byte) error {
	var m models.BlockMessage
	if err := json.Unmarshal(data, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode block message: %w", err))
	}
	if err := h.validate.StructCtx(ctx, m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return pkgkafka.Permanent(fmt.Errorf("invalid block message: %w", err))
	}
	b, err := m.Block()
	if err != nil {
		h.metrics.RecordError("consumer_validate")
		return pkgkafka.Permanent(err)
	}

	if _, err := h.sessions.GetOrCreate(ctx, m.SessionID); err != nil {
		return classify(err)
	}
	if _, err := h.proc.Process(ctx, m.SessionID, b, "kafka"); err != nil {
		return classify(err)
	}
	return nil
}

// classify marks deterministic engine rejections as permanent so the
// consumer parks them in the DLQ instead of retrying.
func classify(err error) error {
	switch {
	case errors.Is(err, models.ErrOutOfOrder),
		errors.Is(err, models.ErrInvalidBlock),
		errors.Is(err, models.ErrSessionHalted),
		errors.Is(err, models.ErrInvariant),
		errors.Is(err, models.ErrConfiguration),
		errors.Is(err, ErrTooManySessions):
		return pkgkafka.Permanent(err)
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaBlocksHandler)(nil)
