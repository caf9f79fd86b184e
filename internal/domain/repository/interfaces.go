package repository

import (
	"context"

	"RunGuard/internal/domain/models"
)

// Recorder persists or forwards every BlockOutput of a session.
type Recorder interface {
	Record(ctx context.Context, out *models.BlockOutput) error
	Name() string
	Close() error
}

// SnapshotStore keeps the latest SessionSnapshot per session.
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.SessionSnapshot) error
	// Load returns models.ErrSessionNotFound when nothing is stored for id.
	Load(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Delete(ctx context.Context, id string) error
}

// OutputBroadcaster fans BlockOutputs out to live subscribers. It must not block.
type OutputBroadcaster interface {
	Broadcast(out *models.BlockOutput)
}

type Metrics interface {
	RecordBlock(source string)
	RecordResult(pattern string, win, bet bool, pnl float64)
	RecordTransition(pattern, to, reason string)
	RecordHostility(score float64, level string)
	RecordOutputSent(backend string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
