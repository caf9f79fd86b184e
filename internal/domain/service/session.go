package service

import (
	"context"

	"RunGuard/internal/domain/models"
)

// SessionService is what the transport layer (HTTP, Kafka, replay) needs
// from the session registry.
type SessionService interface {
	Create(ctx context.Context, id string) (string, error)
	End(ctx context.Context, id string) error
	// IDs lists the sessions held in memory, sorted.
	IDs() []string
	Process(ctx context.Context, id string, b models.Block, source string) (*models.BlockOutput, error)
	Snapshot(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Patterns(ctx context.Context, id string) ([]models.PatternSummary, error)
	Hostility(ctx context.Context, id string) (models.HostilityState, error)
	CanTrade(ctx context.Context, id string, p models.PatternID, confidence float64) (bool, error)
}
