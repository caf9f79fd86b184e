package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RunGuard/internal/domain/models"
	"RunGuard/pkg/cache"
)

const snapshotPrefix = "snapshot"

// SnapshotStore keeps session snapshots in a cache.Service (Redis in
// production, memory otherwise) with a TTL refreshed on every save and load.
type SnapshotStore struct {
	cache cache.Service
	ttl   time.Duration
}

func NewSnapshotStore(c cache.Service, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{cache: c, ttl: ttl}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *models.SessionSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("save snapshot: missing session id")
	}
	if err := s.cache.Set(ctx, cache.GenerateKey(snapshotPrefix, snap.SessionID), snap, s.ttl); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load returns the stored snapshot and pushes its expiry out, so a restored
// session does not lose its snapshot before the next periodic save.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	key := cache.GenerateKey(snapshotPrefix, id)
	var snap models.SessionSnapshot
	if err := s.cache.Get(ctx, key, &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if _, err := s.cache.Expire(ctx, key, s.ttl); err != nil {
		return nil, fmt.Errorf("refresh snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, cache.GenerateKey(snapshotPrefix, id))
}
