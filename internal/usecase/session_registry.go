package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"RunGuard/internal/domain/models"
	dsvc "RunGuard/internal/domain/service"
	svcmetrics "RunGuard/internal/service/metrics"
	"RunGuard/internal/services/engine"
	applogger "RunGuard/pkg/logger"
)

// ErrTooManySessions is returned by Create when the registry is full.
var ErrTooManySessions = errors.New("too many sessions")

// SessionRegistry owns every live session. Sessions are isolated: each has
// its own engine.Session and hostility state. A session evicted from memory
// (restart, End of a different node) is restored from its snapshot on access.
type SessionRegistry struct {
	mu          sync.RWMutex
	runners     map[string]*SessionRunner
	cfg         engine.Config
	deps        RunnerDeps
	maxSessions int
	l           *applogger.Logger
}

func NewSessionRegistry(cfg engine.Config, deps RunnerDeps, maxSessions int) (*SessionRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := deps.Log
	if l == nil {
		l = applogger.Nop()
	}
	return &SessionRegistry{
		runners:     make(map[string]*SessionRunner),
		cfg:         cfg,
		deps:        deps,
		maxSessions: maxSessions,
		l:           l,
	}, nil
}

var _ dsvc.SessionService = (*SessionRegistry)(nil)

// Create starts a new session. An empty id gets a random uuid.
func (r *SessionRegistry) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runners[id]; ok {
		return "", fmt.Errorf("%w: %s", models.ErrSessionExists, id)
	}
	if r.deps.Snapshots != nil {
		if _, err := r.deps.Snapshots.Load(ctx, id); err == nil {
			return "", fmt.Errorf("%w: %s", models.ErrSessionExists, id)
		}
	}
	if _, err := r.createLocked(id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *SessionRegistry) createLocked(id string) (*SessionRunner, error) {
	if r.maxSessions > 0 && len(r.runners) >= r.maxSessions {
		return nil, ErrTooManySessions
	}
	s, err := engine.NewSession(id, r.cfg, r.l)
	if err != nil {
		return nil, err
	}
	runner := NewSessionRunner(s, r.deps)
	r.runners[id] = runner
	svcmetrics.SessionsActive.Set(float64(len(r.runners)))
	r.l.Info("session created", applogger.String("session_id", id))
	return runner, nil
}

// Get returns the live runner for id, restoring it from its snapshot if needed.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*SessionRunner, error) {
	r.mu.RLock()
	runner, ok := r.runners[id]
	r.mu.RUnlock()
	if ok {
		return runner, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if runner, ok := r.runners[id]; ok {
		return runner, nil
	}
	return r.restoreLocked(ctx, id)
}

// GetOrCreate is Get that creates unknown sessions; the Kafka feed relies on it.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id string) (*SessionRunner, error) {
	runner, err := r.Get(ctx, id)
	if err == nil || !errors.Is(err, models.ErrSessionNotFound) {
		return runner, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if runner, ok := r.runners[id]; ok {
		return runner, nil
	}
	return r.createLocked(id)
}

func (r *SessionRegistry) restoreLocked(ctx context.Context, id string) (*SessionRunner, error) {
	if r.deps.Snapshots == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	start := time.Now()
	snap, err := r.deps.Snapshots.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s, err := engine.Restore(r.cfg, snap, r.l)
	if err != nil {
		svcmetrics.SnapshotErrors.WithLabelValues("restore").Inc()
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	svcmetrics.SnapshotLatency.WithLabelValues("restore").Observe(time.Since(start).Seconds())

	runner := NewSessionRunner(s, r.deps)
	r.runners[id] = runner
	svcmetrics.SessionsActive.Set(float64(len(r.runners)))
	r.l.Info("session restored", applogger.String("session_id", id), applogger.Int("blocks", len(snap.Blocks)))
	return runner, nil
}

// End drops the session from memory and deletes its snapshot.
func (r *SessionRegistry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	_, live := r.runners[id]
	delete(r.runners, id)
	svcmetrics.SessionsActive.Set(float64(len(r.runners)))
	r.mu.Unlock()

	stored := false
	if r.deps.Snapshots != nil {
		if _, err := r.deps.Snapshots.Load(ctx, id); err == nil {
			stored = true
		}
		if err := r.deps.Snapshots.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete snapshot %s: %w", id, err)
		}
	}
	if !live && !stored {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	r.l.Info("session ended", applogger.String("session_id", id))
	return nil
}

func (r *SessionRegistry) Process(ctx context.Context, id string, b models.Block, source string) (*models.BlockOutput, error) {
	runner, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return runner.Process(ctx, b, source)
}

func (r *SessionRegistry) Snapshot(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	runner, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return runner.Snapshot(), nil
}

func (r *SessionRegistry) Patterns(ctx context.Context, id string) ([]models.PatternSummary, error) {
	runner, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return runner.Summary(), nil
}

func (r *SessionRegistry) Hostility(ctx context.Context, id string) (models.HostilityState, error) {
	runner, err := r.Get(ctx, id)
	if err != nil {
		return models.HostilityState{}, err
	}
	return runner.Hostility(), nil
}

func (r *SessionRegistry) CanTrade(ctx context.Context, id string, p models.PatternID, confidence float64) (bool, error) {
	runner, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return runner.CanPatternTrade(p, confidence), nil
}

// IDs lists the sessions held in memory, sorted.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close flushes a final snapshot of every live session.
func (r *SessionRegistry) Close(ctx context.Context) error {
	r.mu.RLock()
	runners := make([]*SessionRunner, 0, len(r.runners))
	for _, runner := range r.runners {
		runners = append(runners, runner)
	}
	r.mu.RUnlock()

	for _, runner := range runners {
		runner.Flush(ctx)
	}
	return nil
}
