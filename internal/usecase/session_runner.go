package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"RunGuard/internal/domain/models"
	drepo "RunGuard/internal/domain/repository"
	svcmetrics "RunGuard/internal/service/metrics"
	"RunGuard/internal/services/engine"
	applogger "RunGuard/pkg/logger"
)

// RunnerDeps are the collaborators every SessionRunner shares.
type RunnerDeps struct {
	Recorder    drepo.Recorder
	Broadcaster drepo.OutputBroadcaster
	Snapshots   drepo.SnapshotStore
	Metrics     drepo.Metrics
	// SnapshotEvery saves a snapshot after that many processed blocks; 0 disables periodic saves.
	SnapshotEvery int
	Log           *applogger.Logger
}

// SessionRunner serializes access to one engine.Session and pushes every
// output to the recorder, the broadcaster and the metrics.
type SessionRunner struct {
	mu            sync.Mutex
	session       *engine.Session
	deps          RunnerDeps
	sinceSnapshot int
	l             *applogger.Logger
}

func NewSessionRunner(s *engine.Session, deps RunnerDeps) *SessionRunner {
	l := deps.Log
	if l == nil {
		l = applogger.Nop()
	}
	return &SessionRunner{session: s, deps: deps, l: l.With(applogger.String("session_id", s.ID()))}
}

func (r *SessionRunner) ID() string { return r.session.ID() }

// Process runs one block through the session. Recording and broadcasting
// failures are logged and counted; they never undo the engine step.
func (r *SessionRunner) Process(ctx context.Context, b models.Block, source string) (*models.BlockOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	out, err := r.session.ProcessBlock(b)
	if err != nil {
		r.recordError(errorKind(err))
		if errors.Is(err, models.ErrInvariant) {
			svcmetrics.SessionsHalted.Inc()
			r.saveSnapshot(ctx)
		}
		return nil, err
	}

	if m := r.deps.Metrics; m != nil {
		m.RecordBlock(source)
		for _, res := range out.Results {
			m.RecordResult(res.Pattern.String(), res.IsWin, res.WasBet, res.PnL)
		}
		for _, tr := range out.Transitions {
			m.RecordTransition(tr.Pattern.String(), string(tr.To), string(tr.Reason))
		}
		m.RecordHostility(out.Hostility.Score, string(out.Hostility.Level))
	}

	if rec := r.deps.Recorder; rec != nil {
		if err := rec.Record(ctx, out); err != nil {
			r.l.Warn("record output failed", applogger.Int("block", b.Index), applogger.Error(err))
			r.recordError("record")
		}
	}
	if r.deps.Broadcaster != nil {
		r.deps.Broadcaster.Broadcast(out)
	}

	r.sinceSnapshot++
	if r.deps.SnapshotEvery > 0 && r.sinceSnapshot >= r.deps.SnapshotEvery {
		r.saveSnapshot(ctx)
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordLatency("process_block", time.Since(start).Seconds())
	}
	return out, nil
}

func (r *SessionRunner) Snapshot() *models.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Snapshot()
}

func (r *SessionRunner) Summary() []models.PatternSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Summary()
}

func (r *SessionRunner) Hostility() models.HostilityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Hostility()
}

func (r *SessionRunner) CanPatternTrade(p models.PatternID, confidence float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.CanPatternTrade(p, confidence)
}

// Flush saves a snapshot now if anything changed since the last save.
func (r *SessionRunner) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinceSnapshot > 0 {
		r.saveSnapshot(ctx)
	}
}

// saveSnapshot must be called with mu held.
func (r *SessionRunner) saveSnapshot(ctx context.Context) {
	if r.deps.Snapshots == nil {
		return
	}
	start := time.Now()
	if err := r.deps.Snapshots.Save(ctx, r.session.Snapshot()); err != nil {
		svcmetrics.SnapshotErrors.WithLabelValues("save").Inc()
		r.l.Warn("save snapshot failed", applogger.Error(err))
		return
	}
	svcmetrics.SnapshotLatency.WithLabelValues("save").Observe(time.Since(start).Seconds())
	r.sinceSnapshot = 0
}

func (r *SessionRunner) recordError(kind string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordError(kind)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, models.ErrInvalidBlock):
		return "invalid_block"
	case errors.Is(err, models.ErrSessionHalted):
		return "session_halted"
	case errors.Is(err, models.ErrInvariant):
		return "invariant"
	default:
		return "process"
	}
}
