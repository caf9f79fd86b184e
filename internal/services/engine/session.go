package engine

import (
	"errors"
	"fmt"
	"time"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/services/evaluator"
	"RunGuard/internal/services/hostility"
	"RunGuard/internal/services/lifecycle"
	"RunGuard/internal/services/runtracker"
	"RunGuard/internal/services/samedir"
	"RunGuard/pkg/logger"
)

// Session processes one block stream. It is not safe for concurrent use;
// callers serialize ProcessBlock per session.
type Session struct {
	id  string
	cfg Config

	tracker    *runtracker.Tracker
	eval       *evaluator.Evaluator
	lifecycles map[models.PatternID]*lifecycle.Lifecycle
	order      []models.PatternID
	managers   []*samedir.Manager
	hostility  *hostility.Detector

	pending []models.Signal

	createdAt   time.Time
	updatedAt   time.Time
	blocks      []models.Block
	evaluations []models.EvaluationResult
	transitions []models.Transition
	adjustments []models.Adjustment

	halted error
	log    *logger.Logger
}

// NewSession validates cfg and builds a fresh session.
func NewSession(id string, cfg Config, log *logger.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	comp, err := cfg.build()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("session_id", id))

	s := &Session{
		id:         id,
		cfg:        cfg,
		tracker:    runtracker.New(runtracker.WithWindow(cfg.RunWindow)),
		eval:       evaluator.New(comp.payoff),
		lifecycles: make(map[models.PatternID]*lifecycle.Lifecycle),
		order:      models.AllPatterns(),
		hostility:  hostility.New(comp.hostility, log),
		createdAt:  time.Now().UTC(),
		log:        log,
	}
	for _, p := range s.order {
		if p.Family() == models.FamilyContinuation {
			m, err := samedir.New(p, comp.lifecycle, comp.sameDir, log)
			if err != nil {
				return nil, err
			}
			s.managers = append(s.managers, m)
			s.lifecycles[p] = m.Lifecycle()
			continue
		}
		s.lifecycles[p] = lifecycle.New(p, comp.lifecycle, comp.resume, log)
	}
	s.updatedAt = s.createdAt
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

// Halted reports the fatal error that stopped the session, if any.
func (s *Session) Halted() error { return s.halted }

// ProcessBlock runs the full per-block pipeline and returns what it produced.
// Rejected input leaves the session unchanged; an invariant violation halts it.
func (s *Session) ProcessBlock(b models.Block) (*models.BlockOutput, error) {
	if s.halted != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSessionHalted, s.halted)
	}

	ev, err := s.tracker.Observe(b)
	if err != nil {
		return nil, &models.BlockError{BlockIndex: b.Index, Component: "runtracker", Err: err}
	}

	out := &models.BlockOutput{SessionID: s.id, Block: b, Run: ev}

	out.Results = make([]models.EvaluationResult, 0, len(s.pending))
	for _, sig := range s.pending {
		out.Results = append(out.Results, s.eval.Score(sig, b))
	}
	s.pending = nil

	if err := s.route(out); err != nil {
		return nil, s.halt(b.Index, "lifecycle", err)
	}
	if ev.Kind == models.RunBroken {
		for _, m := range s.managers {
			tr, err := m.OnRunBroken(ev)
			if err != nil {
				return nil, s.halt(b.Index, "samedir", err)
			}
			out.Transitions = appendTransition(out.Transitions, tr)
		}
	}
	if err := s.resumeReady(out, b.Index); err != nil {
		return nil, s.halt(b.Index, "lifecycle", err)
	}

	directive, fired, err := s.hostility.Observe(b.Index, out.Results)
	if err != nil {
		return nil, s.halt(b.Index, "hostility", err)
	}
	if err := s.applyDirective(out, directive); err != nil {
		return nil, s.halt(b.Index, "hostility", err)
	}
	out.Directive = directive
	out.Hostility = s.hostility.State()
	out.Hostility.Indicators = fired

	out.Signals = s.predict(b.Index)
	for _, m := range s.managers {
		adjs, err := m.OnSignals(b.Index, out.Signals)
		if err != nil {
			return nil, s.halt(b.Index, "samedir", err)
		}
		out.Adjustments = append(out.Adjustments, adjs...)
	}
	s.pending = out.Signals

	s.blocks = append(s.blocks, b)
	s.evaluations = append(s.evaluations, out.Results...)
	s.transitions = append(s.transitions, out.Transitions...)
	s.adjustments = append(s.adjustments, out.Adjustments...)
	s.updatedAt = time.Now().UTC()
	return out, nil
}

// route sends each result to its own lifecycle and every result to the same-direction managers.
func (s *Session) route(out *models.BlockOutput) error {
	for _, r := range out.Results {
		for _, m := range s.managers {
			tr, adj, err := m.OnResult(r)
			if err != nil {
				return err
			}
			out.Transitions = appendTransition(out.Transitions, tr)
			if adj != nil {
				out.Adjustments = append(out.Adjustments, *adj)
			}
		}
		if r.Pattern.Family() == models.FamilyContinuation {
			continue
		}
		tr, err := s.lifecycles[r.Pattern].Apply(r)
		if err != nil {
			return err
		}
		out.Transitions = appendTransition(out.Transitions, tr)
	}
	return nil
}

// resumeReady resumes patterns whose own condition holds. While hostility
// blocks trading, the pause is handed over to hostility instead.
func (s *Session) resumeReady(out *models.BlockOutput, blockIndex int) error {
	for _, p := range s.order {
		lc := s.lifecycles[p]
		if !lc.ResumeReady() {
			continue
		}
		state := lc.State()
		if state.PauseReason == models.ReasonHostilityPause {
			continue
		}
		if s.hostility.Level().Blocking() && !p.Spec().HostilityExempt {
			if err := lc.HandOver(models.ReasonHostilityPause, blockIndex); err != nil {
				return err
			}
			continue
		}
		tr, err := lc.Resume(lc.ResumeReason(), blockIndex)
		if err != nil {
			return err
		}
		out.Transitions = appendTransition(out.Transitions, tr)
	}
	return nil
}

func (s *Session) applyDirective(out *models.BlockOutput, d *models.HostilityDirective) error {
	if d == nil {
		return nil
	}
	for _, p := range s.order {
		lc := s.lifecycles[p]
		switch d.Kind {
		case models.DirectivePause:
			if p.Spec().HostilityExempt || lc.Status() != models.StatusActive {
				continue
			}
			tr, err := lc.Pause(models.ReasonHostilityPause, d.BlockIndex)
			if err != nil {
				return err
			}
			out.Transitions = appendTransition(out.Transitions, tr)
		case models.DirectiveResume:
			if lc.Status() != models.StatusPaused || lc.State().PauseReason != models.ReasonHostilityPause {
				continue
			}
			tr, err := lc.Resume(models.ReasonHostilityResume, d.BlockIndex)
			if err != nil {
				return err
			}
			out.Transitions = appendTransition(out.Transitions, tr)
		}
	}
	return nil
}

func (s *Session) predict(blockIndex int) []models.Signal {
	signals := s.eval.Signals(s.tracker.History(), blockIndex)
	for i := range signals {
		lc := s.lifecycles[signals[i].Pattern]
		conf := lc.Confidence()
		signals[i].Confidence = conf
		signals[i].WasBet = lc.Status() == models.StatusActive && s.hostility.CanPatternTrade(signals[i].Pattern, conf)
	}
	return signals
}

func (s *Session) halt(blockIndex int, component string, err error) error {
	s.halted = err
	s.log.Error("session halted",
		logger.Int("block", blockIndex),
		logger.String("component", component),
		logger.Error(err),
	)
	return &models.BlockError{BlockIndex: blockIndex, Component: component, Err: err}
}

// Lifecycles returns a copy of every pattern's state in registry order.
func (s *Session) Lifecycles() []models.LifecycleState {
	out := make([]models.LifecycleState, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.lifecycles[p].State())
	}
	return out
}

func (s *Session) Lifecycle(p models.PatternID) (models.LifecycleState, error) {
	lc, ok := s.lifecycles[p]
	if !ok {
		return models.LifecycleState{}, fmt.Errorf("%w: %s", models.ErrUnknownPattern, p)
	}
	return lc.State(), nil
}

func (s *Session) Hostility() models.HostilityState { return s.hostility.State() }

func (s *Session) CanPatternTrade(p models.PatternID, confidence float64) bool {
	return s.hostility.CanPatternTrade(p, confidence)
}

// Pending returns the predictions awaiting the next block.
func (s *Session) Pending() []models.Signal {
	return append([]models.Signal(nil), s.pending...)
}

func (s *Session) BlockCount() int { return len(s.blocks) }

// Snapshot captures the journal and derived state.
func (s *Session) Snapshot() *models.SessionSnapshot {
	return &models.SessionSnapshot{
		SessionID:   s.id,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		Blocks:      append([]models.Block(nil), s.blocks...),
		Evaluations: append([]models.EvaluationResult(nil), s.evaluations...),
		Transitions: append([]models.Transition(nil), s.transitions...),
		Adjustments: append([]models.Adjustment(nil), s.adjustments...),
		Lifecycles:  s.Lifecycles(),
		Hostility:   s.hostility.State(),
		Halted:      s.halted != nil,
		HaltReason:  haltReason(s.halted),
	}
}

func haltReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Summary rolls the journal up per pattern.
func (s *Session) Summary() []models.PatternSummary {
	idx := make(map[models.PatternID]int, len(s.order))
	out := make([]models.PatternSummary, len(s.order))
	for i, p := range s.order {
		idx[p] = i
		st := s.lifecycles[p].State()
		out[i] = models.PatternSummary{Pattern: p, Status: st.Status, RealizedPnL: st.RealizedPnL}
	}
	for _, r := range s.evaluations {
		ps := &out[idx[r.Pattern]]
		ps.ObservedPnL += r.PnL
		if !r.WasBet {
			continue
		}
		ps.Bets++
		if r.IsWin {
			ps.Wins++
		} else {
			ps.Losses++
		}
	}
	for _, tr := range s.transitions {
		out[idx[tr.Pattern]].Transitions++
	}
	for _, a := range s.adjustments {
		out[idx[a.Pattern]].AdjustmentSum += a.Amount
	}
	return out
}

// Restore rebuilds a session by replaying the snapshot's blocks and checks
// that the rebuilt state matches what was captured. A halted snapshot comes
// back halted: its blocks stop before the violating one, so only the journal
// length is checked.
func Restore(cfg Config, snap *models.SessionSnapshot, log *logger.Logger) (*Session, error) {
	if snap == nil {
		return nil, errors.New("restore: nil snapshot")
	}
	s, err := NewSession(snap.SessionID, cfg, log)
	if err != nil {
		return nil, err
	}
	for _, b := range snap.Blocks {
		if _, err := s.ProcessBlock(b); err != nil {
			return nil, fmt.Errorf("restore: replay: %w", err)
		}
	}
	if err := s.matches(snap); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if snap.Halted {
		reason := snap.HaltReason
		if reason == "" {
			reason = "halted before snapshot"
		}
		s.halted = fmt.Errorf("%w: %s", models.ErrInvariant, reason)
	}
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	return s, nil
}

func (s *Session) matches(snap *models.SessionSnapshot) error {
	if snap.Halted {
		if len(s.evaluations) != len(snap.Evaluations) {
			return fmt.Errorf("snapshot has %d evaluations, rebuilt %d", len(snap.Evaluations), len(s.evaluations))
		}
		return nil
	}
	got := s.Lifecycles()
	if len(got) != len(snap.Lifecycles) {
		return fmt.Errorf("snapshot has %d lifecycles, rebuilt %d", len(snap.Lifecycles), len(got))
	}
	for i := range got {
		a, b := got[i], snap.Lifecycles[i]
		if a.Pattern != b.Pattern || a.Status != b.Status || a.AccumulatedLoss != b.AccumulatedLoss ||
			a.AccumulatedProfit != b.AccumulatedProfit || a.PauseReason != b.PauseReason ||
			a.ConsecutiveLosses != b.ConsecutiveLosses {
			return fmt.Errorf("lifecycle %s diverges from snapshot", a.Pattern)
		}
	}
	h := s.hostility.State()
	if h.Level != snap.Hostility.Level || h.Score != snap.Hostility.Score ||
		h.PauseBlocksRemaining != snap.Hostility.PauseBlocksRemaining {
		return errors.New("hostility state diverges from snapshot")
	}
	if len(s.evaluations) != len(snap.Evaluations) {
		return fmt.Errorf("snapshot has %d evaluations, rebuilt %d", len(snap.Evaluations), len(s.evaluations))
	}
	return nil
}

func appendTransition(dst []models.Transition, tr *models.Transition) []models.Transition {
	if tr == nil {
		return dst
	}
	return append(dst, *tr)
}
