// Package samedir wraps the lifecycle of a continuation pattern with the
// cross-family rules that govern it: companion-triggered resume, decay credit
// while paused and formation-loss reversal while active.
package samedir

import (
	"fmt"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/services/lifecycle"
	"RunGuard/pkg/logger"
)

type Config struct {
	// ResumeTriggers are alternation patterns whose loss resumes a paused pattern.
	ResumeTriggers models.PatternSet
	// DecayPatterns are alternation patterns whose wins credit a paused pattern.
	DecayPatterns models.PatternSet
	DecayFraction float64
	// FormationConfirmers are patterns whose signal confirms a new formation.
	FormationConfirmers models.PatternSet
	FormationWindow     int
	MaxFormationLosses  int
}

func DefaultConfig() Config {
	return Config{
		ResumeTriggers:      models.NewPatternSet(models.ZZ, models.Alt2A2, models.Alt3A3, models.Alt4A4, models.Alt5A5),
		DecayPatterns:       models.NewPatternSet(models.ZZ, models.Alt2A2, models.Alt3A3, models.Alt4A4, models.Alt5A5),
		DecayFraction:       0.5,
		FormationConfirmers: models.NewPatternSet(models.ZZ, models.Alt2A2, models.Alt3A3, models.Alt4A4, models.Alt5A5),
		FormationWindow:     3,
		MaxFormationLosses:  2,
	}
}

// Validate rejects sets that would let the anti-alternation family steer a
// continuation pattern, and an empty trigger set, which would leave a paused
// pattern with no way back.
func (c Config) Validate() error {
	if c.ResumeTriggers == 0 {
		return &models.ConfigurationError{Field: "same_dir.resume_triggers", Reason: "must not be empty"}
	}
	for _, p := range c.ResumeTriggers.Members() {
		if p.Family() != models.FamilyAlternation {
			return &models.ConfigurationError{Field: "same_dir.resume_triggers", Reason: fmt.Sprintf("%s is not an alternation pattern", p)}
		}
	}
	for _, p := range c.DecayPatterns.Members() {
		if p.Family() != models.FamilyAlternation {
			return &models.ConfigurationError{Field: "same_dir.decay_patterns", Reason: fmt.Sprintf("%s is not an alternation pattern", p)}
		}
	}
	if c.DecayFraction < 0 || c.DecayFraction > 1 {
		return &models.ConfigurationError{Field: "same_dir.decay_fraction", Reason: "must be within [0,1]"}
	}
	if c.FormationWindow < 1 {
		return &models.ConfigurationError{Field: "same_dir.formation_window", Reason: "must be at least 1"}
	}
	if c.MaxFormationLosses < 0 {
		return &models.ConfigurationError{Field: "same_dir.max_formation_losses", Reason: "must not be negative"}
	}
	return nil
}

type formationLoss struct {
	block  int
	amount float64
}

// Manager owns a continuation pattern's lifecycle.
type Manager struct {
	spec    models.PatternSpec
	cfg     Config
	lc      *lifecycle.Lifecycle
	trigger *lifecycle.CompanionTrigger

	pauseSeen     int
	decayCredited float64
	decayCount    int
	formation     []formationLoss
	// setup holds the confirmers that signalled on the previous block.
	setup models.PatternSet

	lastAlternation     *models.EvaluationResult
	lastAntiAlternation *models.EvaluationResult

	log *logger.Logger
}

func New(p models.PatternID, lcCfg lifecycle.Config, cfg Config, log *logger.Logger) (*Manager, error) {
	if p.Family() != models.FamilyContinuation {
		return nil, &models.ConfigurationError{Field: "same_dir.pattern", Reason: fmt.Sprintf("%s is not a continuation pattern", p)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	lcCfg.ActivateOnProfit = false
	trigger := lifecycle.NewCompanionTrigger()
	return &Manager{
		spec:    p.Spec(),
		cfg:     cfg,
		lc:      lifecycle.New(p, lcCfg, trigger, log),
		trigger: trigger,
		log:     log.With(logger.String("pattern", p.String()), logger.String("component", "samedir")),
	}, nil
}

func (m *Manager) Pattern() models.PatternID { return m.spec.ID }

func (m *Manager) Lifecycle() *lifecycle.Lifecycle { return m.lc }

// DecayCredited is the loss credited since the current pause began.
func (m *Manager) DecayCredited() (float64, int) { return m.decayCredited, m.decayCount }

// LastCompanionResults exposes the most recent alternation and anti-alternation results seen.
func (m *Manager) LastCompanionResults() (alt, anti *models.EvaluationResult) {
	return m.lastAlternation, m.lastAntiAlternation
}

// OnResult routes any evaluation result of the block; each family is handled separately.
func (m *Manager) OnResult(res models.EvaluationResult) (*models.Transition, *models.Adjustment, error) {
	switch {
	case res.Pattern == m.spec.ID:
		tr, err := m.onOwn(res)
		return tr, nil, err
	case res.Pattern.Family() == models.FamilyAlternation:
		adj, err := m.onAlternation(res)
		return nil, adj, err
	case res.Pattern.Family() == models.FamilyAntiAlternation:
		// Anti-alternation losses confirm the same-direction regime; they never resume.
		r := res
		m.lastAntiAlternation = &r
	}
	return nil, nil, nil
}

func (m *Manager) onOwn(res models.EvaluationResult) (*models.Transition, error) {
	wasActive := m.lc.Status() == models.StatusActive
	before := m.lc.State().AccumulatedLoss

	tr, err := m.lc.Apply(res)
	if err != nil {
		return nil, err
	}
	if wasActive && res.WasBet && !res.IsWin {
		if added := m.lc.State().AccumulatedLoss - before; added > 0 {
			m.formation = append(m.formation, formationLoss{block: res.EvalBlockIndex, amount: added})
		}
	}
	m.syncPause()
	return tr, nil
}

func (m *Manager) onAlternation(res models.EvaluationResult) (*models.Adjustment, error) {
	r := res
	m.lastAlternation = &r
	m.syncPause()
	if m.lc.Status() != models.StatusPaused {
		return nil, nil
	}

	if !res.IsWin {
		if m.cfg.ResumeTriggers.Has(res.Pattern) {
			m.trigger.Fire(res.EvalBlockIndex, res.Pattern)
			m.log.Debug("companion trigger armed",
				logger.String("source", res.Pattern.String()),
				logger.Int("block", res.EvalBlockIndex),
			)
		}
		return nil, nil
	}

	if !m.cfg.DecayPatterns.Has(res.Pattern) || res.PnL <= 0 || m.cfg.DecayFraction == 0 {
		return nil, nil
	}
	adj, err := m.lc.Credit(m.cfg.DecayFraction*res.PnL, res.EvalBlockIndex, models.AdjustmentDecayCredit, res.Pattern)
	if err != nil {
		return nil, err
	}
	m.decayCredited += adj.Amount
	m.decayCount++
	return &adj, nil
}

// OnRunBroken offers the finished run's profit, measured after the pattern's own index, as an activation signal.
func (m *Manager) OnRunBroken(ev models.RunEvent) (*models.Transition, error) {
	profit, ok := ev.ProfitAfter(m.spec.Index)
	if !ok {
		return nil, nil
	}
	return m.lc.Offer(profit, ev.Block.Index)
}

// OnSignals reverses recent formation losses when a confirming pattern's
// setup forms at blockIndex. A setup that already held on the previous block
// reverses nothing: losses taken while alternation persists are real debt.
func (m *Manager) OnSignals(blockIndex int, signals []models.Signal) ([]models.Adjustment, error) {
	m.syncPause()
	m.pruneFormation(blockIndex)
	if m.setup != 0 {
		// taken while a setup already held, so they did not form it
		m.formation = nil
	}

	var now models.PatternSet
	for _, s := range signals {
		if m.cfg.FormationConfirmers.Has(s.Pattern) {
			now = now.With(s.Pattern)
		}
	}
	formed := now &^ m.setup
	m.setup = now

	var confirmer models.PatternID
	for _, s := range signals {
		if formed.Has(s.Pattern) {
			confirmer = s.Pattern
			break
		}
	}
	if !confirmer.Valid() || len(m.formation) == 0 {
		return nil, nil
	}
	pending := m.formation
	m.formation = nil
	if m.lc.Status() != models.StatusActive {
		return nil, nil
	}

	if len(pending) > m.cfg.MaxFormationLosses {
		pending = pending[:m.cfg.MaxFormationLosses]
	}
	var out []models.Adjustment
	for _, fl := range pending {
		adj, err := m.lc.Credit(fl.amount, blockIndex, models.AdjustmentFormationReversal, confirmer)
		if err != nil {
			return out, err
		}
		if adj.Amount > 0 {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (m *Manager) pruneFormation(blockIndex int) {
	oldest := blockIndex - m.cfg.FormationWindow + 1
	kept := m.formation[:0]
	for _, fl := range m.formation {
		if fl.block >= oldest {
			kept = append(kept, fl)
		}
	}
	m.formation = kept
}

// syncPause resets per-pause bookkeeping once the lifecycle has entered a
// pause this manager has not seen yet.
func (m *Manager) syncPause() {
	if n := m.lc.Pauses(); n != m.pauseSeen {
		m.pauseSeen = n
		m.decayCredited = 0
		m.decayCount = 0
		m.formation = nil
	}
}
