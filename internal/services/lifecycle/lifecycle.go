// Package lifecycle implements the per-pattern OBSERVING/ACTIVE/PAUSED/EXPIRED state machine.
package lifecycle

import (
	"fmt"
	"math"

	"RunGuard/internal/domain/models"
	"RunGuard/pkg/logger"
)

const component = "lifecycle"

type Config struct {
	ActivationThreshold   float64
	DeactivationThreshold float64
	// PauseAfterLosses pauses an ACTIVE pattern after that many real losses in a row; 0 disables.
	PauseAfterLosses int
	// ConfidenceWindow is how many recent results feed Confidence.
	ConfidenceWindow int
	// ActivateOnProfit lets observed results drive activation. Continuation
	// patterns turn it off and are activated through Offer instead.
	ActivateOnProfit bool
}

func DefaultConfig() Config {
	return Config{
		ActivationThreshold:   140,
		DeactivationThreshold: 140,
		PauseAfterLosses:      3,
		ConfidenceWindow:      10,
		ActivateOnProfit:      true,
	}
}

// Lifecycle owns one pattern's LifecycleState. Nothing else writes to it.
type Lifecycle struct {
	spec   models.PatternSpec
	cfg    Config
	resume ResumeCondition
	state  models.LifecycleState
	recent []bool
	next   int
	filled int
	pauses int
	log    *logger.Logger
}

func New(p models.PatternID, cfg Config, resume ResumeCondition, log *logger.Logger) *Lifecycle {
	if resume == nil {
		resume = ImaginaryRecovery{ConsecutiveWins: 2, Profit: 70}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ConfidenceWindow <= 0 {
		cfg.ConfidenceWindow = DefaultConfig().ConfidenceWindow
	}
	return &Lifecycle{
		spec:   p.Spec(),
		cfg:    cfg,
		resume: resume,
		state:  models.LifecycleState{Pattern: p, Status: models.StatusObserving},
		recent: make([]bool, cfg.ConfidenceWindow),
		log:    log.With(logger.String("pattern", p.String())),
	}
}

func (l *Lifecycle) Pattern() models.PatternID { return l.spec.ID }

func (l *Lifecycle) Status() models.LifecycleStatus { return l.state.Status }

// Pauses counts the pauses entered so far. Two pauses that start on the same
// block still differ here.
func (l *Lifecycle) Pauses() int { return l.pauses }

// State returns a copy that shares no memory with the lifecycle.
func (l *Lifecycle) State() models.LifecycleState {
	s := l.state
	s.PauseStartIndex = copyInt(l.state.PauseStartIndex)
	s.ActivatedAt = copyInt(l.state.ActivatedAt)
	s.ExpiredAt = copyInt(l.state.ExpiredAt)
	return s
}

// Confidence is the rolling win rate over the last results, 0..100; 50 with no history.
func (l *Lifecycle) Confidence() float64 {
	if l.filled == 0 {
		return 50
	}
	wins := 0
	for i := 0; i < l.filled; i++ {
		if l.recent[i] {
			wins++
		}
	}
	return float64(wins) / float64(l.filled) * 100
}

// Apply folds a result for this pattern into the state.
func (l *Lifecycle) Apply(res models.EvaluationResult) (*models.Transition, error) {
	if res.Pattern != l.spec.ID {
		return nil, l.violation(res.EvalBlockIndex, fmt.Sprintf("received result for %s", res.Pattern))
	}
	l.remember(res.IsWin)

	var tr *models.Transition
	switch l.state.Status {
	case models.StatusObserving:
		if l.cfg.ActivateOnProfit {
			l.state.AccumulatedProfit = math.Max(0, l.state.AccumulatedProfit+res.PnL)
			if l.state.AccumulatedProfit >= l.cfg.ActivationThreshold {
				tr = l.activate(res.EvalBlockIndex, models.ReasonActivationThreshold)
			}
		}
	case models.StatusActive:
		if !res.WasBet {
			l.state.Skipped++
			break
		}
		tr = l.applyReal(res)
	case models.StatusPaused:
		l.state.Imaginary.Add(res)
	case models.StatusExpired:
		l.state.WouldHave.Add(res)
	}
	return tr, l.check(res.EvalBlockIndex)
}

func (l *Lifecycle) applyReal(res models.EvaluationResult) *models.Transition {
	l.state.Bets++
	l.state.RealizedPnL += res.PnL
	if res.IsWin {
		l.state.LastResult = models.Win
		l.state.ConsecutiveLosses = 0
		if res.PnL > l.state.AccumulatedLoss {
			l.state.AccumulatedLoss = 0
		}
		return nil
	}

	l.state.LastResult = models.Loss
	l.state.ConsecutiveLosses++
	l.state.AccumulatedLoss += math.Abs(res.PnL)

	if l.state.AccumulatedLoss > l.cfg.DeactivationThreshold {
		return l.expire(res.EvalBlockIndex)
	}
	if l.cfg.PauseAfterLosses > 0 && l.state.ConsecutiveLosses >= l.cfg.PauseAfterLosses {
		return l.pause(res.EvalBlockIndex, models.ReasonConsecutiveLosses)
	}
	return nil
}

// Offer feeds an external activation signal, e.g. a continuation run profit.
// It only matters while OBSERVING; activation is idempotent.
func (l *Lifecycle) Offer(signal float64, blockIndex int) (*models.Transition, error) {
	if l.state.Status != models.StatusObserving {
		return nil, nil
	}
	l.state.AccumulatedProfit = math.Max(0, signal)
	if signal >= l.cfg.ActivationThreshold {
		return l.activate(blockIndex, models.ReasonActivationThreshold), nil
	}
	return nil, nil
}

// Pause moves an ACTIVE pattern to PAUSED. Pausing a paused pattern is a no-op.
func (l *Lifecycle) Pause(reason models.TransitionReason, blockIndex int) (*models.Transition, error) {
	switch l.state.Status {
	case models.StatusPaused:
		return nil, nil
	case models.StatusActive:
	default:
		return nil, l.violation(blockIndex, fmt.Sprintf("cannot pause from %s", l.state.Status))
	}
	if reason == models.ReasonHostilityPause && l.spec.HostilityExempt {
		return nil, l.violation(blockIndex, "hostility pause sent to an exempt pattern")
	}
	return l.pause(blockIndex, reason), nil
}

// Resume moves a PAUSED pattern back to ACTIVE. Resuming an active pattern is a no-op.
func (l *Lifecycle) Resume(reason models.TransitionReason, blockIndex int) (*models.Transition, error) {
	switch l.state.Status {
	case models.StatusActive:
		return nil, nil
	case models.StatusPaused:
	default:
		return nil, l.violation(blockIndex, fmt.Sprintf("cannot resume from %s", l.state.Status))
	}
	tr := l.transition(models.StatusActive, blockIndex, reason)
	l.state.PauseReason = ""
	l.state.PauseStartIndex = nil
	l.state.ConsecutiveLosses = 0
	l.resume.Reset()
	return tr, nil
}

// ResumeReady reports whether the pattern-specific resume condition holds.
func (l *Lifecycle) ResumeReady() bool {
	return l.state.Status == models.StatusPaused && l.resume.Ready(l.state)
}

func (l *Lifecycle) ResumeReason() models.TransitionReason { return l.resume.Reason() }

// HandOver changes why a paused pattern is paused, without a status change.
func (l *Lifecycle) HandOver(reason models.TransitionReason, blockIndex int) error {
	if l.state.Status != models.StatusPaused {
		return l.violation(blockIndex, fmt.Sprintf("hand over from %s", l.state.Status))
	}
	if reason == models.ReasonHostilityPause && l.spec.HostilityExempt {
		return l.violation(blockIndex, "hostility pause sent to an exempt pattern")
	}
	l.log.Debug("pause reason handed over",
		logger.String("from", string(l.state.PauseReason)),
		logger.String("to", string(reason)),
		logger.Int("block", blockIndex),
	)
	l.state.PauseReason = reason
	return nil
}

// Credit reduces accumulatedLoss by up to amount, never below zero.
func (l *Lifecycle) Credit(amount float64, blockIndex int, kind models.AdjustmentKind, source models.PatternID) (models.Adjustment, error) {
	if l.state.Status == models.StatusExpired {
		return models.Adjustment{}, l.violation(blockIndex, "credit applied to an expired pattern")
	}
	if amount < 0 || math.IsNaN(amount) {
		return models.Adjustment{}, l.violation(blockIndex, fmt.Sprintf("credit amount %v", amount))
	}
	before := l.state.AccumulatedLoss
	applied := math.Min(amount, before)
	l.state.AccumulatedLoss = before - applied

	adj := models.Adjustment{
		Pattern:    l.spec.ID,
		BlockIndex: blockIndex,
		Kind:       kind,
		Amount:     applied,
		Source:     source,
		LossBefore: before,
		LossAfter:  l.state.AccumulatedLoss,
	}
	l.log.Debug("loss adjusted",
		logger.String("kind", string(kind)),
		logger.String("source", source.String()),
		logger.Float("amount", applied),
		logger.Float("loss_after", adj.LossAfter),
		logger.Int("block", blockIndex),
	)
	return adj, l.check(blockIndex)
}

func (l *Lifecycle) activate(blockIndex int, reason models.TransitionReason) *models.Transition {
	tr := l.transition(models.StatusActive, blockIndex, reason)
	l.state.AccumulatedLoss = 0
	l.state.AccumulatedProfit = 0
	l.state.ConsecutiveLosses = 0
	l.state.ActivatedAt = &blockIndex
	return tr
}

func (l *Lifecycle) pause(blockIndex int, reason models.TransitionReason) *models.Transition {
	tr := l.transition(models.StatusPaused, blockIndex, reason)
	l.state.PauseReason = reason
	l.state.PauseStartIndex = &blockIndex
	l.state.Imaginary = models.ShadowStats{}
	l.resume.Reset()
	l.pauses++
	return tr
}

func (l *Lifecycle) expire(blockIndex int) *models.Transition {
	tr := l.transition(models.StatusExpired, blockIndex, models.ReasonDeactivationThreshold)
	l.state.PauseReason = ""
	l.state.PauseStartIndex = nil
	l.state.ExpiredAt = &blockIndex
	return tr
}

func (l *Lifecycle) transition(to models.LifecycleStatus, blockIndex int, reason models.TransitionReason) *models.Transition {
	tr := &models.Transition{
		Pattern:    l.spec.ID,
		From:       l.state.Status,
		To:         to,
		BlockIndex: blockIndex,
		Reason:     reason,
	}
	l.state.Status = to
	l.log.Info("pattern transition",
		logger.String("from", string(tr.From)),
		logger.String("to", string(tr.To)),
		logger.String("reason", string(reason)),
		logger.Int("block", blockIndex),
		logger.Float("accumulated_loss", l.state.AccumulatedLoss),
	)
	return tr
}

func (l *Lifecycle) remember(win bool) {
	l.recent[l.next] = win
	l.next = (l.next + 1) % len(l.recent)
	if l.filled < len(l.recent) {
		l.filled++
	}
}

func (l *Lifecycle) check(blockIndex int) error {
	loss := l.state.AccumulatedLoss
	if loss < 0 || math.IsNaN(loss) || math.IsInf(loss, 0) {
		return l.violation(blockIndex, fmt.Sprintf("accumulated loss %v", loss))
	}
	if l.state.Status == models.StatusPaused && l.state.PauseReason == "" {
		return l.violation(blockIndex, "paused without a reason")
	}
	return nil
}

func (l *Lifecycle) violation(blockIndex int, detail string) error {
	err := &models.InvariantViolation{Component: component, Pattern: l.spec.ID, BlockIndex: blockIndex, Detail: detail}
	l.log.Error("invariant violation", logger.Error(err))
	return err
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
