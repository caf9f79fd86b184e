package lifecycle

import "RunGuard/internal/domain/models"

// ResumeCondition decides when a pattern-specific pause may end.
type ResumeCondition interface {
	Ready(state models.LifecycleState) bool
	Reason() models.TransitionReason
	// Reset is called whenever a new pause begins.
	Reset()
}

// ImaginaryRecovery resumes after enough imaginary wins in a row or enough imaginary profit.
type ImaginaryRecovery struct {
	ConsecutiveWins int
	Profit          float64
}

func (r ImaginaryRecovery) Ready(s models.LifecycleState) bool {
	return s.Imaginary.ConsecutiveWins >= r.ConsecutiveWins || s.Imaginary.PnL >= r.Profit
}

func (ImaginaryRecovery) Reason() models.TransitionReason { return models.ReasonImaginaryRecovery }

func (ImaginaryRecovery) Reset() {}

// CompanionTrigger is armed by another component, e.g. a loss of a companion pattern.
type CompanionTrigger struct {
	fired  bool
	source models.PatternID
	block  int
}

func NewCompanionTrigger() *CompanionTrigger { return &CompanionTrigger{} }

func (c *CompanionTrigger) Fire(blockIndex int, source models.PatternID) {
	c.fired = true
	c.source = source
	c.block = blockIndex
}

// Source reports which pattern armed the trigger.
func (c *CompanionTrigger) Source() (models.PatternID, int, bool) {
	return c.source, c.block, c.fired
}

func (c *CompanionTrigger) Ready(models.LifecycleState) bool { return c.fired }

func (*CompanionTrigger) Reason() models.TransitionReason { return models.ReasonCompanionTrigger }

func (c *CompanionTrigger) Reset() { *c = CompanionTrigger{} }
