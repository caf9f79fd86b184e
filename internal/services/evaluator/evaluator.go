// Package evaluator turns run history into per-pattern predictions and scores them.
package evaluator

import (
	"math"

	"RunGuard/internal/domain/models"
)

// Payoff maps a block magnitude to the value of a unit bet.
type Payoff struct {
	DefaultStake float64
	Exponent     float64
	Stakes       map[models.PatternID]float64
}

func DefaultPayoff() Payoff {
	return Payoff{DefaultStake: 1, Exponent: 1}
}

func (p Payoff) Stake(id models.PatternID) float64 {
	if s, ok := p.Stakes[id]; ok {
		return s
	}
	return p.DefaultStake
}

// Value is f(m) = 100 * (m/100)^exponent, scaled by the pattern's stake.
func (p Payoff) Value(id models.PatternID, magnitude float64) float64 {
	f := magnitude
	if p.Exponent != 1 {
		f = 100 * math.Pow(magnitude/100, p.Exponent)
	}
	return p.Stake(id) * f
}

// Evaluator is stateless apart from its payoff settings.
type Evaluator struct {
	payoff   Payoff
	patterns []models.PatternID
}

func New(payoff Payoff) *Evaluator {
	return &Evaluator{payoff: payoff, patterns: models.AllPatterns()}
}

// Predict reports the direction pattern p expects for the block after the current run, if its setup holds.
func (e *Evaluator) Predict(p models.PatternID, h models.RunHistory) (models.Direction, bool) {
	spec := p.Spec()
	cur := h.Current
	if cur.Length == 0 || !p.Valid() {
		return "", false
	}
	switch spec.Family {
	case models.FamilyContinuation:
		if cur.Length >= spec.Index {
			return cur.Direction, true
		}
	case models.FamilyAlternation, models.FamilyAntiAlternation:
		prev, ok := h.Previous()
		if !ok || cur.Length != spec.Index || prev.Length != spec.Index {
			return "", false
		}
		if spec.Family == models.FamilyAlternation {
			return cur.Direction.Opposite(), true
		}
		return cur.Direction, true
	}
	return "", false
}

// Signals lists every prediction whose setup holds after blockIndex, in registry order.
// Confidence and WasBet are left for the session to fill in.
func (e *Evaluator) Signals(h models.RunHistory, blockIndex int) []models.Signal {
	var out []models.Signal
	for _, p := range e.patterns {
		if dir, ok := e.Predict(p, h); ok {
			out = append(out, models.Signal{Pattern: p, SignalBlockIndex: blockIndex, Predicted: dir})
		}
	}
	return out
}

// Score grades a pending signal against the block that followed it.
func (e *Evaluator) Score(sig models.Signal, b models.Block) models.EvaluationResult {
	win := sig.Predicted == b.Direction
	value := e.payoff.Value(sig.Pattern, b.Magnitude)
	pnl := value
	if !win {
		pnl = -value
	}
	return models.EvaluationResult{
		Pattern:            sig.Pattern,
		SignalBlockIndex:   sig.SignalBlockIndex,
		EvalBlockIndex:     b.Index,
		PredictedDirection: sig.Predicted,
		ActualDirection:    b.Direction,
		IsWin:              win,
		MagnitudeAtEval:    b.Magnitude,
		PnL:                pnl,
		WasBet:             sig.WasBet,
	}
}

// Evaluate predicts from h and grades the prediction against next in one step.
func (e *Evaluator) Evaluate(p models.PatternID, h models.RunHistory, next models.Block, wasBet bool) (models.EvaluationResult, bool) {
	dir, ok := e.Predict(p, h)
	if !ok {
		return models.EvaluationResult{}, false
	}
	sig := models.Signal{Pattern: p, SignalBlockIndex: h.Current.EndIndex, Predicted: dir, WasBet: wasBet}
	return e.Score(sig, next), true
}
