package models

type LifecycleStatus string

const (
	StatusObserving LifecycleStatus = "OBSERVING"
	StatusActive    LifecycleStatus = "ACTIVE"
	StatusPaused    LifecycleStatus = "PAUSED"
	StatusExpired   LifecycleStatus = "EXPIRED"
)

// TransitionReason doubles as the pause reason while a pattern is PAUSED.
type TransitionReason string

const (
	ReasonActivationThreshold   TransitionReason = "ACTIVATION_THRESHOLD"
	ReasonDeactivationThreshold TransitionReason = "DEACTIVATION_THRESHOLD"
	ReasonConsecutiveLosses     TransitionReason = "CONSECUTIVE_LOSSES"
	ReasonHostilityPause        TransitionReason = "HOSTILITY_PAUSE"
	ReasonHostilityResume       TransitionReason = "HOSTILITY_RESUME"
	ReasonImaginaryRecovery     TransitionReason = "IMAGINARY_RECOVERY"
	ReasonCompanionTrigger      TransitionReason = "COMPANION_TRIGGER"
)

// ShadowStats tallies results that were not traded for real.
type ShadowStats struct {
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	PnL             float64 `json:"pnl"`
	ConsecutiveWins int     `json:"consecutive_wins"`
}

func (s *ShadowStats) Add(r EvaluationResult) {
	s.PnL += r.PnL
	if r.IsWin {
		s.Wins++
		s.ConsecutiveWins++
		return
	}
	s.Losses++
	s.ConsecutiveWins = 0
}

// LifecycleState is the per-pattern record. Only the owning lifecycle mutates it.
type LifecycleState struct {
	Pattern           PatternID        `json:"pattern"`
	Status            LifecycleStatus  `json:"status"`
	AccumulatedLoss   float64          `json:"accumulated_loss"`
	AccumulatedProfit float64          `json:"accumulated_profit"`
	PauseReason       TransitionReason `json:"pause_reason,omitempty"`
	PauseStartIndex   *int             `json:"pause_start_index,omitempty"`
	ConsecutiveLosses int              `json:"consecutive_losses"`
	LastResult        Outcome          `json:"last_result,omitempty"`
	RealizedPnL       float64          `json:"realized_pnl"`
	Bets              int              `json:"bets"`
	Skipped           int              `json:"skipped"`
	Imaginary         ShadowStats      `json:"imaginary"`
	WouldHave         ShadowStats      `json:"would_have"`
	ActivatedAt       *int             `json:"activated_at,omitempty"`
	ExpiredAt         *int             `json:"expired_at,omitempty"`
}

// Transition records a status change.
type Transition struct {
	Pattern    PatternID        `json:"pattern"`
	From       LifecycleStatus  `json:"from"`
	To         LifecycleStatus  `json:"to"`
	BlockIndex int              `json:"block_index"`
	Reason     TransitionReason `json:"reason"`
}

type AdjustmentKind string

const (
	AdjustmentDecayCredit       AdjustmentKind = "DECAY_CREDIT"
	AdjustmentFormationReversal AdjustmentKind = "FORMATION_REVERSAL"
)

// Adjustment records a reduction of accumulatedLoss that did not come from the pattern's own result.
type Adjustment struct {
	Pattern    PatternID      `json:"pattern"`
	BlockIndex int            `json:"block_index"`
	Kind       AdjustmentKind `json:"kind"`
	Amount     float64        `json:"amount"`
	Source     PatternID      `json:"source,omitempty"`
	LossBefore float64        `json:"loss_before"`
	LossAfter  float64        `json:"loss_after"`
}
