package models

import "time"

// BlockOutput is everything a session produced while processing one block.
type BlockOutput struct {
	SessionID   string              `json:"session_id"`
	Block       Block               `json:"block"`
	Run         RunEvent            `json:"run"`
	Results     []EvaluationResult  `json:"results"`
	Transitions []Transition        `json:"transitions"`
	Adjustments []Adjustment        `json:"adjustments"`
	Directive   *HostilityDirective `json:"directive,omitempty"`
	// Hostility carries the detector state after this block; Indicators holds
	// only the events fired on this block.
	Hostility HostilityState `json:"hostility"`
	Signals   []Signal       `json:"signals"`
}

// SessionSnapshot is enough to rebuild a session by replay and check the result.
type SessionSnapshot struct {
	SessionID   string             `json:"session_id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Blocks      []Block            `json:"blocks"`
	Evaluations []EvaluationResult `json:"evaluations"`
	Transitions []Transition       `json:"transitions"`
	Adjustments []Adjustment       `json:"adjustments"`
	Lifecycles  []LifecycleState   `json:"lifecycles"`
	Hostility   HostilityState     `json:"hostility"`
	Halted      bool               `json:"halted"`
	HaltReason  string             `json:"halt_reason,omitempty"`
}

// PatternSummary is the per-pattern roll-up printed after a replay.
type PatternSummary struct {
	Pattern       PatternID       `json:"pattern"`
	Status        LifecycleStatus `json:"status"`
	Bets          int             `json:"bets"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	RealizedPnL   float64         `json:"realized_pnl"`
	ObservedPnL   float64         `json:"observed_pnl"`
	Transitions   int             `json:"transitions"`
	AdjustmentSum float64         `json:"adjustment_sum"`
}
