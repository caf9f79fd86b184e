package models

type HostilityLevel string

const (
	LevelNormal        HostilityLevel = "NORMAL"
	LevelCaution       HostilityLevel = "CAUTION"
	LevelPause         HostilityLevel = "PAUSE"
	LevelExtendedPause HostilityLevel = "EXTENDED_PAUSE"
)

// Blocking reports whether non-exempt patterns are barred from trading.
func (l HostilityLevel) Blocking() bool {
	return l == LevelPause || l == LevelExtendedPause
}

type IndicatorKind string

const (
	IndicatorCascade            IndicatorKind = "CASCADE"
	IndicatorCrossPatternFail   IndicatorKind = "CROSS_PATTERN_FAIL"
	IndicatorOppositeSyncFail   IndicatorKind = "OPPOSITE_SYNC_FAIL"
	IndicatorHighMagnitudeLoss  IndicatorKind = "HIGH_MAGNITUDE_LOSS"
	IndicatorHighMagnitudeBurst IndicatorKind = "HIGH_MAGNITUDE_CLUSTER"
	IndicatorWinRateCollapse    IndicatorKind = "WIN_RATE_COLLAPSE"
)

type IndicatorEvent struct {
	Kind       IndicatorKind `json:"kind"`
	BlockIndex int           `json:"block_index"`
	Pattern    PatternID     `json:"pattern,omitempty"`
	Weight     float64       `json:"weight"`
	ScoreAfter float64       `json:"score_after"`
}

type HostilityState struct {
	Score                float64          `json:"score"`
	Level                HostilityLevel   `json:"level"`
	Indicators           []IndicatorEvent `json:"indicators"`
	PauseBlocksRemaining int              `json:"pause_blocks_remaining"`
	RecoverySignalSeen   bool             `json:"recovery_signal_seen"`
	PauseStartIndex      *int             `json:"pause_start_index,omitempty"`
}

type DirectiveKind string

const (
	DirectivePause  DirectiveKind = "PAUSE"
	DirectiveResume DirectiveKind = "RESUME"
)

// HostilityDirective is the detector's only way to influence lifecycles.
type HostilityDirective struct {
	Kind       DirectiveKind  `json:"kind"`
	BlockIndex int            `json:"block_index"`
	Level      HostilityLevel `json:"level"`
}
