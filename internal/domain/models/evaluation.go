package models

type Outcome string

const (
	Win  Outcome = "WIN"
	Loss Outcome = "LOSS"
)

// Signal is a prediction made at the close of block SignalBlockIndex for the next block.
type Signal struct {
	Pattern          PatternID `json:"pattern"`
	SignalBlockIndex int       `json:"signal_block_index"`
	Predicted        Direction `json:"predicted"`
	Confidence       float64   `json:"confidence"`
	WasBet           bool      `json:"was_bet"`
}

// EvaluationResult is a scored prediction. Results are never mutated after creation.
type EvaluationResult struct {
	Pattern            PatternID `json:"pattern"`
	SignalBlockIndex   int       `json:"signal_block_index"`
	EvalBlockIndex     int       `json:"eval_block_index"`
	PredictedDirection Direction `json:"predicted_direction"`
	ActualDirection    Direction `json:"actual_direction"`
	IsWin              bool      `json:"is_win"`
	MagnitudeAtEval    float64   `json:"magnitude_at_eval"`
	PnL                float64   `json:"pnl"`
	WasBet             bool      `json:"was_bet"`
}

func (r EvaluationResult) Outcome() Outcome {
	if r.IsWin {
		return Win
	}
	return Loss
}
