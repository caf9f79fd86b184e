package models

// RunHeadSize is how many leading magnitudes a run remembers. It covers the
// deepest continuation index in the catalogue.
const RunHeadSize = 3

// Run is a maximal sequence of consecutive same-direction blocks.
type Run struct {
	Direction  Direction `json:"direction"`
	Length     int       `json:"length"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	// TotalMagnitude sums blocks 2..k; the first block only opens the run.
	TotalMagnitude float64 `json:"total_magnitude"`
	// Head holds the magnitudes of the first RunHeadSize blocks.
	Head [RunHeadSize]float64 `json:"head"`
}

// ProfitAfter is what a continuation bet entered after the j-th block would
// have made: sum(m_{j+1}..m_k) minus the magnitude of the breaking block.
// It is defined only when the run reached at least j+1 blocks.
func (r Run) ProfitAfter(j int, breakMagnitude float64) (float64, bool) {
	if j < 1 || j > RunHeadSize || r.Length < j+1 {
		return 0, false
	}
	sum := r.TotalMagnitude
	for i := 1; i < j; i++ {
		sum -= r.Head[i]
	}
	return sum - breakMagnitude, true
}

type RunEventKind string

const (
	// RunContinuing also covers the very first block, which opens a run of length 1.
	RunContinuing RunEventKind = "CONTINUING"
	RunBroken     RunEventKind = "BROKEN"
)

// RunEvent is what the tracker reports for each accepted block.
type RunEvent struct {
	Kind    RunEventKind `json:"kind"`
	Current Run          `json:"current"`
	// Finished is the run that just ended; set only when Kind is RunBroken.
	Finished *Run  `json:"finished,omitempty"`
	Block    Block `json:"block"`
	// RunProfit is sum(m2..mk) - m_break for the finished run.
	RunProfit    float64 `json:"run_profit,omitempty"`
	HasRunProfit bool    `json:"has_run_profit,omitempty"`
}

// ProfitAfter forwards to the finished run using the breaking block's magnitude.
func (e RunEvent) ProfitAfter(j int) (float64, bool) {
	if e.Kind != RunBroken || e.Finished == nil {
		return 0, false
	}
	return e.Finished.ProfitAfter(j, e.Block.Magnitude)
}

// RunHistory is a read-only view of recent runs.
type RunHistory struct {
	Completed []Run `json:"completed"` // oldest first
	Current   Run   `json:"current"`
}

func (h RunHistory) Empty() bool { return h.Current.Length == 0 }

// Previous returns the most recently completed run.
func (h RunHistory) Previous() (Run, bool) {
	if len(h.Completed) == 0 {
		return Run{}, false
	}
	return h.Completed[len(h.Completed)-1], true
}
