// Package hostility scores how adverse recent trading has been and pauses
// non-exempt patterns when the score climbs too high.
package hostility

import (
	"math"

	"RunGuard/internal/domain/models"
	"RunGuard/pkg/logger"
)

type Config struct {
	CascadeLength      int
	CrossPatternWindow int
	HighMagnitude      float64
	ClusterMagnitude   float64
	ClusterSize        int
	ClusterWindow      int
	CollapseWindow     int
	CollapseWinRate    float64

	Weights map[models.IndicatorKind]float64

	WinDecay  float64
	IdleDecay float64

	CautionThreshold  float64
	PauseThreshold    float64
	ExtendedThreshold float64
	ResumeThreshold   float64
	PauseBlocks       int
	ExtendedBlocks    int

	CautionMinConfidence float64

	RecoveryWindow   int
	RecoveryWinRate  float64
	ContinuationWins int
	IndicatorHistory int
}

func DefaultWeights() map[models.IndicatorKind]float64 {
	return map[models.IndicatorKind]float64{
		models.IndicatorCascade:            3,
		models.IndicatorCrossPatternFail:   2,
		models.IndicatorOppositeSyncFail:   4,
		models.IndicatorHighMagnitudeLoss:  1,
		models.IndicatorHighMagnitudeBurst: 3,
		models.IndicatorWinRateCollapse:    2,
	}
}

func DefaultConfig() Config {
	return Config{
		CascadeLength:        3,
		CrossPatternWindow:   3,
		HighMagnitude:        80,
		ClusterMagnitude:     70,
		ClusterSize:          3,
		ClusterWindow:        5,
		CollapseWindow:       10,
		CollapseWinRate:      0.30,
		Weights:              DefaultWeights(),
		WinDecay:             2,
		IdleDecay:            0.5,
		CautionThreshold:     5,
		PauseThreshold:       8,
		ExtendedThreshold:    11,
		ResumeThreshold:      4,
		PauseBlocks:          5,
		ExtendedBlocks:       10,
		CautionMinConfidence: 60,
		RecoveryWindow:       5,
		RecoveryWinRate:      0.5,
		ContinuationWins:     2,
		IndicatorHistory:     100,
	}
}

type evalMark struct {
	block    int
	win      bool
	consumed bool
}

type lossMark struct {
	pattern models.PatternID
	block   int
}

// Detector reads evaluation results and emits directives. It never touches lifecycle state.
type Detector struct {
	cfg   Config
	state models.HostilityState

	consecutive map[models.PatternID]int
	lastTrade   map[models.PatternID]*evalMark
	losses      []lossMark
	cluster     []int
	trades      *ring
	collapsed   bool

	recovery *ring
	contWins map[models.PatternID]int

	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	return &Detector{
		cfg:         cfg,
		state:       models.HostilityState{Level: models.LevelNormal},
		consecutive: make(map[models.PatternID]int),
		lastTrade:   make(map[models.PatternID]*evalMark),
		trades:      newRing(cfg.CollapseWindow),
		recovery:    newRing(cfg.RecoveryWindow),
		contWins:    make(map[models.PatternID]int),
		log:         log.With(logger.String("component", "hostility")),
	}
}

// State returns a copy of the detector state.
func (d *Detector) State() models.HostilityState {
	s := d.state
	s.Indicators = append([]models.IndicatorEvent(nil), d.state.Indicators...)
	if d.state.PauseStartIndex != nil {
		v := *d.state.PauseStartIndex
		s.PauseStartIndex = &v
	}
	return s
}

func (d *Detector) Level() models.HostilityLevel { return d.state.Level }

// CanPatternTrade gates real bets. Exempt patterns trade at every level.
func (d *Detector) CanPatternTrade(p models.PatternID, confidence float64) bool {
	if p.Spec().HostilityExempt {
		return true
	}
	switch d.state.Level {
	case models.LevelPause, models.LevelExtendedPause:
		return false
	case models.LevelCaution:
		return confidence >= d.cfg.CautionMinConfidence
	}
	return true
}

// Observe folds the results scored on blockIndex into the score and returns
// the indicators fired plus a directive when the level crosses into or out of a pause.
func (d *Detector) Observe(blockIndex int, results []models.EvaluationResult) (*models.HostilityDirective, []models.IndicatorEvent, error) {
	var fired []models.IndicatorEvent
	fire := func(kind models.IndicatorKind, p models.PatternID) {
		fired = append(fired, d.fire(kind, blockIndex, p))
	}

	trades := 0
	crossFired := false
	for _, r := range results {
		if !r.Pattern.Valid() || r.EvalBlockIndex != blockIndex {
			return nil, fired, &models.InvariantViolation{Component: "hostility", Pattern: r.Pattern, BlockIndex: blockIndex, Detail: "result does not belong to this block"}
		}
		d.observeRecovery(r)
		if !r.WasBet {
			continue
		}
		trades++

		if r.IsWin {
			d.consecutive[r.Pattern] = 0
			d.adjust(-d.cfg.WinDecay)
		} else {
			d.consecutive[r.Pattern]++
			if d.consecutive[r.Pattern] == d.cfg.CascadeLength {
				fire(models.IndicatorCascade, r.Pattern)
			}
			if !crossFired && d.otherLossWithin(r.Pattern, blockIndex) {
				fire(models.IndicatorCrossPatternFail, r.Pattern)
				crossFired = true
			}
			if d.oppositeSync(r) {
				fire(models.IndicatorOppositeSyncFail, r.Pattern)
			}
			if r.MagnitudeAtEval >= d.cfg.HighMagnitude {
				fire(models.IndicatorHighMagnitudeLoss, r.Pattern)
			}
			if r.MagnitudeAtEval >= d.cfg.ClusterMagnitude && d.pushCluster(blockIndex) {
				fire(models.IndicatorHighMagnitudeBurst, r.Pattern)
			}
			d.losses = append(d.losses, lossMark{pattern: r.Pattern, block: blockIndex})
		}
		d.lastTrade[r.Pattern] = &evalMark{block: blockIndex, win: r.IsWin}

		d.trades.push(r.IsWin)
		if d.trades.full() {
			if d.trades.rate() < d.cfg.CollapseWinRate {
				if !d.collapsed {
					fire(models.IndicatorWinRateCollapse, r.Pattern)
					d.collapsed = true
				}
			} else {
				d.collapsed = false
			}
		}
	}
	if trades == 0 {
		d.adjust(-d.cfg.IdleDecay)
	}
	d.pruneLosses(blockIndex)

	return d.updateLevel(blockIndex), fired, nil
}

func (d *Detector) fire(kind models.IndicatorKind, blockIndex int, p models.PatternID) models.IndicatorEvent {
	w := d.cfg.Weights[kind]
	d.adjust(w)
	ev := models.IndicatorEvent{Kind: kind, BlockIndex: blockIndex, Pattern: p, Weight: w, ScoreAfter: d.state.Score}
	d.state.Indicators = append(d.state.Indicators, ev)
	if limit := d.cfg.IndicatorHistory; limit > 0 && len(d.state.Indicators) > limit {
		d.state.Indicators = append(d.state.Indicators[:0:0], d.state.Indicators[len(d.state.Indicators)-limit:]...)
	}
	d.log.Debug("hostility indicator",
		logger.String("kind", string(kind)),
		logger.String("pattern", p.String()),
		logger.Float("score", d.state.Score),
		logger.Int("block", blockIndex),
	)
	return ev
}

func (d *Detector) adjust(delta float64) {
	d.state.Score = math.Max(0, d.state.Score+delta)
}

func (d *Detector) otherLossWithin(p models.PatternID, blockIndex int) bool {
	oldest := blockIndex - d.cfg.CrossPatternWindow + 1
	for _, l := range d.losses {
		if l.block >= oldest && l.pattern != p {
			return true
		}
	}
	return false
}

// oppositeSync is true when the counterpart lost its last trade on the previous block.
func (d *Detector) oppositeSync(r models.EvaluationResult) bool {
	cp := r.Pattern.Spec().Counterpart
	if !cp.Valid() {
		return false
	}
	m := d.lastTrade[cp]
	if m == nil || m.win || m.consumed || m.block != r.EvalBlockIndex-1 {
		return false
	}
	m.consumed = true
	return true
}

func (d *Detector) pushCluster(blockIndex int) bool {
	oldest := blockIndex - d.cfg.ClusterWindow + 1
	kept := d.cluster[:0]
	for _, b := range d.cluster {
		if b >= oldest {
			kept = append(kept, b)
		}
	}
	d.cluster = append(kept, blockIndex)
	if len(d.cluster) >= d.cfg.ClusterSize {
		d.cluster = d.cluster[:0]
		return true
	}
	return false
}

func (d *Detector) pruneLosses(blockIndex int) {
	oldest := blockIndex - d.cfg.CrossPatternWindow + 2
	kept := d.losses[:0]
	for _, l := range d.losses {
		if l.block >= oldest {
			kept = append(kept, l)
		}
	}
	d.losses = kept
}

// observeRecovery looks at every result, traded or not; a pause would never end otherwise.
func (d *Detector) observeRecovery(r models.EvaluationResult) {
	spec := r.Pattern.Spec()
	if spec.Family == models.FamilyContinuation {
		if r.IsWin {
			d.contWins[r.Pattern]++
		} else {
			d.contWins[r.Pattern] = 0
		}
	}
	if !d.state.Level.Blocking() {
		return
	}
	d.recovery.push(r.IsWin)
	switch {
	case spec.HostilityExempt && r.IsWin:
		d.markRecovered("exempt pattern win", r)
	case spec.Family == models.FamilyContinuation && d.contWins[r.Pattern] >= d.cfg.ContinuationWins:
		d.markRecovered("continuation wins", r)
	case d.recovery.full() && d.recovery.rate() > d.cfg.RecoveryWinRate:
		d.markRecovered("recent win rate", r)
	}
}

func (d *Detector) markRecovered(why string, r models.EvaluationResult) {
	if d.state.RecoverySignalSeen {
		return
	}
	d.state.RecoverySignalSeen = true
	d.log.Debug("hostility recovery signal",
		logger.String("signal", why),
		logger.String("pattern", r.Pattern.String()),
		logger.Int("block", r.EvalBlockIndex),
	)
}

func (d *Detector) levelFor(score float64) models.HostilityLevel {
	switch {
	case score >= d.cfg.ExtendedThreshold:
		return models.LevelExtendedPause
	case score >= d.cfg.PauseThreshold:
		return models.LevelPause
	case score >= d.cfg.CautionThreshold:
		return models.LevelCaution
	}
	return models.LevelNormal
}

func (d *Detector) updateLevel(blockIndex int) *models.HostilityDirective {
	prev := d.state.Level

	if prev.Blocking() {
		if d.state.PauseBlocksRemaining > 0 {
			d.state.PauseBlocksRemaining--
		}
		if prev == models.LevelPause && d.state.Score >= d.cfg.ExtendedThreshold {
			d.state.Level = models.LevelExtendedPause
			if d.state.PauseBlocksRemaining < d.cfg.ExtendedBlocks {
				d.state.PauseBlocksRemaining = d.cfg.ExtendedBlocks
			}
			d.logLevel(prev, blockIndex)
			return nil
		}
		if d.state.PauseBlocksRemaining == 0 && d.state.Score < d.cfg.ResumeThreshold && d.state.RecoverySignalSeen {
			d.state.Level = d.levelFor(d.state.Score)
			d.state.RecoverySignalSeen = false
			d.state.PauseStartIndex = nil
			d.logLevel(prev, blockIndex)
			return &models.HostilityDirective{Kind: models.DirectiveResume, BlockIndex: blockIndex, Level: d.state.Level}
		}
		return nil
	}

	next := d.levelFor(d.state.Score)
	if next == prev {
		return nil
	}
	d.state.Level = next
	d.logLevel(prev, blockIndex)
	if !next.Blocking() {
		return nil
	}
	d.state.PauseBlocksRemaining = d.cfg.PauseBlocks
	if next == models.LevelExtendedPause {
		d.state.PauseBlocksRemaining = d.cfg.ExtendedBlocks
	}
	d.state.RecoverySignalSeen = false
	d.state.PauseStartIndex = &blockIndex
	d.recovery.reset()
	// recovery streaks count from the start of the pause
	clear(d.contWins)
	return &models.HostilityDirective{Kind: models.DirectivePause, BlockIndex: blockIndex, Level: next}
}

func (d *Detector) logLevel(prev models.HostilityLevel, blockIndex int) {
	d.log.Warn("hostility level changed",
		logger.String("from", string(prev)),
		logger.String("to", string(d.state.Level)),
		logger.Float("score", d.state.Score),
		logger.Int("pause_blocks_remaining", d.state.PauseBlocksRemaining),
		logger.Int("block", blockIndex),
	)
}
