// Package engine assembles the run tracker, evaluator, lifecycles, same-direction
// managers and hostility detector into a per-stream Session.
package engine

import (
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/services/evaluator"
	"RunGuard/internal/services/hostility"
	"RunGuard/internal/services/lifecycle"
	"RunGuard/internal/services/samedir"
)

type Config struct {
	RunWindow int             `yaml:"run_window" default:"20" validate:"gte=2"`
	Payoff    PayoffConfig    `yaml:"payoff"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	SameDir   SameDirConfig   `yaml:"same_dir"`
	Hostility HostilityConfig `yaml:"hostility"`
}

type PayoffConfig struct {
	Stake    float64 `yaml:"stake" default:"1" validate:"gt=0"`
	Exponent float64 `yaml:"exponent" default:"1" validate:"gt=0"`
	// Stakes overrides the stake per pattern name.
	Stakes map[string]float64 `yaml:"stakes" validate:"omitempty,dive,gt=0"`
}

type LifecycleConfig struct {
	ActivationThreshold   float64 `yaml:"activation_threshold" default:"140" validate:"gt=0"`
	DeactivationThreshold float64 `yaml:"deactivation_threshold" default:"140" validate:"gt=0"`
	PauseAfterLosses      int     `yaml:"pause_after_losses" default:"3" validate:"gte=0"`
	ConfidenceWindow      int     `yaml:"confidence_window" default:"10" validate:"gte=1"`
	ResumeWins            int     `yaml:"resume_wins" default:"2" validate:"gte=1"`
	ResumeProfit          float64 `yaml:"resume_profit" default:"70" validate:"gt=0"`
}

type SameDirConfig struct {
	ResumeTriggers      []string `yaml:"resume_triggers" default:"[\"ZZ\",\"2A2\",\"3A3\",\"4A4\",\"5A5\"]" validate:"min=1,dive,required"`
	DecayPatterns       []string `yaml:"decay_patterns" default:"[\"ZZ\",\"2A2\",\"3A3\",\"4A4\",\"5A5\"]" validate:"dive,required"`
	DecayFraction       float64  `yaml:"decay_fraction" default:"0.5" validate:"gte=0,lte=1"`
	FormationConfirmers []string `yaml:"formation_confirmers" default:"[\"ZZ\",\"2A2\",\"3A3\",\"4A4\",\"5A5\"]" validate:"dive,required"`
	FormationWindow     int      `yaml:"formation_window" default:"3" validate:"gte=1"`
	MaxFormationLosses  int      `yaml:"max_formation_losses" default:"2" validate:"gte=0"`
}

type IndicatorWeights struct {
	Cascade            float64 `yaml:"cascade" default:"3" validate:"gte=0"`
	CrossPatternFail   float64 `yaml:"cross_pattern_fail" default:"2" validate:"gte=0"`
	OppositeSyncFail   float64 `yaml:"opposite_sync_fail" default:"4" validate:"gte=0"`
	HighMagnitudeLoss  float64 `yaml:"high_magnitude_loss" default:"1" validate:"gte=0"`
	HighMagnitudeBurst float64 `yaml:"high_magnitude_cluster" default:"3" validate:"gte=0"`
	WinRateCollapse    float64 `yaml:"win_rate_collapse" default:"2" validate:"gte=0"`
}

type HostilityConfig struct {
	CascadeLength        int              `yaml:"cascade_length" default:"3" validate:"gte=2"`
	CrossPatternWindow   int              `yaml:"cross_pattern_window" default:"3" validate:"gte=1"`
	HighMagnitude        float64          `yaml:"high_magnitude" default:"80" validate:"gt=0,lte=100"`
	ClusterMagnitude     float64          `yaml:"cluster_magnitude" default:"70" validate:"gt=0,lte=100"`
	ClusterSize          int              `yaml:"cluster_size" default:"3" validate:"gte=2"`
	ClusterWindow        int              `yaml:"cluster_window" default:"5" validate:"gte=1"`
	CollapseWindow       int              `yaml:"collapse_window" default:"10" validate:"gte=1"`
	CollapseWinRate      float64          `yaml:"collapse_win_rate" default:"0.3" validate:"gte=0,lte=1"`
	Weights              IndicatorWeights `yaml:"weights"`
	WinDecay             float64          `yaml:"win_decay" default:"2" validate:"gte=0"`
	IdleDecay            float64          `yaml:"idle_decay" default:"0.5" validate:"gte=0"`
	CautionThreshold     float64          `yaml:"caution_threshold" default:"5" validate:"gt=0"`
	PauseThreshold       float64          `yaml:"pause_threshold" default:"8" validate:"gtfield=CautionThreshold"`
	ExtendedThreshold    float64          `yaml:"extended_threshold" default:"11" validate:"gtfield=PauseThreshold"`
	ResumeThreshold      float64          `yaml:"resume_threshold" default:"4" validate:"gt=0,ltfield=PauseThreshold"`
	PauseBlocks          int              `yaml:"pause_blocks" default:"5" validate:"gte=1"`
	ExtendedBlocks       int              `yaml:"extended_blocks" default:"10" validate:"gtefield=PauseBlocks"`
	CautionMinConfidence float64          `yaml:"caution_min_confidence" default:"60" validate:"gte=0,lte=100"`
	RecoveryWindow       int              `yaml:"recovery_window" default:"5" validate:"gte=1"`
	RecoveryWinRate      float64          `yaml:"recovery_win_rate" default:"0.5" validate:"gte=0,lt=1"`
	ContinuationWins     int              `yaml:"continuation_wins" default:"2" validate:"gte=1"`
	IndicatorHistory     int              `yaml:"indicator_history" default:"100" validate:"gte=1"`
}

var validate = validator.New()

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("engine: default tags: %v", err))
	}
	return c
}

// Validate reports every offending field as a ConfigurationError.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &models.ConfigurationError{Field: "engine", Reason: err.Error()}
		}
		for _, fe := range fieldErrs {
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			errs = append(errs, &models.ConfigurationError{Field: fe.Namespace(), Reason: "failed " + reason})
		}
	}
	if _, err := c.build(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// components is the validated, typed form of Config.
type components struct {
	payoff    evaluator.Payoff
	lifecycle lifecycle.Config
	resume    lifecycle.ImaginaryRecovery
	sameDir   samedir.Config
	hostility hostility.Config
}

func (c Config) build() (components, error) {
	stakes := make(map[models.PatternID]float64, len(c.Payoff.Stakes))
	for name, v := range c.Payoff.Stakes {
		id, err := models.ParsePatternID(name)
		if err != nil {
			return components{}, &models.ConfigurationError{Field: "payoff.stakes", Reason: err.Error()}
		}
		stakes[id] = v
	}

	triggers, err := models.ParsePatternSet(c.SameDir.ResumeTriggers)
	if err != nil {
		return components{}, &models.ConfigurationError{Field: "same_dir.resume_triggers", Reason: err.Error()}
	}
	decay, err := models.ParsePatternSet(c.SameDir.DecayPatterns)
	if err != nil {
		return components{}, &models.ConfigurationError{Field: "same_dir.decay_patterns", Reason: err.Error()}
	}
	confirmers, err := models.ParsePatternSet(c.SameDir.FormationConfirmers)
	if err != nil {
		return components{}, &models.ConfigurationError{Field: "same_dir.formation_confirmers", Reason: err.Error()}
	}
	sd := samedir.Config{
		ResumeTriggers:      triggers,
		DecayPatterns:       decay,
		DecayFraction:       c.SameDir.DecayFraction,
		FormationConfirmers: confirmers,
		FormationWindow:     c.SameDir.FormationWindow,
		MaxFormationLosses:  c.SameDir.MaxFormationLosses,
	}
	if err := sd.Validate(); err != nil {
		return components{}, err
	}

	h := c.Hostility
	return components{
		payoff: evaluator.Payoff{DefaultStake: c.Payoff.Stake, Exponent: c.Payoff.Exponent, Stakes: stakes},
		lifecycle: lifecycle.Config{
			ActivationThreshold:   c.Lifecycle.ActivationThreshold,
			DeactivationThreshold: c.Lifecycle.DeactivationThreshold,
			PauseAfterLosses:      c.Lifecycle.PauseAfterLosses,
			ConfidenceWindow:      c.Lifecycle.ConfidenceWindow,
			ActivateOnProfit:      true,
		},
		resume:  lifecycle.ImaginaryRecovery{ConsecutiveWins: c.Lifecycle.ResumeWins, Profit: c.Lifecycle.ResumeProfit},
		sameDir: sd,
		hostility: hostility.Config{
			CascadeLength:      h.CascadeLength,
			CrossPatternWindow: h.CrossPatternWindow,
			HighMagnitude:      h.HighMagnitude,
			ClusterMagnitude:   h.ClusterMagnitude,
			ClusterSize:        h.ClusterSize,
			ClusterWindow:      h.ClusterWindow,
			CollapseWindow:     h.CollapseWindow,
			CollapseWinRate:    h.CollapseWinRate,
			Weights: map[models.IndicatorKind]float64{
				models.IndicatorCascade:            h.Weights.Cascade,
				models.IndicatorCrossPatternFail:   h.Weights.CrossPatternFail,
				models.IndicatorOppositeSyncFail:   h.Weights.OppositeSyncFail,
				models.IndicatorHighMagnitudeLoss:  h.Weights.HighMagnitudeLoss,
				models.IndicatorHighMagnitudeBurst: h.Weights.HighMagnitudeBurst,
				models.IndicatorWinRateCollapse:    h.Weights.WinRateCollapse,
			},
			WinDecay:             h.WinDecay,
			IdleDecay:            h.IdleDecay,
			CautionThreshold:     h.CautionThreshold,
			PauseThreshold:       h.PauseThreshold,
			ExtendedThreshold:    h.ExtendedThreshold,
			ResumeThreshold:      h.ResumeThreshold,
			PauseBlocks:          h.PauseBlocks,
			ExtendedBlocks:       h.ExtendedBlocks,
			CautionMinConfidence: h.CautionMinConfidence,
			RecoveryWindow:       h.RecoveryWindow,
			RecoveryWinRate:      h.RecoveryWinRate,
			ContinuationWins:     h.ContinuationWins,
			IndicatorHistory:     h.IndicatorHistory,
		},
	}, nil
}
