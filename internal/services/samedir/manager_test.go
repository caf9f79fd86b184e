package samedir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/services/lifecycle"
)

func res(p models.PatternID, block int, pnl float64, bet bool) models.EvaluationResult {
	return models.EvaluationResult{Pattern: p, SignalBlockIndex: block - 1, EvalBlockIndex: block, IsWin: pnl > 0, PnL: pnl, WasBet: bet}
}

func brokenRun(breakIndex int, breakMag float64, mags ...float64) models.RunEvent {
	r := models.Run{Direction: models.Up, Length: len(mags), StartIndex: breakIndex - len(mags), EndIndex: breakIndex - 1}
	for i, m := range mags {
		if i < models.RunHeadSize {
			r.Head[i] = m
		}
		if i > 0 {
			r.TotalMagnitude += m
		}
	}
	return models.RunEvent{
		Kind:     models.RunBroken,
		Finished: &r,
		Block:    models.Block{Index: breakIndex, Direction: models.Down, Magnitude: breakMag},
	}
}

func activeManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(models.SameDir, lifecycle.DefaultConfig(), DefaultConfig(), nil)
	require.NoError(t, err)
	tr, err := m.OnRunBroken(brokenRun(4, 20, 40, 80, 90))
	require.NoError(t, err)
	require.NotNil(t, tr, "run profit 150 activates")
	return m
}

func pausedManager(t *testing.T) *Manager {
	t.Helper()
	m := activeManager(t)
	for i := 0; i < 3; i++ {
		_, _, err := m.OnResult(res(models.SameDir, 5+i, -10, true))
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusPaused, m.Lifecycle().Status())
	require.Equal(t, 30.0, m.Lifecycle().State().AccumulatedLoss)
	return m
}

func TestRejectsNonContinuationPattern(t *testing.T) {
	_, err := New(models.ZZ, lifecycle.DefaultConfig(), DefaultConfig(), nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestRejectsAntiFamilyTriggers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResumeTriggers = cfg.ResumeTriggers.With(models.Anti2A2)
	_, err := New(models.SameDir, lifecycle.DefaultConfig(), cfg, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.DecayPatterns = cfg.DecayPatterns.With(models.AntiZZ)
	_, err = New(models.SameDir, lifecycle.DefaultConfig(), cfg, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestActivationUsesProfitAfterOwnIndex(t *testing.T) {
	m, err := New(models.SameDir2, lifecycle.DefaultConfig(), DefaultConfig(), nil)
	require.NoError(t, err)
	// after block 2: 90 - 20 = 70, below threshold
	tr, err := m.OnRunBroken(brokenRun(4, 20, 40, 80, 90))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = m.OnRunBroken(brokenRun(20, 10, 10, 10, 100, 60))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 20, tr.BlockIndex)
}

func TestResumeOnlyOnAlternationLoss(t *testing.T) {
	m := pausedManager(t)

	_, _, err := m.OnResult(res(models.Anti2A2, 9, -50, false))
	require.NoError(t, err)
	_, _, err = m.OnResult(res(models.AntiZZ, 9, -50, false))
	require.NoError(t, err)
	assert.False(t, m.Lifecycle().ResumeReady(), "anti-alternation losses never resume")

	_, _, err = m.OnResult(res(models.Alt2A2, 10, -15, false))
	require.NoError(t, err)
	assert.True(t, m.Lifecycle().ResumeReady())
	assert.Equal(t, models.ReasonCompanionTrigger, m.Lifecycle().ResumeReason())
}

func TestOwnImaginaryWinsDoNotResume(t *testing.T) {
	m := pausedManager(t)
	for i := 0; i < 4; i++ {
		_, _, err := m.OnResult(res(models.SameDir, 9+i, 80, false))
		require.NoError(t, err)
	}
	assert.False(t, m.Lifecycle().ResumeReady())
}

func TestDecayCreditWhilePaused(t *testing.T) {
	m := pausedManager(t)

	_, adj, err := m.OnResult(res(models.ZZ, 9, 40, false))
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, models.AdjustmentDecayCredit, adj.Kind)
	assert.Equal(t, 20.0, adj.Amount)
	assert.Equal(t, models.ZZ, adj.Source)
	assert.Equal(t, 10.0, m.Lifecycle().State().AccumulatedLoss)

	_, adj, err = m.OnResult(res(models.AntiZZ, 10, 40, false))
	require.NoError(t, err)
	assert.Nil(t, adj, "anti-alternation wins earn no credit")

	_, adj, err = m.OnResult(res(models.Alt3A3, 11, 60, false))
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, 10.0, adj.Amount, "credit is capped at the remaining loss")
	assert.Zero(t, m.Lifecycle().State().AccumulatedLoss)

	credited, count := m.DecayCredited()
	assert.Equal(t, 30.0, credited)
	assert.Equal(t, 2, count)
}

func TestNoDecayWhileActive(t *testing.T) {
	m := activeManager(t)
	_, _, err := m.OnResult(res(models.SameDir, 5, -25, true))
	require.NoError(t, err)

	_, adj, err := m.OnResult(res(models.ZZ, 6, 80, true))
	require.NoError(t, err)
	assert.Nil(t, adj)
	assert.Equal(t, 25.0, m.Lifecycle().State().AccumulatedLoss)
}

func TestFormationReversal(t *testing.T) {
	m := activeManager(t)
	_, _, err := m.OnResult(res(models.SameDir, 10, -30, true))
	require.NoError(t, err)
	_, _, err = m.OnResult(res(models.SameDir, 11, -20, true))
	require.NoError(t, err)
	require.Equal(t, 50.0, m.Lifecycle().State().AccumulatedLoss)

	adjs, err := m.OnSignals(12, []models.Signal{{Pattern: models.SameDir, SignalBlockIndex: 12}, {Pattern: models.ZZ, SignalBlockIndex: 12}})
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	assert.Equal(t, models.AdjustmentFormationReversal, adjs[0].Kind)
	assert.Equal(t, models.ZZ, adjs[0].Source)
	assert.Equal(t, 30.0, adjs[0].Amount)
	assert.Equal(t, 20.0, adjs[1].Amount)
	assert.Zero(t, m.Lifecycle().State().AccumulatedLoss)

	adjs, err = m.OnSignals(13, []models.Signal{{Pattern: models.ZZ, SignalBlockIndex: 13}})
	require.NoError(t, err)
	assert.Empty(t, adjs, "reversed losses are consumed")
}

func TestFormationReversalWindowAndCap(t *testing.T) {
	m := activeManager(t)
	_, _, err := m.OnResult(res(models.SameDir, 10, -30, true))
	require.NoError(t, err)

	adjs, err := m.OnSignals(13, []models.Signal{{Pattern: models.Alt2A2, SignalBlockIndex: 13}})
	require.NoError(t, err)
	assert.Empty(t, adjs, "losses older than the window stay")
	assert.Equal(t, 30.0, m.Lifecycle().State().AccumulatedLoss)

	cfg := DefaultConfig()
	cfg.MaxFormationLosses = 1
	cfg.FormationWindow = 5
	m2, err := New(models.SameDir, lifecycle.Config{ActivationThreshold: 140, DeactivationThreshold: 140, ConfidenceWindow: 10}, cfg, nil)
	require.NoError(t, err)
	_, err = m2.OnRunBroken(brokenRun(4, 20, 40, 80, 90))
	require.NoError(t, err)
	for i, pnl := range []float64{-10, -20, -30} {
		_, _, err := m2.OnResult(res(models.SameDir, 5+i, pnl, true))
		require.NoError(t, err)
	}
	adjs, err = m2.OnSignals(7, []models.Signal{{Pattern: models.Alt3A3, SignalBlockIndex: 7}})
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.Equal(t, 10.0, adjs[0].Amount, "the earliest losing flip is reversed first")
	assert.Equal(t, 50.0, m2.Lifecycle().State().AccumulatedLoss)
}

func TestNoFormationReversalWhilePaused(t *testing.T) {
	m := pausedManager(t)
	adjs, err := m.OnSignals(8, []models.Signal{{Pattern: models.ZZ, SignalBlockIndex: 8}})
	require.NoError(t, err)
	assert.Empty(t, adjs)
	assert.Equal(t, 30.0, m.Lifecycle().State().AccumulatedLoss)
}

func TestImaginaryLossesNotFormationLosses(t *testing.T) {
	m := activeManager(t)
	_, _, err := m.OnResult(res(models.SameDir, 10, -30, false))
	require.NoError(t, err)
	adjs, err := m.OnSignals(10, []models.Signal{{Pattern: models.ZZ, SignalBlockIndex: 10}})
	require.NoError(t, err)
	assert.Empty(t, adjs)
}

func TestFormationReversalOnlyWhenSetupForms(t *testing.T) {
	m := activeManager(t)
	zz := func(block int) []models.Signal {
		return []models.Signal{{Pattern: models.ZZ, SignalBlockIndex: block}}
	}

	_, _, err := m.OnResult(res(models.SameDir, 10, -30, true))
	require.NoError(t, err)
	adjs, err := m.OnSignals(10, zz(10))
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.Equal(t, 30.0, adjs[0].Amount)

	_, _, err = m.OnResult(res(models.SameDir, 11, -20, true))
	require.NoError(t, err)
	adjs, err = m.OnSignals(11, zz(11))
	require.NoError(t, err)
	assert.Empty(t, adjs, "the setup already held on block 10")
	assert.Equal(t, 20.0, m.Lifecycle().State().AccumulatedLoss)

	_, _, err = m.OnResult(res(models.SameDir, 12, 5, true))
	require.NoError(t, err)
	adjs, err = m.OnSignals(12, nil)
	require.NoError(t, err)
	assert.Empty(t, adjs)

	_, _, err = m.OnResult(res(models.SameDir, 13, -25, true))
	require.NoError(t, err)
	adjs, err = m.OnSignals(13, zz(13))
	require.NoError(t, err)
	require.Len(t, adjs, 1, "the block 11 loss stays on the books")
	assert.Equal(t, 25.0, adjs[0].Amount)
	assert.Equal(t, 13, adjs[0].BlockIndex)
	assert.Equal(t, 20.0, m.Lifecycle().State().AccumulatedLoss)
}

func TestDecayCreditCountsFromEachPause(t *testing.T) {
	for name, repauseAt := range map[string]int{
		"later block": 11,
		"same block":  9,
	} {
		t.Run(name, func(t *testing.T) {
			m := pausedManager(t)
			_, adj, err := m.OnResult(res(models.ZZ, 9, 40, false))
			require.NoError(t, err)
			require.NotNil(t, adj)
			credited, count := m.DecayCredited()
			require.Equal(t, 20.0, credited)
			require.Equal(t, 1, count)

			_, err = m.Lifecycle().Resume(models.ReasonCompanionTrigger, 9)
			require.NoError(t, err)
			_, err = m.Lifecycle().Pause(models.ReasonHostilityPause, repauseAt)
			require.NoError(t, err)

			_, err = m.OnSignals(repauseAt, nil)
			require.NoError(t, err)
			credited, count = m.DecayCredited()
			assert.Zero(t, credited)
			assert.Zero(t, count)

			_, adj, err = m.OnResult(res(models.Alt2A2, repauseAt+1, 10, false))
			require.NoError(t, err)
			require.NotNil(t, adj)
			credited, count = m.DecayCredited()
			assert.Equal(t, 5.0, credited)
			assert.Equal(t, 1, count)
		})
	}
}
