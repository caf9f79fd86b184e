package engine

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RunGuard/internal/domain/models"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession("test", DefaultConfig(), nil)
	require.NoError(t, err)
	return s
}

func feed(t *testing.T, s *Session, blocks []models.Block) []*models.BlockOutput {
	t.Helper()
	outs := make([]*models.BlockOutput, 0, len(blocks))
	for _, b := range blocks {
		out, err := s.ProcessBlock(b)
		require.NoError(t, err, "block %d", b.Index)
		outs = append(outs, out)
	}
	return outs
}

func randomBlocks(seed int64, n int) []models.Block {
	rng := rand.New(rand.NewSource(seed))
	blocks := make([]models.Block, n)
	dir := models.Up
	for i := range blocks {
		// sticky runs so every pattern family gets setups
		if rng.Float64() < 0.45 {
			dir = dir.Opposite()
		}
		blocks[i] = models.Block{Index: i, Direction: dir, Magnitude: float64(rng.Intn(101))}
	}
	return blocks
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 140.0, cfg.Lifecycle.ActivationThreshold)
	assert.Equal(t, 140.0, cfg.Lifecycle.DeactivationThreshold)
	assert.Equal(t, 0.5, cfg.SameDir.DecayFraction)
	assert.Equal(t, []string{"ZZ", "2A2", "3A3", "4A4", "5A5"}, cfg.SameDir.ResumeTriggers)
	assert.Equal(t, 4.0, cfg.Hostility.Weights.OppositeSyncFail)
}

func TestConfigRejected(t *testing.T) {
	cases := map[string]func(*Config){
		"zero deactivation":      func(c *Config) { c.Lifecycle.DeactivationThreshold = 0 },
		"negative activation":    func(c *Config) { c.Lifecycle.ActivationThreshold = -1 },
		"anti resume trigger":    func(c *Config) { c.SameDir.ResumeTriggers = []string{"ZZ", "Anti2A2"} },
		"unknown decay pattern":  func(c *Config) { c.SameDir.DecayPatterns = []string{"9A9"} },
		"unknown stake pattern":  func(c *Config) { c.Payoff.Stakes = map[string]float64{"Nope": 1} },
		"pause below caution":    func(c *Config) { c.Hostility.PauseThreshold = 4 },
		"resume above pause":     func(c *Config) { c.Hostility.ResumeThreshold = 9 },
		"extended shorter pause": func(c *Config) { c.Hostility.ExtendedBlocks = 2 },
		"decay fraction above 1": func(c *Config) { c.SameDir.DecayFraction = 1.5 },
		"empty resume triggers":  func(c *Config) { c.SameDir.ResumeTriggers = []string{} },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, models.ErrConfiguration), "%s: %v", name, err)

		_, err = NewSession("x", cfg, nil)
		assert.ErrorIs(t, err, models.ErrConfiguration, name)
	}
}

func TestOutOfOrderLeavesSessionUnchanged(t *testing.T) {
	s := newSession(t)
	feed(t, s, []models.Block{{Index: 0, Direction: models.Up, Magnitude: 10}})
	pending := s.Pending()

	_, err := s.ProcessBlock(models.Block{Index: 2, Direction: models.Up, Magnitude: 10})
	var be *models.BlockError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "runtracker", be.Component)
	assert.ErrorIs(t, err, models.ErrOutOfOrder)
	assert.Equal(t, 1, s.BlockCount())
	assert.Equal(t, pending, s.Pending())
	assert.Nil(t, s.Halted(), "rejected input does not halt the session")

	_, err = s.ProcessBlock(models.Block{Index: 1, Direction: models.Down, Magnitude: 101})
	assert.ErrorIs(t, err, models.ErrInvalidBlock)
}

func TestSignalsAreScoredOnNextBlock(t *testing.T) {
	s := newSession(t)
	outs := feed(t, s, []models.Block{
		{Index: 0, Direction: models.Up, Magnitude: 10},
		{Index: 1, Direction: models.Down, Magnitude: 20},
		{Index: 2, Direction: models.Up, Magnitude: 30},
	})

	assert.Empty(t, outs[0].Results)
	require.Len(t, outs[0].Signals, 1)
	assert.Equal(t, models.SameDir, outs[0].Signals[0].Pattern)
	assert.False(t, outs[0].Signals[0].WasBet, "observing patterns never bet")

	require.Len(t, outs[1].Results, 1)
	r := outs[1].Results[0]
	assert.Equal(t, 0, r.SignalBlockIndex)
	assert.Equal(t, 1, r.EvalBlockIndex)
	assert.False(t, r.IsWin)
	assert.Equal(t, -20.0, r.PnL)

	// after U D: SameDir, ZZ and AntiZZ all have setups
	var got []models.PatternID
	for _, sig := range outs[1].Signals {
		got = append(got, sig.Pattern)
	}
	assert.Equal(t, []models.PatternID{models.SameDir, models.ZZ, models.AntiZZ}, got)

	var zz models.EvaluationResult
	for _, r := range outs[2].Results {
		if r.Pattern == models.ZZ {
			zz = r
		}
	}
	assert.True(t, zz.IsWin)
	assert.Equal(t, 30.0, zz.PnL)
}

func TestSameDirActivatesOnRunProfit(t *testing.T) {
	s := newSession(t)
	outs := feed(t, s, []models.Block{
		{Index: 0, Direction: models.Up, Magnitude: 10},
		{Index: 1, Direction: models.Up, Magnitude: 80},
		{Index: 2, Direction: models.Up, Magnitude: 90},
		{Index: 3, Direction: models.Down, Magnitude: 20},
	})
	last := outs[3]
	require.True(t, last.Run.HasRunProfit)
	assert.Equal(t, 150.0, last.Run.RunProfit)

	var activated bool
	for _, tr := range last.Transitions {
		if tr.Pattern == models.SameDir && tr.To == models.StatusActive {
			activated = true
			assert.Equal(t, models.ReasonActivationThreshold, tr.Reason)
			assert.Equal(t, 3, tr.BlockIndex)
		}
	}
	assert.True(t, activated)

	st, err := s.Lifecycle(models.SameDir)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, st.Status)
	st2, _ := s.Lifecycle(models.SameDir2)
	assert.Equal(t, models.StatusObserving, st2.Status, "profit after block 2 is only 70")

	require.NotEmpty(t, last.Signals)
	assert.Equal(t, models.SameDir, last.Signals[0].Pattern)
	assert.True(t, last.Signals[0].WasBet, "active and hostility normal")
}

// Alternation results may reach a continuation pattern's loss only through recorded adjustments.
func TestContinuationLossIsolation(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		s := newSession(t)
		prev := map[models.PatternID]float64{}
		for _, b := range randomBlocks(seed, 400) {
			out, err := s.ProcessBlock(b)
			require.NoError(t, err)

			touched := map[models.PatternID]bool{}
			for _, r := range out.Results {
				touched[r.Pattern] = true
			}
			for _, tr := range out.Transitions {
				touched[tr.Pattern] = true
			}
			adjusted := map[models.PatternID]float64{}
			for _, a := range out.Adjustments {
				adjusted[a.Pattern] += a.Amount
				assert.NotEqual(t, models.FamilyAntiAlternation, a.Source.Family(), "seed %d block %d", seed, b.Index)
			}

			for _, p := range models.PatternsOf(models.FamilyContinuation) {
				st, _ := s.Lifecycle(p)
				if !touched[p] {
					assert.InDelta(t, prev[p]-adjusted[p], st.AccumulatedLoss, 1e-9,
						"seed %d block %d %s changed without its own result", seed, b.Index, p)
				}
				prev[p] = st.AccumulatedLoss
			}

			for _, tr := range out.Transitions {
				if tr.Reason != models.ReasonCompanionTrigger {
					continue
				}
				var altLoss bool
				for _, r := range out.Results {
					if r.Pattern.Family() == models.FamilyAlternation && !r.IsWin {
						altLoss = true
					}
				}
				assert.True(t, altLoss, "seed %d block %d: companion resume without an alternation loss", seed, b.Index)
			}
		}
	}
}

func TestInvariantsHoldOnRandomStreams(t *testing.T) {
	for seed := int64(100); seed < 110; seed++ {
		s := newSession(t)
		for _, b := range randomBlocks(seed, 500) {
			out, err := s.ProcessBlock(b)
			require.NoError(t, err)
			for _, st := range s.Lifecycles() {
				assert.GreaterOrEqual(t, st.AccumulatedLoss, 0.0)
				if st.Status == models.StatusPaused {
					assert.NotEmpty(t, st.PauseReason)
				}
				if st.Pattern.Spec().HostilityExempt {
					assert.NotEqual(t, models.ReasonHostilityPause, st.PauseReason)
				}
			}
			h := out.Hostility
			assert.GreaterOrEqual(t, h.Score, 0.0)
			for _, sig := range out.Signals {
				if sig.WasBet && !sig.Pattern.Spec().HostilityExempt {
					assert.False(t, h.Level.Blocking(), "seed %d block %d: bet while hostility blocks", seed, b.Index)
				}
			}
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := newSession(t)
	feed(t, s, randomBlocks(7, 300))

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var snap models.SessionSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored, err := Restore(DefaultConfig(), &snap, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Lifecycles(), restored.Lifecycles())
	assert.Equal(t, s.Hostility().Score, restored.Hostility().Score)
	assert.Equal(t, s.Pending(), restored.Pending())

	next := models.Block{Index: 300, Direction: models.Up, Magnitude: 42}
	a, err := s.ProcessBlock(next)
	require.NoError(t, err)
	b, err := restored.ProcessBlock(next)
	require.NoError(t, err)
	assert.Equal(t, a.Results, b.Results)
	assert.Equal(t, a.Transitions, b.Transitions)
}

func TestRestoreDetectsDivergence(t *testing.T) {
	s := newSession(t)
	feed(t, s, randomBlocks(9, 120))
	snap := s.Snapshot()
	snap.Lifecycles[0].AccumulatedLoss += 1

	_, err := Restore(DefaultConfig(), snap, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverges")
}

func TestHaltedSessionRejectsBlocks(t *testing.T) {
	s := newSession(t)
	s.halted = &models.InvariantViolation{Component: "lifecycle", Detail: "test"}
	_, err := s.ProcessBlock(models.Block{Index: 0, Direction: models.Up, Magnitude: 1})
	assert.ErrorIs(t, err, models.ErrSessionHalted)
	assert.True(t, s.Snapshot().Halted)
}

func TestSummaryCountsBets(t *testing.T) {
	s := newSession(t)
	feed(t, s, randomBlocks(11, 200))
	var bets, evals int
	for _, ps := range s.Summary() {
		assert.Equal(t, ps.Bets, ps.Wins+ps.Losses)
		bets += ps.Bets
	}
	for _, r := range s.Snapshot().Evaluations {
		evals++
		if r.WasBet {
			bets--
		}
	}
	assert.Zero(t, bets)
	assert.Positive(t, evals)
}

// A long alternation after SameDir activates keeps confirming ZZ; only the
// block that forms the setup may reverse losses.
func TestSameDirLossesStandThroughLongAlternation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lifecycle.PauseAfterLosses = 0
	s, err := NewSession("alt", cfg, nil)
	require.NoError(t, err)

	var blocks []models.Block
	for i := 0; i < 5; i++ {
		blocks = append(blocks, models.Block{Index: i, Direction: models.Up, Magnitude: 60})
	}
	dir := models.Down
	for i := 5; i < 25; i++ {
		blocks = append(blocks, models.Block{Index: i, Direction: dir, Magnitude: 60})
		dir = dir.Opposite()
	}

	var reversals, losses int
	for _, out := range feed(t, s, blocks) {
		for _, a := range out.Adjustments {
			if a.Pattern == models.SameDir && a.Kind == models.AdjustmentFormationReversal {
				reversals++
			}
		}
		for _, r := range out.Results {
			if r.Pattern == models.SameDir && r.WasBet && !r.IsWin {
				losses++
			}
		}
	}
	assert.LessOrEqual(t, reversals, cfg.SameDir.MaxFormationLosses)
	assert.Greater(t, losses, reversals)

	st, err := s.Lifecycle(models.SameDir)
	require.NoError(t, err)
	assert.True(t, st.Status == models.StatusExpired || st.AccumulatedLoss > 0,
		"status %s loss %v", st.Status, st.AccumulatedLoss)
}

func TestRestoreKeepsHalt(t *testing.T) {
	s := newSession(t)
	feed(t, s, randomBlocks(13, 80))
	s.halted = &models.InvariantViolation{Component: "lifecycle", Detail: "test"}

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var snap models.SessionSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.True(t, snap.Halted)
	require.NotEmpty(t, snap.HaltReason)

	restored, err := Restore(DefaultConfig(), &snap, nil)
	require.NoError(t, err)
	require.Error(t, restored.Halted())
	assert.ErrorIs(t, restored.Halted(), models.ErrInvariant)
	assert.Contains(t, restored.Halted().Error(), snap.HaltReason)
	assert.Equal(t, s.BlockCount(), restored.BlockCount())

	_, err = restored.ProcessBlock(models.Block{Index: 80, Direction: models.Up, Magnitude: 5})
	assert.ErrorIs(t, err, models.ErrSessionHalted)
	assert.True(t, restored.Snapshot().Halted)
}
