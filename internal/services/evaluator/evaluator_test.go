package evaluator

import (
	"math"
	"testing"

	"RunGuard/internal/domain/models"
)

func history(lengths ...int) models.RunHistory {
	var runs []models.Run
	dir := models.Up
	idx := 0
	for _, n := range lengths {
		runs = append(runs, models.Run{Direction: dir, Length: n, StartIndex: idx, EndIndex: idx + n - 1})
		idx += n
		dir = dir.Opposite()
	}
	return models.RunHistory{Completed: runs[:len(runs)-1], Current: runs[len(runs)-1]}
}

func TestPredictSetups(t *testing.T) {
	e := New(DefaultPayoff())
	cases := []struct {
		name    string
		pattern models.PatternID
		hist    models.RunHistory
		want    models.Direction
		ok      bool
	}{
		{"SameDir after one block", models.SameDir, history(1), models.Up, true},
		{"SameDir2 needs two", models.SameDir2, history(1), "", false},
		{"SameDir2 after two", models.SameDir2, history(3, 2), models.Down, true},
		{"SameDir3 after four", models.SameDir3, history(4), models.Up, true},
		{"ZZ flips", models.ZZ, history(2, 1, 1), models.Down, true},
		{"AntiZZ continues", models.AntiZZ, history(2, 1, 1), models.Up, true},
		{"ZZ needs previous single", models.ZZ, history(2, 1), "", false},
		{"2A2 flips", models.Alt2A2, history(2, 2), models.Up, true},
		{"Anti2A2 continues", models.Anti2A2, history(2, 2), models.Down, true},
		{"2A2 current too long", models.Alt2A2, history(2, 3), "", false},
		{"3A3 exact", models.Alt3A3, history(1, 3, 3), models.Down, true},
		{"5A5 exact", models.Alt5A5, history(5, 5), models.Up, true},
		{"Anti4A4 mismatch", models.Anti4A4, history(4, 3), "", false},
		{"no history", models.SameDir, models.RunHistory{}, "", false},
	}
	for _, tc := range cases {
		got, ok := e.Predict(tc.pattern, tc.hist)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: got %q,%v want %q,%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestScoreSignsPnL(t *testing.T) {
	e := New(DefaultPayoff())
	sig := models.Signal{Pattern: models.ZZ, SignalBlockIndex: 4, Predicted: models.Up, WasBet: true}

	win := e.Score(sig, models.Block{Index: 5, Direction: models.Up, Magnitude: 62})
	if !win.IsWin || win.PnL != 62 || win.EvalBlockIndex != 5 || !win.WasBet {
		t.Fatalf("unexpected win %+v", win)
	}
	loss := e.Score(sig, models.Block{Index: 5, Direction: models.Down, Magnitude: 62})
	if loss.IsWin || loss.PnL != -62 {
		t.Fatalf("unexpected loss %+v", loss)
	}
}

func TestPayoffStakesAndExponent(t *testing.T) {
	p := Payoff{DefaultStake: 1, Exponent: 2, Stakes: map[models.PatternID]float64{models.SameDir: 3}}
	if v := p.Value(models.ZZ, 50); math.Abs(v-25) > 1e-9 {
		t.Fatalf("expected 25, got %v", v)
	}
	if v := p.Value(models.SameDir, 50); math.Abs(v-75) > 1e-9 {
		t.Fatalf("expected 75, got %v", v)
	}
	if v := DefaultPayoff().Value(models.ZZ, 0); v != 0 {
		t.Fatalf("zero magnitude must pay zero, got %v", v)
	}
}

func TestSignalsRegistryOrder(t *testing.T) {
	e := New(DefaultPayoff())
	sigs := e.Signals(history(1, 1), 1)
	var names []models.PatternID
	for _, s := range sigs {
		names = append(names, s.Pattern)
		if s.SignalBlockIndex != 1 {
			t.Fatalf("signal index not set: %+v", s)
		}
	}
	want := []models.PatternID{models.SameDir, models.ZZ, models.AntiZZ}
	if len(names) != len(want) {
		t.Fatalf("got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v want %v", names, want)
		}
	}
}

func TestEvaluateWithoutSetup(t *testing.T) {
	e := New(DefaultPayoff())
	if _, ok := e.Evaluate(models.Alt3A3, history(1), models.Block{Index: 1, Direction: models.Down, Magnitude: 5}, false); ok {
		t.Fatalf("no setup must yield no result")
	}
	res, ok := e.Evaluate(models.SameDir, history(1), models.Block{Index: 1, Direction: models.Down, Magnitude: 5}, false)
	if !ok || res.IsWin || res.PnL != -5 || res.SignalBlockIndex != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}
