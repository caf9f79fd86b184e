// Package runtracker segments the block stream into runs of same-direction blocks.
package runtracker

import (
	"RunGuard/internal/domain/models"
)

// DefaultWindow is how many completed runs are retained for pattern setups.
const DefaultWindow = 20

// Tracker owns the current run and a bounded history of completed runs.
type Tracker struct {
	window    int
	started   bool
	lastIndex int
	current   models.Run
	completed []models.Run // oldest first, at most window entries
}

type Option func(*Tracker)

// WithWindow bounds the completed-run history.
func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.window = n
		}
	}
}

func New(opts ...Option) *Tracker {
	t := &Tracker{window: DefaultWindow}
	for _, opt := range opts {
		opt(t)
	}
	t.completed = make([]models.Run, 0, t.window)
	return t
}

// Observe folds one block into the run state. A rejected block leaves the tracker untouched.
func (t *Tracker) Observe(b models.Block) (models.RunEvent, error) {
	if err := b.Validate(); err != nil {
		return models.RunEvent{}, err
	}
	if t.started && b.Index != t.lastIndex+1 {
		return models.RunEvent{}, &models.OutOfOrderInputError{Expected: t.lastIndex + 1, Got: b.Index}
	}
	t.lastIndex = b.Index

	if !t.started {
		t.started = true
		t.current = openRun(b)
		return models.RunEvent{Kind: models.RunContinuing, Current: t.current, Block: b}, nil
	}

	if b.Direction == t.current.Direction {
		extendRun(&t.current, b)
		return models.RunEvent{Kind: models.RunContinuing, Current: t.current, Block: b}, nil
	}

	finished := t.current
	t.push(finished)
	t.current = openRun(b)

	ev := models.RunEvent{Kind: models.RunBroken, Current: t.current, Finished: &finished, Block: b}
	if p, ok := finished.ProfitAfter(1, b.Magnitude); ok {
		ev.RunProfit = p
		ev.HasRunProfit = true
	}
	return ev, nil
}

// History returns a copy; callers cannot reach tracker state through it.
func (t *Tracker) History() models.RunHistory {
	completed := make([]models.Run, len(t.completed))
	copy(completed, t.completed)
	return models.RunHistory{Completed: completed, Current: t.current}
}

func (t *Tracker) Current() (models.Run, bool) {
	return t.current, t.started
}

// LastIndex is the index of the last accepted block.
func (t *Tracker) LastIndex() (int, bool) {
	return t.lastIndex, t.started
}

func (t *Tracker) push(r models.Run) {
	if len(t.completed) == t.window {
		copy(t.completed, t.completed[1:])
		t.completed = t.completed[:t.window-1]
	}
	t.completed = append(t.completed, r)
}

func openRun(b models.Block) models.Run {
	r := models.Run{
		Direction:  b.Direction,
		Length:     1,
		StartIndex: b.Index,
		EndIndex:   b.Index,
	}
	r.Head[0] = b.Magnitude
	return r
}

func extendRun(r *models.Run, b models.Block) {
	if r.Length < models.RunHeadSize {
		r.Head[r.Length] = b.Magnitude
	}
	r.Length++
	r.EndIndex = b.Index
	r.TotalMagnitude += b.Magnitude
}
