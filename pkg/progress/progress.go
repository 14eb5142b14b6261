// Package progress maps completed pipeline weight to a percentage.
package progress

import (
	"math"
	"sync"
)

// State is a snapshot of a tracker.
type State struct {
	Completed float64
	Total     float64
}

// Tracker accumulates completed weight against a total. Completed weight is
// non-decreasing and never exceeds the total. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	completed float64
	total     float64
	onChange  func(percent float64)
}

// NewTracker creates a tracker with the given total weight.
func NewTracker(total float64) *Tracker {
	t := &Tracker{}
	t.Reset(total)
	return t
}

// OnChange registers a callback invoked with the new percentage after every
// advance that changes it.
func (t *Tracker) OnChange(fn func(percent float64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Reset zeroes completed weight and sets a new total.
func (t *Tracker) Reset(total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total < 0 || math.IsNaN(total) {
		total = 0
	}
	t.completed = 0
	t.total = total
}

// Advance adds weight, clamped to the total. Negative weights are ignored.
func (t *Tracker) Advance(weight float64) {
	t.mu.Lock()
	if weight <= 0 || math.IsNaN(weight) {
		t.mu.Unlock()
		return
	}
	before := t.completed
	t.completed = math.Min(t.completed+weight, t.total)
	changed := t.completed != before
	percent := t.percentLocked()
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(percent)
	}
}

// Complete advances to the total.
func (t *Tracker) Complete() {
	t.mu.Lock()
	remaining := t.total - t.completed
	t.mu.Unlock()
	t.Advance(remaining)
}

// Percent returns completion in [0, 100]. A tracker with zero total reports 0.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentLocked()
}

// State returns a snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Completed: t.completed, Total: t.total}
}

func (t *Tracker) percentLocked() float64 {
	if t.total <= 0 {
		return 0
	}
	p := t.completed / t.total * 100
	// Absorb float drift from summing fractional weights.
	if math.Abs(p-100) < 1e-9 {
		return 100
	}
	return math.Max(0, math.Min(100, p))
}
