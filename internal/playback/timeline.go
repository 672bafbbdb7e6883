// Package playback holds the step history of one run and derives renderer
// selections from a playback position.
package playback

import (
	"sync"

	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/pkg/schema"
)

// Timeline is the append-only, chronologically ordered step list of a run.
type Timeline struct {
	mu    sync.RWMutex
	steps []schema.Step
	bySeq map[int64]int
}

// NewTimeline creates a timeline from steps in execution order.
func NewTimeline(steps []schema.Step) (*Timeline, error) {
	tl := &Timeline{bySeq: make(map[int64]int, len(steps))}
	if err := tl.Append(steps...); err != nil {
		return nil, err
	}
	return tl, nil
}

// Append adds steps in execution order. Sequence IDs must strictly
// increase; on violation nothing is appended.
func (tl *Timeline) Append(steps ...schema.Step) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	last := int64(-1)
	if n := len(tl.steps); n > 0 {
		last = tl.steps[n-1].Sequence()
	}
	for i := range steps {
		seq := steps[i].Sequence()
		if seq <= last {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %q has sequence id %d, not after %d", steps[i].Action(), seq, last).
				WithDetails(map[string]any{"sequence_id": seq, "previous": last})
		}
		last = seq
	}
	for i := range steps {
		tl.bySeq[steps[i].Sequence()] = len(tl.steps)
		tl.steps = append(tl.steps, steps[i])
	}
	return nil
}

// Update replaces the step with the same sequence ID, typically when an
// in-flight step receives its end entry. It reports whether a step was
// replaced. The action must not change.
func (tl *Timeline) Update(step schema.Step) (bool, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i, ok := tl.bySeq[step.Sequence()]
	if !ok {
		return false, nil
	}
	if tl.steps[i].Action() != step.Action() {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"step %d changed action from %q to %q", step.Sequence(), tl.steps[i].Action(), step.Action())
	}
	tl.steps[i] = step
	return true, nil
}

// Len returns the number of steps.
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.steps)
}

// LastSequence returns the highest sequence ID, or -1 when empty.
func (tl *Timeline) LastSequence() int64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if len(tl.steps) == 0 {
		return -1
	}
	return tl.steps[len(tl.steps)-1].Sequence()
}

// Steps returns a copy of the steps in execution order.
func (tl *Timeline) Steps() []schema.Step {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return append([]schema.Step(nil), tl.steps...)
}

// Since returns the steps with a sequence ID greater than seq.
func (tl *Timeline) Since(seq int64) []schema.Step {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	var out []schema.Step
	for i := range tl.steps {
		if tl.steps[i].Sequence() > seq {
			out = append(out, tl.steps[i])
		}
	}
	return out
}

// Index returns the position of the step with the given sequence ID.
func (tl *Timeline) Index(seq int64) (int, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	i, ok := tl.bySeq[seq]
	return i, ok
}

// SequenceAt maps a position to a sequence ID. Positions out of range
// return -1, which selects the latest step.
func (tl *Timeline) SequenceAt(index int) int64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if index < 0 || index >= len(tl.steps) {
		return -1
	}
	return tl.steps[index].Sequence()
}

// Step returns the step with the given sequence ID.
func (tl *Timeline) Step(seq int64) (schema.Step, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	i, ok := tl.bySeq[seq]
	if !ok {
		return schema.Step{}, false
	}
	return tl.steps[i], true
}

// Selection derives the renderer selection with the step at index as
// current. An index past the end selects the latest step; a negative index
// selects nothing. hoveredSeq < 0 means no hover.
func (tl *Timeline) Selection(index int, hoveredSeq int64) render.Selection {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	var sel render.Selection
	if hoveredSeq >= 0 {
		if i, ok := tl.bySeq[hoveredSeq]; ok {
			h := tl.steps[i]
			sel.Hovered = &h
		}
	}
	if index < 0 || len(tl.steps) == 0 {
		return sel
	}
	if index >= len(tl.steps) {
		index = len(tl.steps) - 1
	}

	cur := tl.steps[index]
	sel.Current = &cur
	sel.History = make([]schema.Step, 0, index)
	for i := index - 1; i >= 0; i-- {
		sel.History = append(sel.History, tl.steps[i])
	}
	return sel
}

// SelectionAt is Selection with the current step given by sequence ID.
// An unknown sequence ID selects the latest step.
func (tl *Timeline) SelectionAt(seq int64, hoveredSeq int64) render.Selection {
	i, ok := tl.Index(seq)
	if !ok {
		i = tl.Len() - 1
	}
	return tl.Selection(i, hoveredSeq)
}
