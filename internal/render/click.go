package render

import (
	"context"
	"math"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/layout"
)

// Click hit-tests a screen point. A hit on a node or edge is emitted to the
// sink and returned; a miss emits nothing.
func (r *Renderer) Click(ctx context.Context, x, y float64) (Event, bool) {
	ev, ok := r.hit(ctx, layout.Point{X: x, Y: y})
	if ok {
		r.emit(ev)
	}
	return ev, ok
}

func (r *Renderer) hit(ctx context.Context, screen layout.Point) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil || r.positioned == nil || r.graph == nil {
		return Event{}, false
	}
	p := r.view.ToLayout(screen)

	// Later nodes are drawn on top.
	for i := len(r.positioned.Nodes) - 1; i >= 0; i-- {
		box := r.positioned.Nodes[i]
		if !box.Contains(p) {
			continue
		}
		n := r.graph.Node(box.ID)
		if n == nil {
			continue
		}
		return Event{Type: NodeClicked, Action: n.Action, NodeID: n.ID}, true
	}

	tolerance := clickTolerance / r.view.Zoom
	best, bestDist := -1, math.Inf(1)
	for i, ep := range r.positioned.Edges {
		pts := ep.Flatten()
		for j := 1; j < len(pts); j++ {
			if d := layout.DistanceToSegment(p, pts[j-1], pts[j]); d < bestDist {
				best, bestDist = i, d
			}
		}
	}
	if best < 0 || bestDist > tolerance {
		return Event{}, false
	}

	e, ok := r.graph.Edge(r.positioned.Edges[best].ID)
	if !ok {
		return Event{}, false
	}
	ev := Event{Type: EdgeClicked, EdgeID: e.ID, From: e.From, To: e.To, Condition: e.Label}
	if e.Kind == diagram.EdgeKindTransition {
		ev.ConditionHeld = r.conditionHeldLocked(ctx, e)
	}
	return ev, true
}

// conditionHeldLocked evaluates an edge's condition against the most recent
// successful step of its source action in the current selection.
func (r *Renderer) conditionHeldLocked(ctx context.Context, e diagram.Edge) *bool {
	if r.deps.Conditions == nil || r.app == nil {
		return nil
	}
	result, ok := r.sourceResultLocked(e.From)
	if !ok {
		return nil
	}
	held, err := r.deps.Conditions.Evaluate(ctx, r.app.ConditionLanguage, e.Label, result)
	if err != nil {
		r.logger.DebugContext(ctx, "condition not evaluated", "edge", e.ID, "error", err)
		return nil
	}
	return &held
}

func (r *Renderer) sourceResultLocked(action string) (map[string]any, bool) {
	sel := r.selection
	if sel.Current != nil && sel.Current.Action() == action && sel.Current.Completed() && !sel.Current.Failed() {
		return sel.Current.End.Result, true
	}
	for i := range sel.History {
		s := &sel.History[i]
		if s.Action() == action && s.Completed() && !s.Failed() {
			return s.End.Result, true
		}
	}
	return nil, false
}
