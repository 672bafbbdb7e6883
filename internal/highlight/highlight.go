// Package highlight classifies graph elements against a run's execution
// path. Classification is a lookup-table scan over the path and the graph's
// transition edges; it never traverses the graph and never touches layout.
package highlight

import (
	"sort"
	"time"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/pkg/schema"
)

// Class is the execution classification of a node or edge.
type Class string

const (
	Neutral Class = diagram.ClassNeutral
	Active  Class = diagram.ClassActive
	InPath  Class = diagram.ClassInPath
)

// Mark is the full style key of one element. Hovered is an overlay that
// combines with any Class.
type Mark struct {
	Class   Class `json:"class"`
	Hovered bool  `json:"hovered,omitempty"`
}

// State is the classification of every element of a graph. Elements absent
// from the maps are Neutral and not hovered.
type State struct {
	Nodes map[string]Mark `json:"nodes"`
	Edges map[string]Mark `json:"edges"`
	// Hovering is set when a hovered step was given, whether or not its
	// action exists in the graph.
	Hovering bool `json:"hovering,omitempty"`
}

// Node returns the mark of a node.
func (s State) Node(id string) Mark {
	if m, ok := s.Nodes[id]; ok {
		return m
	}
	return Mark{Class: Neutral}
}

// Edge returns the mark of an edge.
func (s State) Edge(id string) Mark {
	if m, ok := s.Edges[id]; ok {
		return m
	}
	return Mark{Class: Neutral}
}

type pair struct{ from, to string }

// Index holds per-topology lookup tables. Build it once per Graph.
type Index struct {
	// owned lists, per action, the action node and its input nodes.
	owned map[string][]string
	// inputEdges lists, per action, the edges from its input nodes.
	inputEdges map[string][]string
	// transitions lists transition edge IDs per (from, to).
	transitions map[pair][]string
}

// NewIndex builds the lookup tables for g.
func NewIndex(g *diagram.Graph) *Index {
	idx := &Index{
		owned:       make(map[string][]string, len(g.Nodes)),
		inputEdges:  make(map[string][]string),
		transitions: make(map[pair][]string, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		idx.owned[n.Action] = append(idx.owned[n.Action], n.ID)
	}
	for _, e := range g.Edges {
		switch e.Kind {
		case diagram.EdgeKindTransition:
			k := pair{from: e.From, to: e.To}
			idx.transitions[k] = append(idx.transitions[k], e.ID)
		case diagram.EdgeKindInput:
			action := g.Node(e.To).Action
			idx.inputEdges[action] = append(idx.inputEdges[action], e.ID)
		}
	}
	return idx
}

// Classify derives the highlight state for a selection. history holds the
// steps executed before current, most recent first, so that
// [current, history...] is the reverse-chronological path. current and
// hovered may be nil.
//
// The current step's action is Active. Actions in history other than the
// current one are InPath. A transition edge is InPath only if it was taken:
// its source immediately follows its target in the path. Input nodes and
// input edges share the class of the action that consumes them.
func (idx *Index) Classify(current *schema.Step, history []schema.Step, hovered *schema.Step) State {
	started := time.Now()
	defer func() { metrics.HighlightDuration.Observe(time.Since(started).Seconds()) }()

	st := State{
		Nodes: make(map[string]Mark),
		Edges: make(map[string]Mark),
	}

	activeAction := ""
	if current != nil {
		activeAction = current.Action()
		idx.markAction(st, activeAction, Active)
	}

	for i := range history {
		name := history[i].Action()
		if current != nil && name == activeAction {
			continue
		}
		idx.markAction(st, name, InPath)
	}

	path := make([]string, 0, len(history)+1)
	if current != nil {
		path = append(path, activeAction)
	}
	for i := range history {
		path = append(path, history[i].Action())
	}
	for i := 0; i+1 < len(path); i++ {
		for _, id := range idx.transitions[pair{from: path[i+1], to: path[i]}] {
			st.Edges[id] = Mark{Class: InPath}
		}
	}

	if hovered != nil {
		st.Hovering = true
		name := hovered.Action()
		for _, id := range idx.owned[name] {
			m := st.Node(id)
			m.Hovered = true
			st.Nodes[id] = m
		}
		for _, id := range idx.inputEdges[name] {
			m := st.Edge(id)
			m.Hovered = true
			st.Edges[id] = m
		}
	}
	return st
}

func (idx *Index) markAction(st State, action string, class Class) {
	for _, id := range idx.owned[action] {
		if st.Nodes[id].Class == Active {
			continue
		}
		st.Nodes[id] = Mark{Class: class}
	}
	for _, id := range idx.inputEdges[action] {
		if st.Edges[id].Class == Active {
			continue
		}
		st.Edges[id] = Mark{Class: class}
	}
}

// Change is the new mark of one element.
type Change struct {
	ID   string `json:"id"`
	Mark Mark   `json:"mark"`
}

// Delta lists the elements whose mark differs between two states.
type Delta struct {
	Nodes    []Change `json:"nodes"`
	Edges    []Change `json:"edges"`
	Hovering bool     `json:"hovering"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

// Diff returns the elements of s whose mark differs from prev, sorted by ID.
// Elements that dropped back to Neutral are included.
func (s State) Diff(prev State) Delta {
	return Delta{
		Nodes:    diffMarks(s.Nodes, prev.Nodes),
		Edges:    diffMarks(s.Edges, prev.Edges),
		Hovering: s.Hovering,
	}
}

func diffMarks(cur, prev map[string]Mark) []Change {
	neutral := Mark{Class: Neutral}
	get := func(m map[string]Mark, id string) Mark {
		if v, ok := m[id]; ok {
			return v
		}
		return neutral
	}

	var out []Change
	for id, m := range cur {
		if get(prev, id) != m {
			out = append(out, Change{ID: id, Mark: m})
		}
	}
	for id := range prev {
		if _, ok := cur[id]; ok {
			continue
		}
		if get(prev, id) != neutral {
			out = append(out, Change{ID: id, Mark: neutral})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeHighlight reports a node's class and hover flag for exporters.
func (s State) NodeHighlight(id string) (string, bool) {
	m := s.Node(id)
	return string(m.Class), m.Hovered
}

// EdgeHighlight reports an edge's class and hover flag for exporters.
func (s State) EdgeHighlight(id string) (string, bool) {
	m := s.Edge(id)
	return string(m.Class), m.Hovered
}

var _ diagram.Overlay = State{}
