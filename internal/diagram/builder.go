package diagram

import (
	"fmt"

	"github.com/rendis/tracelens/pkg/schema"
)

// InputNodeID returns the synthetic node ID of an input consumed by an action.
// When another node already holds that ID the builder appends "#2", "#3" and
// so on; Graph.InputNode resolves either form.
func InputNodeID(action, input string) string {
	return "input__" + action + "__" + input
}

// TransitionEdgeID returns the edge ID of an action-to-action transition.
// Guarded transitions between the same pair are told apart by their label.
func TransitionEdgeID(from, to, condition string) string {
	if condition == "" {
		return from + "->" + to
	}
	return fmt.Sprintf("%s->%s[%s]", from, to, condition)
}

// Build constructs a Graph from an application description.
func Build(app *schema.Application) (*Graph, error) {
	if app == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "application description is nil")
	}
	g, err := BuildGraph(app.Actions, app.Transitions)
	if err != nil {
		return nil, err
	}
	g.Title = titleFromApp(app)
	return g, nil
}

// BuildGraph converts actions and transitions into nodes and edges.
// Actions are processed in the given order and each action's visible inputs
// in declared order, so identical input always yields identical ordering.
// A transition naming an unknown action is a validation error.
func BuildGraph(actions []schema.Action, transitions []schema.Transition) (*Graph, error) {
	g := &Graph{
		Nodes:     make([]*Node, 0, len(actions)*2),
		Edges:     make([]Edge, 0, len(transitions)+len(actions)),
		nodeIndex: make(map[string]int, len(actions)*2),
		edgeIndex: make(map[string]int, len(transitions)+len(actions)),
	}

	// First pass: register action nodes so transitions and inputs can resolve.
	for i, action := range actions {
		if action.Name == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "action at index %d has empty name", i)
		}
		if err := g.addNode(&Node{ID: action.Name, Label: action.Name, Kind: NodeKindAction, Action: action.Name}); err != nil {
			return nil, err
		}
	}

	// Second pass: synthesize input nodes and their edges.
	for _, action := range actions {
		for _, input := range action.VisibleInputs() {
			id := g.freeID(InputNodeID(action.Name, input))
			if err := g.addNode(&Node{ID: id, Label: input, Kind: NodeKindInput, Action: action.Name}); err != nil {
				return nil, err
			}
			if err := g.addEdge(Edge{ID: id + "->" + action.Name, From: id, To: action.Name, Kind: EdgeKindInput}); err != nil {
				return nil, err
			}
		}
	}

	// Transitions pass through unchanged.
	for i, t := range transitions {
		if g.Node(t.From) == nil || g.Node(t.From).Kind != NodeKindAction {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"transition %d references unknown action %q", i, t.From).
				WithDetails(map[string]any{"from": t.From, "to": t.To})
		}
		if g.Node(t.To) == nil || g.Node(t.To).Kind != NodeKindAction {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"transition %d references unknown action %q", i, t.To).
				WithDetails(map[string]any{"from": t.From, "to": t.To})
		}
		edge := Edge{
			ID:    TransitionEdgeID(t.From, t.To, t.Condition),
			From:  t.From,
			To:    t.To,
			Label: t.Condition,
			Kind:  EdgeKindTransition,
		}
		if err := g.addEdge(edge); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// freeID returns base, or base with the lowest "#n" suffix no node holds.
func (g *Graph) freeID(base string) string {
	id := base
	for n := 2; ; n++ {
		if _, taken := g.nodeIndex[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s#%d", base, n)
	}
}

func (g *Graph) addNode(n *Node) error {
	if _, exists := g.nodeIndex[n.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", n.ID)
	}
	g.nodeIndex[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return nil
}

func (g *Graph) addEdge(e Edge) error {
	if _, exists := g.edgeIndex[e.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"duplicate transition %s -> %s with condition %q", e.From, e.To, e.Label)
	}
	g.edgeIndex[e.ID] = len(g.Edges)
	g.Edges = append(g.Edges, e)
	return nil
}

// titleFromApp generates a diagram title from application metadata.
func titleFromApp(app *schema.Application) string {
	switch {
	case app.AppID != "" && app.Version != "":
		return fmt.Sprintf("%s (%s)", app.AppID, app.Version)
	case app.AppID != "":
		return app.AppID
	case app.Project != "":
		return app.Project
	}
	return "Application"
}
