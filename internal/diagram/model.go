package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAction NodeKind = "action"
	NodeKindInput  NodeKind = "input"
)

// EdgeKind classifies a diagram edge.
type EdgeKind string

const (
	EdgeKindTransition EdgeKind = "transition"
	EdgeKindInput      EdgeKind = "input"
)

// Graph is the layout-ready topology built from an application description.
// It is immutable once built; a new description produces a new Graph.
type Graph struct {
	Title string
	Nodes []*Node
	Edges []Edge

	nodeIndex map[string]int
	edgeIndex map[string]int
}

// Node is an action or a synthesized external input.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	// Action is the action name for action nodes, and the consuming
	// action for input nodes.
	Action string
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
	Kind  EdgeKind
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	i, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	return g.Nodes[i]
}

// InputNode returns the node of an input consumed by an action, or nil.
func (g *Graph) InputNode(action, input string) *Node {
	for _, n := range g.Nodes {
		if n.Kind == NodeKindInput && n.Action == action && n.Label == input {
			return n
		}
	}
	return nil
}

// Edge returns the edge with the given ID and whether it exists.
func (g *Graph) Edge(id string) (Edge, bool) {
	i, ok := g.edgeIndex[id]
	if !ok {
		return Edge{}, false
	}
	return g.Edges[i], true
}

// NodePosition returns the insertion index of a node, or -1.
func (g *Graph) NodePosition(id string) int {
	i, ok := g.nodeIndex[id]
	if !ok {
		return -1
	}
	return i
}

// ActionCount returns the number of action nodes.
func (g *Graph) ActionCount() int {
	n := 0
	for _, node := range g.Nodes {
		if node.Kind == NodeKindAction {
			n++
		}
	}
	return n
}
