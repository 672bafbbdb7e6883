// Package layout assigns coordinates to a diagram graph with a layered
// (hierarchical) algorithm. Compute is a pure function of topology and
// configuration; callers cache its result by Key.
package layout

import (
	"sort"

	"github.com/rendis/tracelens/internal/diagram"
)

// Direction is the flow direction of ranks.
type Direction string

const (
	TopToBottom Direction = "TB"
	LeftToRight Direction = "LR"
)

// Toggle returns the other direction.
func (d Direction) Toggle() Direction {
	if d == LeftToRight {
		return TopToBottom
	}
	return LeftToRight
}

// ParseDirection maps "TB"/"LR" (any case) to a Direction, defaulting to TopToBottom.
func ParseDirection(s string) Direction {
	switch s {
	case "LR", "lr", "left-to-right":
		return LeftToRight
	default:
		return TopToBottom
	}
}

// Degenerate conditions recorded on a PositionedGraph. They never fail a layout.
const (
	DegenerateCycle        = "cycle"
	DegenerateDisconnected = "disconnected"
	DegenerateEmpty        = "empty"
)

// Config controls box sizes and spacing.
type Config struct {
	Direction       Direction `json:"direction"`
	NodeWidth       float64   `json:"node_width"`
	NodeHeight      float64   `json:"node_height"`
	InputNodeWidth  float64   `json:"input_node_width"`
	InputNodeHeight float64   `json:"input_node_height"`
	NodeSpacing     float64   `json:"node_spacing"`
	RankSpacing     float64   `json:"rank_spacing"`
	Margin          float64   `json:"margin"`
	// MaxSweeps bounds crossing-reduction passes.
	MaxSweeps int `json:"max_sweeps"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Direction:       TopToBottom,
		NodeWidth:       160,
		NodeHeight:      40,
		InputNodeWidth:  110,
		InputNodeHeight: 28,
		NodeSpacing:     40,
		RankSpacing:     70,
		Margin:          20,
		MaxSweeps:       8,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Direction == "" {
		c.Direction = d.Direction
	}
	if c.NodeWidth <= 0 {
		c.NodeWidth = d.NodeWidth
	}
	if c.NodeHeight <= 0 {
		c.NodeHeight = d.NodeHeight
	}
	if c.InputNodeWidth <= 0 {
		c.InputNodeWidth = d.InputNodeWidth
	}
	if c.InputNodeHeight <= 0 {
		c.InputNodeHeight = d.InputNodeHeight
	}
	if c.NodeSpacing <= 0 {
		c.NodeSpacing = d.NodeSpacing
	}
	if c.RankSpacing <= 0 {
		c.RankSpacing = d.RankSpacing
	}
	if c.Margin <= 0 {
		c.Margin = d.Margin
	}
	if c.MaxSweeps <= 0 {
		c.MaxSweeps = d.MaxSweeps
	}
	return c
}

// NodeBox is a positioned node. X and Y are the top-left corner.
type NodeBox struct {
	ID   string           `json:"id"`
	Kind diagram.NodeKind `json:"kind"`
	Rect
	Rank  int `json:"rank"`
	Order int `json:"order"`
}

// PathStyle tells the renderer how to interpret EdgePath.Points.
type PathStyle string

const (
	// PathBezier points are [start, control1, control2, end].
	PathBezier PathStyle = "bezier"
	// PathPolyline points are vertices of a polyline.
	PathPolyline PathStyle = "polyline"
)

// EdgePath is the routed geometry of an edge.
type EdgePath struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Style   PathStyle `json:"style"`
	Points  []Point   `json:"points"`
	LabelAt Point     `json:"label_at"`
	// Fallback is set when no obstacle-free route was found.
	Fallback bool `json:"fallback,omitempty"`
}

// PositionedGraph is the immutable output of Compute.
type PositionedGraph struct {
	Key        string     `json:"key"`
	Direction  Direction  `json:"direction"`
	Nodes      []NodeBox  `json:"nodes"`
	Edges      []EdgePath `json:"edges"`
	Bounds     Rect       `json:"bounds"`
	Degenerate []string   `json:"degenerate,omitempty"`

	nodeIndex map[string]int
	edgeIndex map[string]int
}

// Node returns the box for a node ID.
func (p *PositionedGraph) Node(id string) (NodeBox, bool) {
	i, ok := p.nodeIndex[id]
	if !ok {
		return NodeBox{}, false
	}
	return p.Nodes[i], true
}

// Edge returns the path for an edge ID.
func (p *PositionedGraph) Edge(id string) (EdgePath, bool) {
	i, ok := p.edgeIndex[id]
	if !ok {
		return EdgePath{}, false
	}
	return p.Edges[i], true
}

// IsDegenerate reports whether the given condition was recorded.
func (p *PositionedGraph) IsDegenerate(cond string) bool {
	for _, d := range p.Degenerate {
		if d == cond {
			return true
		}
	}
	return false
}

func (p *PositionedGraph) reindex() {
	p.nodeIndex = make(map[string]int, len(p.Nodes))
	for i, n := range p.Nodes {
		p.nodeIndex[n.ID] = i
	}
	p.edgeIndex = make(map[string]int, len(p.Edges))
	for i, e := range p.Edges {
		p.edgeIndex[e.ID] = i
	}
}

// Compute lays out g. Every node of g appears exactly once in the result,
// including isolated nodes and nodes on cycles.
func Compute(g *diagram.Graph, cfg Config) *PositionedGraph {
	cfg = cfg.withDefaults()
	out := &PositionedGraph{
		Key:       Key(g, cfg),
		Direction: cfg.Direction,
		Nodes:     make([]NodeBox, len(g.Nodes)),
		Edges:     make([]EdgePath, len(g.Edges)),
	}

	if len(g.Nodes) == 0 {
		out.Degenerate = append(out.Degenerate, DegenerateEmpty)
		out.Bounds = Rect{W: 2 * cfg.Margin, H: 2 * cfg.Margin}
		out.reindex()
		return out
	}

	in := newInput(g, cfg)
	comps := in.components()
	if len(comps) > 1 {
		out.Degenerate = append(out.Degenerate, DegenerateDisconnected)
	}

	cyclic := false
	crossOffset := cfg.Margin
	waypoints := make([][]crossRank, len(g.Edges))
	for _, comp := range comps {
		res := in.layoutComponent(comp)
		cyclic = cyclic || res.reversed > 0
		for local, gi := range comp.nodes {
			cr := res.centers[local]
			cr.cross += crossOffset
			cr.rank += cfg.Margin
			out.Nodes[gi] = in.box(gi, cr, res.ranks[local], res.orders[local])
		}
		for ei, pts := range res.waypoints {
			shifted := make([]crossRank, len(pts))
			for i, p := range pts {
				shifted[i] = crossRank{cross: p.cross + crossOffset, rank: p.rank + cfg.Margin}
			}
			waypoints[ei] = shifted
		}
		crossOffset += res.width + 2*cfg.NodeSpacing
	}
	if cyclic {
		out.Degenerate = append(out.Degenerate, DegenerateCycle)
	}

	out.reindex()
	r := &router{cfg: cfg, nodes: out.Nodes, index: out.nodeIndex}
	for i, e := range g.Edges {
		out.Edges[i] = r.route(e, toPoints(waypoints[i], cfg.Direction))
	}
	out.reindex()
	out.Bounds = bounds(out, cfg.Margin)
	return out
}

// box converts a component-local placement into a NodeBox in screen space.
func (in *input) box(gi int, cr crossRank, rank, order int) NodeBox {
	n := in.g.Nodes[gi]
	w, h := in.size(gi)
	c := cr.point(in.cfg.Direction)
	return NodeBox{
		ID:    n.ID,
		Kind:  n.Kind,
		Rect:  Rect{X: c.X - w/2, Y: c.Y - h/2, W: w, H: h},
		Rank:  rank,
		Order: order,
	}
}

func bounds(p *PositionedGraph, margin float64) Rect {
	var maxX, maxY float64
	for _, n := range p.Nodes {
		maxX = max(maxX, n.X+n.W)
		maxY = max(maxY, n.Y+n.H)
	}
	for _, e := range p.Edges {
		for _, pt := range e.Points {
			maxX = max(maxX, pt.X)
			maxY = max(maxY, pt.Y)
		}
	}
	return Rect{X: 0, Y: 0, W: maxX + margin, H: maxY + margin}
}

// Ranks returns node IDs grouped by rank, each rank in cross-axis order.
// Components laid side by side share ranks.
func (p *PositionedGraph) Ranks() [][]string {
	maxRank := -1
	for _, n := range p.Nodes {
		if n.Rank > maxRank {
			maxRank = n.Rank
		}
	}
	ranks := make([][]NodeBox, maxRank+1)
	for _, n := range p.Nodes {
		ranks[n.Rank] = append(ranks[n.Rank], n)
	}
	out := make([][]string, len(ranks))
	for r, boxes := range ranks {
		sort.SliceStable(boxes, func(i, j int) bool {
			if p.Direction == LeftToRight {
				return boxes[i].Y < boxes[j].Y
			}
			return boxes[i].X < boxes[j].X
		})
		ids := make([]string, len(boxes))
		for i, b := range boxes {
			ids[i] = b.ID
		}
		out[r] = ids
	}
	return out
}
