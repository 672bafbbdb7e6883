package layout

import (
	"github.com/rendis/tracelens/internal/diagram"
)

// input is the graph plus derived index data shared by all components.
type input struct {
	g     *diagram.Graph
	cfg   Config
	edges []edgeRef
}

type edgeRef struct {
	from, to int
}

// component is one weakly connected part of the graph, in insertion order.
type component struct {
	nodes []int
	edges []int
}

type localEdge struct {
	edge     int // index into the graph's edges
	from, to int // component-local node indices
}

func (e localEdge) self() bool { return e.from == e.to }

type dagEdge struct {
	u, v     int
	edge     int
	reversed bool
}

func newInput(g *diagram.Graph, cfg Config) *input {
	in := &input{g: g, cfg: cfg, edges: make([]edgeRef, len(g.Edges))}
	for i, e := range g.Edges {
		in.edges[i] = edgeRef{from: g.NodePosition(e.From), to: g.NodePosition(e.To)}
	}
	return in
}

// size returns a node's box width and height.
func (in *input) size(gi int) (float64, float64) {
	if in.g.Nodes[gi].Kind == diagram.NodeKindInput {
		return in.cfg.InputNodeWidth, in.cfg.InputNodeHeight
	}
	return in.cfg.NodeWidth, in.cfg.NodeHeight
}

// components splits the graph into weakly connected components, ordered by
// their first node so the result is stable across rebuilds.
func (in *input) components() []component {
	n := len(in.g.Nodes)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, e := range in.edges {
		if e.from < 0 || e.to < 0 {
			continue
		}
		a, b := find(e.from), find(e.to)
		if a == b {
			continue
		}
		if a < b {
			parent[b] = a
		} else {
			parent[a] = b
		}
	}

	byRoot := make(map[int]int)
	var comps []component
	for i := 0; i < n; i++ {
		r := find(i)
		ci, ok := byRoot[r]
		if !ok {
			ci = len(comps)
			byRoot[r] = ci
			comps = append(comps, component{})
		}
		comps[ci].nodes = append(comps[ci].nodes, i)
	}
	for ei, e := range in.edges {
		if e.from < 0 || e.to < 0 {
			continue
		}
		ci := byRoot[find(e.from)]
		comps[ci].edges = append(comps[ci].edges, ei)
	}
	return comps
}

// componentResult is a component placed in local coordinates starting at 0.
type componentResult struct {
	centers   []crossRank
	ranks     []int
	orders    []int
	waypoints map[int][]crossRank
	width     float64
	reversed  int
}

func (in *input) layoutComponent(comp component) componentResult {
	local := make(map[int]int, len(comp.nodes))
	for li, gi := range comp.nodes {
		local[gi] = li
	}
	edges := make([]localEdge, 0, len(comp.edges))
	for _, ei := range comp.edges {
		ref := in.edges[ei]
		edges = append(edges, localEdge{edge: ei, from: local[ref.from], to: local[ref.to]})
	}

	rev := breakCycles(len(comp.nodes), edges)
	dag := make([]dagEdge, 0, len(edges))
	reversed := 0
	for i, e := range edges {
		if e.self() {
			continue
		}
		if rev[i] {
			reversed++
			dag = append(dag, dagEdge{u: e.to, v: e.from, edge: e.edge, reversed: true})
			continue
		}
		dag = append(dag, dagEdge{u: e.from, v: e.to, edge: e.edge})
	}
	ranks := assignRanks(len(comp.nodes), dag)

	lg := newLayered(in, comp.nodes, ranks, dag)
	lg.reduceCrossings()
	rankPos := lg.assignCoordinates()

	res := componentResult{
		centers:   make([]crossRank, len(comp.nodes)),
		ranks:     ranks,
		orders:    make([]int, len(comp.nodes)),
		waypoints: make(map[int][]crossRank, len(lg.chains)),
		reversed:  reversed,
	}
	for li := range comp.nodes {
		ln := lg.nodes[li]
		res.centers[li] = crossRank{cross: ln.cross, rank: rankPos[ln.rank]}
		res.orders[li] = ln.order
	}
	for _, ch := range lg.chains {
		if len(ch.path) <= 2 {
			continue
		}
		pts := make([]crossRank, 0, len(ch.path)-2)
		for _, idx := range ch.path[1 : len(ch.path)-1] {
			ln := lg.nodes[idx]
			pts = append(pts, crossRank{cross: ln.cross, rank: rankPos[ln.rank]})
		}
		res.waypoints[ch.edge] = pts
	}
	res.width = lg.width()
	return res
}

// breakCycles picks a set of edges whose reversal makes the graph acyclic.
// DFS starts from sources in insertion order so entry points keep their
// natural direction; every back edge is reversed.
func breakCycles(n int, edges []localEdge) []bool {
	out := make([][]int, n)
	indeg := make([]int, n)
	for i, e := range edges {
		if e.self() {
			continue
		}
		out[e.from] = append(out[e.from], i)
		indeg[e.to]++
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, n)
	rev := make([]bool, len(edges))

	var visit func(v int)
	visit = func(v int) {
		state[v] = onStack
		for _, ei := range out[v] {
			w := edges[ei].to
			switch state[w] {
			case unvisited:
				visit(w)
			case onStack:
				rev[ei] = true
			}
		}
		state[v] = done
	}

	for v := 0; v < n; v++ {
		if indeg[v] == 0 && state[v] == unvisited {
			visit(v)
		}
	}
	for v := 0; v < n; v++ {
		if state[v] == unvisited {
			visit(v)
		}
	}
	return rev
}

// assignRanks computes longest-path ranks over an acyclic edge set, then
// pulls source nodes down next to their nearest successor so synthesized
// inputs sit directly above the action that consumes them.
func assignRanks(n int, dag []dagEdge) []int {
	succ := make([][]int, n)
	indeg := make([]int, n)
	for _, e := range dag {
		succ[e.u] = append(succ[e.u], e.v)
		indeg[e.v]++
	}
	sources := make([]bool, n)
	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			sources[v] = true
			queue = append(queue, v)
		}
	}

	rank := make([]int, n)
	remaining := append([]int(nil), indeg...)
	for head := 0; head < len(queue); head++ {
		u := queue[head]
		for _, v := range succ[u] {
			if rank[u]+1 > rank[v] {
				rank[v] = rank[u] + 1
			}
			remaining[v]--
			if remaining[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	for u := 0; u < n; u++ {
		if !sources[u] || len(succ[u]) == 0 {
			continue
		}
		lowest := rank[succ[u][0]]
		for _, v := range succ[u][1:] {
			lowest = min(lowest, rank[v])
		}
		if lowest-1 > rank[u] {
			rank[u] = lowest - 1
		}
	}

	minRank := rank[0]
	for _, r := range rank[1:] {
		minRank = min(minRank, r)
	}
	for i := range rank {
		rank[i] -= minRank
	}
	return rank
}
