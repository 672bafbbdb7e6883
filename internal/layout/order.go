package layout

import "sort"

// layered is a component split into ranks, with virtual nodes inserted on
// edges that span more than one rank.
type layered struct {
	cfg    Config
	nodes  []lnode
	layers [][]int
	up     [][]int
	down   [][]int
	chains []chain
}

type lnode struct {
	real      bool
	rank      int
	order     int
	crossSize float64
	rankSize  float64
	cross     float64
}

// chain is the lnode path of one edge, in the edge's original direction.
type chain struct {
	edge int
	path []int
}

func newLayered(in *input, members []int, ranks []int, dag []dagEdge) *layered {
	maxRank := 0
	for _, r := range ranks {
		maxRank = max(maxRank, r)
	}
	lg := &layered{
		cfg:    in.cfg,
		nodes:  make([]lnode, 0, len(members)),
		layers: make([][]int, maxRank+1),
	}

	for li, gi := range members {
		w, h := in.size(gi)
		cs, rs := w, h
		if in.cfg.Direction == LeftToRight {
			cs, rs = h, w
		}
		lg.addNode(lnode{real: true, rank: ranks[li], crossSize: cs, rankSize: rs})
	}

	for _, e := range dag {
		path := []int{e.u}
		for r := ranks[e.u] + 1; r < ranks[e.v]; r++ {
			path = append(path, lg.addNode(lnode{rank: r}))
		}
		path = append(path, e.v)
		for i := 1; i < len(path); i++ {
			lg.down[path[i-1]] = append(lg.down[path[i-1]], path[i])
			lg.up[path[i]] = append(lg.up[path[i]], path[i-1])
		}
		if e.reversed {
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
		}
		lg.chains = append(lg.chains, chain{edge: e.edge, path: path})
	}

	lg.renumber()
	return lg
}

func (lg *layered) addNode(n lnode) int {
	idx := len(lg.nodes)
	lg.nodes = append(lg.nodes, n)
	lg.layers[n.rank] = append(lg.layers[n.rank], idx)
	lg.up = append(lg.up, nil)
	lg.down = append(lg.down, nil)
	return idx
}

func (lg *layered) renumber() {
	for _, layer := range lg.layers {
		for i, idx := range layer {
			lg.nodes[idx].order = i
		}
	}
}

// reduceCrossings runs alternating barycenter sweeps and keeps the best
// ordering seen. The number of sweeps is bounded by Config.MaxSweeps.
func (lg *layered) reduceCrossings() {
	best := lg.snapshot()
	bestCount := lg.crossings()
	for it := 0; it < lg.cfg.MaxSweeps && bestCount > 0; it++ {
		for r := 1; r < len(lg.layers); r++ {
			lg.reorder(r, lg.up)
		}
		for r := len(lg.layers) - 2; r >= 0; r-- {
			lg.reorder(r, lg.down)
		}
		if c := lg.crossings(); c < bestCount {
			bestCount = c
			best = lg.snapshot()
		}
	}
	lg.restore(best)
}

// reorder sorts one layer by the mean order of each node's neighbors.
// Nodes without neighbors keep their current position.
func (lg *layered) reorder(r int, nbrs [][]int) {
	layer := lg.layers[r]
	bary := make(map[int]float64, len(layer))
	for _, idx := range layer {
		ns := nbrs[idx]
		if len(ns) == 0 {
			bary[idx] = float64(lg.nodes[idx].order)
			continue
		}
		sum := 0.0
		for _, n := range ns {
			sum += float64(lg.nodes[n].order)
		}
		bary[idx] = sum / float64(len(ns))
	}
	sort.SliceStable(layer, func(i, j int) bool {
		return bary[layer[i]] < bary[layer[j]]
	})
	for i, idx := range layer {
		lg.nodes[idx].order = i
	}
}

// crossings counts edge crossings between every pair of adjacent layers.
func (lg *layered) crossings() int {
	total := 0
	for r := 0; r+1 < len(lg.layers); r++ {
		type seg struct{ a, b int }
		var segs []seg
		for _, u := range lg.layers[r] {
			for _, v := range lg.down[u] {
				segs = append(segs, seg{lg.nodes[u].order, lg.nodes[v].order})
			}
		}
		for i := 0; i < len(segs); i++ {
			for j := i + 1; j < len(segs); j++ {
				if (segs[i].a < segs[j].a && segs[i].b > segs[j].b) ||
					(segs[i].a > segs[j].a && segs[i].b < segs[j].b) {
					total++
				}
			}
		}
	}
	return total
}

func (lg *layered) snapshot() [][]int {
	s := make([][]int, len(lg.layers))
	for r, layer := range lg.layers {
		s[r] = append([]int(nil), layer...)
	}
	return s
}

func (lg *layered) restore(s [][]int) {
	lg.layers = s
	lg.renumber()
}
