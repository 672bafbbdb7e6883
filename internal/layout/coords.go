package layout

// coordinatePasses is the number of neighbor-alignment passes.
const coordinatePasses = 4

// assignCoordinates places nodes along the cross axis and returns the
// center position of each rank along the flow axis.
func (lg *layered) assignCoordinates() []float64 {
	rankPos := make([]float64, len(lg.layers))
	pos := 0.0
	for r, layer := range lg.layers {
		thick := 0.0
		for _, idx := range layer {
			thick = max(thick, lg.nodes[idx].rankSize)
		}
		if r > 0 {
			pos += lg.cfg.RankSpacing
		}
		rankPos[r] = pos + thick/2
		pos += thick
	}

	// Initial packing, left to right.
	for _, layer := range lg.layers {
		x := 0.0
		for i, idx := range layer {
			if i == 0 {
				x = lg.nodes[idx].crossSize / 2
			} else {
				x += lg.sep(layer[i-1], idx)
			}
			lg.nodes[idx].cross = x
		}
	}

	for pass := 0; pass < coordinatePasses; pass++ {
		for r := 1; r < len(lg.layers); r++ {
			lg.align(r, lg.up)
		}
		for r := len(lg.layers) - 2; r >= 0; r-- {
			lg.align(r, lg.down)
		}
	}

	lg.normalize()
	return rankPos
}

// sep is the minimum center distance between two neighbors in a layer.
func (lg *layered) sep(a, b int) float64 {
	na, nb := lg.nodes[a], lg.nodes[b]
	gap := lg.cfg.NodeSpacing
	if !na.real || !nb.real {
		gap /= 2
	}
	return na.crossSize/2 + nb.crossSize/2 + gap
}

// align moves each node in layer r toward the mean position of its
// neighbors while keeping the minimum separation. The result averages a
// left-anchored and a right-anchored placement; both satisfy the
// separation constraints, so their mean does as well.
func (lg *layered) align(r int, nbrs [][]int) {
	layer := lg.layers[r]
	if len(layer) == 0 {
		return
	}
	desired := make([]float64, len(layer))
	for i, idx := range layer {
		ns := nbrs[idx]
		if len(ns) == 0 {
			desired[i] = lg.nodes[idx].cross
			continue
		}
		sum := 0.0
		for _, n := range ns {
			sum += lg.nodes[n].cross
		}
		desired[i] = sum / float64(len(ns))
	}

	fwd := make([]float64, len(layer))
	fwd[0] = desired[0]
	for i := 1; i < len(layer); i++ {
		fwd[i] = max(desired[i], fwd[i-1]+lg.sep(layer[i-1], layer[i]))
	}
	bwd := make([]float64, len(layer))
	last := len(layer) - 1
	bwd[last] = desired[last]
	for i := last - 1; i >= 0; i-- {
		bwd[i] = min(desired[i], bwd[i+1]-lg.sep(layer[i], layer[i+1]))
	}
	for i, idx := range layer {
		lg.nodes[idx].cross = (fwd[i] + bwd[i]) / 2
	}
}

// normalize shifts the component so its leftmost box edge sits at 0.
func (lg *layered) normalize() {
	if len(lg.nodes) == 0 {
		return
	}
	lo := lg.nodes[0].cross - lg.nodes[0].crossSize/2
	for _, n := range lg.nodes[1:] {
		lo = min(lo, n.cross-n.crossSize/2)
	}
	for i := range lg.nodes {
		lg.nodes[i].cross -= lo
	}
}

// width is the component's extent along the cross axis.
func (lg *layered) width() float64 {
	w := 0.0
	for _, n := range lg.nodes {
		w = max(w, n.cross+n.crossSize/2)
	}
	return w
}
