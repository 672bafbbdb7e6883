package layout

import (
	"github.com/rendis/tracelens/internal/diagram"
)

const (
	// obstaclePadding inflates node boxes when checking for overlaps.
	obstaclePadding = 4
	// maxDetours bounds the detour waypoints added to one edge.
	maxDetours = 4
	// bezierSteps is the flattening resolution used for overlap checks.
	bezierSteps = 16
	// loopReach is how far a self-loop extends beyond its node.
	loopReach = 36
)

// router computes edge geometry against already positioned nodes.
type router struct {
	cfg   Config
	nodes []NodeBox
	index map[string]int
}

// route produces the path of one edge. waypoints are the virtual-node
// positions between source and target, if the edge spans several ranks.
// Routing is best effort: when no clean path exists it falls back to a
// direct bezier curve and never fails.
func (r *router) route(e diagram.Edge, waypoints []Point) EdgePath {
	from := r.nodes[r.index[e.From]]
	to := r.nodes[r.index[e.To]]
	path := EdgePath{ID: e.ID, From: e.From, To: e.To}

	if e.From == e.To {
		path.Style = PathBezier
		path.Points = r.selfLoop(from)
		path.LabelAt = bezierAt(path.Points[0], path.Points[1], path.Points[2], path.Points[3], 0.5)
		return path
	}

	start, end := r.anchors(from, to)
	skip := map[string]bool{e.From: true, e.To: true}

	if len(waypoints) == 0 {
		curve := r.directBezier(start, end)
		if _, blocked := r.firstObstacle(bezierSamples(curve[0], curve[1], curve[2], curve[3], bezierSteps), skip); !blocked {
			path.Style = PathBezier
			path.Points = curve
			path.LabelAt = bezierAt(curve[0], curve[1], curve[2], curve[3], 0.5)
			return path
		}
	}

	poly := make([]Point, 0, len(waypoints)+2)
	poly = append(poly, start)
	poly = append(poly, waypoints...)
	poly = append(poly, end)
	if routed, ok := r.avoid(poly, skip); ok {
		path.Style = PathPolyline
		path.Points = routed
		path.LabelAt = polylineMidpoint(routed)
		return path
	}

	curve := r.directBezier(start, end)
	path.Style = PathBezier
	path.Points = curve
	path.LabelAt = bezierAt(curve[0], curve[1], curve[2], curve[3], 0.5)
	path.Fallback = true
	return path
}

// anchors picks the box sides facing each other along the flow axis.
func (r *router) anchors(from, to NodeBox) (Point, Point) {
	fc, tc := from.Center(), to.Center()
	if r.cfg.Direction == LeftToRight {
		if tc.X >= fc.X {
			return Point{X: from.X + from.W, Y: fc.Y}, Point{X: to.X, Y: tc.Y}
		}
		return Point{X: from.X, Y: fc.Y}, Point{X: to.X + to.W, Y: tc.Y}
	}
	if tc.Y >= fc.Y {
		return Point{X: fc.X, Y: from.Y + from.H}, Point{X: tc.X, Y: to.Y}
	}
	return Point{X: fc.X, Y: from.Y}, Point{X: tc.X, Y: to.Y + to.H}
}

// directBezier returns control points bending along the flow axis.
func (r *router) directBezier(start, end Point) []Point {
	if r.cfg.Direction == LeftToRight {
		dx := (end.X - start.X) / 2
		return []Point{start, {X: start.X + dx, Y: start.Y}, {X: end.X - dx, Y: end.Y}, end}
	}
	dy := (end.Y - start.Y) / 2
	return []Point{start, {X: start.X, Y: start.Y + dy}, {X: end.X, Y: end.Y - dy}, end}
}

// selfLoop draws a loop on the trailing side of a node.
func (r *router) selfLoop(n NodeBox) []Point {
	c := n.Center()
	if r.cfg.Direction == LeftToRight {
		y := n.Y + n.H
		return []Point{
			{X: c.X - n.W/4, Y: y},
			{X: c.X - n.W/4, Y: y + loopReach},
			{X: c.X + n.W/4, Y: y + loopReach},
			{X: c.X + n.W/4, Y: y},
		}
	}
	x := n.X + n.W
	return []Point{
		{X: x, Y: c.Y - n.H/4},
		{X: x + loopReach, Y: c.Y - n.H/4},
		{X: x + loopReach, Y: c.Y + n.H/4},
		{X: x, Y: c.Y + n.H/4},
	}
}

// avoid inserts detour vertices around blocking nodes until the polyline
// is clear or the detour budget runs out.
func (r *router) avoid(poly []Point, skip map[string]bool) ([]Point, bool) {
	pts := append([]Point(nil), poly...)
	for attempt := 0; attempt <= maxDetours; attempt++ {
		seg, box, blocked := r.blockedSegment(pts, skip)
		if !blocked {
			return pts, true
		}
		if attempt == maxDetours {
			break
		}
		detour, ok := r.detour(pts[seg], pts[seg+1], box, skip)
		if !ok {
			return nil, false
		}
		rest := append(detour, pts[seg+1:]...)
		pts = append(pts[:seg+1], rest...)
	}
	return nil, false
}

// detour returns two vertices that lead around box along its side closer
// to the segment p-q.
func (r *router) detour(p, q Point, box NodeBox, skip map[string]bool) ([]Point, bool) {
	gap := r.cfg.NodeSpacing / 2
	c := box.Center()
	var near, far []Point
	if r.cfg.Direction == LeftToRight {
		top := []Point{{X: box.X - gap, Y: box.Y - gap}, {X: box.X + box.W + gap, Y: box.Y - gap}}
		bottom := []Point{{X: box.X - gap, Y: box.Y + box.H + gap}, {X: box.X + box.W + gap, Y: box.Y + box.H + gap}}
		near, far = top, bottom
		if (p.Y+q.Y)/2 > c.Y {
			near, far = bottom, top
		}
		if p.X > q.X {
			near = []Point{near[1], near[0]}
			far = []Point{far[1], far[0]}
		}
	} else {
		left := []Point{{X: box.X - gap, Y: box.Y - gap}, {X: box.X - gap, Y: box.Y + box.H + gap}}
		right := []Point{{X: box.X + box.W + gap, Y: box.Y - gap}, {X: box.X + box.W + gap, Y: box.Y + box.H + gap}}
		near, far = left, right
		if (p.X+q.X)/2 > c.X {
			near, far = right, left
		}
		if p.Y > q.Y {
			near = []Point{near[1], near[0]}
			far = []Point{far[1], far[0]}
		}
	}
	for _, cand := range [][]Point{near, far} {
		if _, blocked := r.firstObstacle([]Point{p, cand[0], cand[1], q}, skip); !blocked {
			return cand, true
		}
	}
	// Neither side is fully clear; take the near side and let the next
	// attempt deal with the remaining obstacle.
	for _, pt := range near {
		if _, inside := r.containing(pt, skip); inside {
			return nil, false
		}
	}
	return near, true
}

func (r *router) blockedSegment(pts []Point, skip map[string]bool) (int, NodeBox, bool) {
	for i := 1; i < len(pts); i++ {
		for _, n := range r.nodes {
			if skip[n.ID] {
				continue
			}
			if segmentIntersectsRect(pts[i-1], pts[i], n.Inflate(obstaclePadding)) {
				return i - 1, n, true
			}
		}
	}
	return 0, NodeBox{}, false
}

func (r *router) firstObstacle(pts []Point, skip map[string]bool) (NodeBox, bool) {
	_, box, blocked := r.blockedSegment(pts, skip)
	return box, blocked
}

func (r *router) containing(p Point, skip map[string]bool) (NodeBox, bool) {
	for _, n := range r.nodes {
		if !skip[n.ID] && n.Inflate(obstaclePadding).Contains(p) {
			return n, true
		}
	}
	return NodeBox{}, false
}
