package layout

import "math"

// Point is a 2D coordinate in layout space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box with its top-left corner at (X, Y).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Center returns the center point of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Contains reports whether p lies inside r (borders included).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Inflate grows r by d on every side.
func (r Rect) Inflate(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, W: r.W + 2*d, H: r.H + 2*d}
}

// crossRank is a position in direction-independent coordinates: cross is
// the axis along which nodes of one rank are spread, rank is the flow axis.
type crossRank struct {
	cross float64
	rank  float64
}

func (c crossRank) point(dir Direction) Point {
	if dir == LeftToRight {
		return Point{X: c.rank, Y: c.cross}
	}
	return Point{X: c.cross, Y: c.rank}
}

func toPoints(crs []crossRank, dir Direction) []Point {
	pts := make([]Point, len(crs))
	for i, c := range crs {
		pts[i] = c.point(dir)
	}
	return pts
}

// segmentIntersectsRect reports whether segment p-q touches r (Liang-Barsky clipping).
func segmentIntersectsRect(p, q Point, r Rect) bool {
	if r.Contains(p) || r.Contains(q) {
		return true
	}
	dx, dy := q.X-p.X, q.Y-p.Y
	t0, t1 := 0.0, 1.0
	clip := func(den, num float64) bool {
		if den == 0 {
			return num >= 0
		}
		t := num / den
		if den < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}
	return clip(-dx, p.X-r.X) &&
		clip(dx, r.X+r.W-p.X) &&
		clip(-dy, p.Y-r.Y) &&
		clip(dy, r.Y+r.H-p.Y) &&
		t0 <= t1
}

// bezierAt evaluates a cubic bezier at t.
func bezierAt(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

// bezierSamples flattens a cubic bezier into n segments.
func bezierSamples(p0, p1, p2, p3 Point, n int) []Point {
	pts := make([]Point, n+1)
	for i := 0; i <= n; i++ {
		pts[i] = bezierAt(p0, p1, p2, p3, float64(i)/float64(n))
	}
	return pts
}

func distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// polylineMidpoint returns the point halfway along a polyline's length.
func polylineMidpoint(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += distance(pts[i-1], pts[i])
	}
	half := total / 2
	for i := 1; i < len(pts); i++ {
		seg := distance(pts[i-1], pts[i])
		if seg >= half && seg > 0 {
			t := half / seg
			return Point{
				X: pts[i-1].X + t*(pts[i].X-pts[i-1].X),
				Y: pts[i-1].Y + t*(pts[i].Y-pts[i-1].Y),
			}
		}
		half -= seg
	}
	return pts[len(pts)-1]
}

// Flatten returns the edge geometry as a polyline. Bezier paths are sampled.
func (e EdgePath) Flatten() []Point {
	if e.Style == PathBezier && len(e.Points) == 4 {
		return bezierSamples(e.Points[0], e.Points[1], e.Points[2], e.Points[3], bezierSteps)
	}
	return e.Points
}

// DistanceToSegment returns the distance from p to the segment a-b.
func DistanceToSegment(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return distance(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return distance(p, Point{X: a.X + t*dx, Y: a.Y + t*dy})
}
