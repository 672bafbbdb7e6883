package render

import (
	"math"

	"github.com/rendis/tracelens/internal/layout"
)

// Zoom bounds.
const (
	MinZoom = 0.1
	MaxZoom = 2.5
)

// Viewport maps layout space to screen space: screen = layout*Zoom + Pan.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Zoom   float64 `json:"zoom"`
	PanX   float64 `json:"pan_x"`
	PanY   float64 `json:"pan_y"`
}

// ToScreen converts a layout point to screen coordinates.
func (v Viewport) ToScreen(p layout.Point) layout.Point {
	return layout.Point{X: p.X*v.Zoom + v.PanX, Y: p.Y*v.Zoom + v.PanY}
}

// ToLayout converts a screen point to layout coordinates.
func (v Viewport) ToLayout(p layout.Point) layout.Point {
	return layout.Point{X: (p.X - v.PanX) / v.Zoom, Y: (p.Y - v.PanY) / v.Zoom}
}

// zoomAt scales by factor keeping the layout point under the screen point fixed.
func (v Viewport) zoomAt(factor float64, at layout.Point) Viewport {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return v
	}
	anchor := v.ToLayout(at)
	v.Zoom = clampZoom(v.Zoom * factor)
	v.PanX = at.X - anchor.X*v.Zoom
	v.PanY = at.Y - anchor.Y*v.Zoom
	return v
}

func (v Viewport) pan(dx, dy float64) Viewport {
	v.PanX += dx
	v.PanY += dy
	return v
}

// fit scales and centers bounds inside the viewport with margin on every side.
func (v Viewport) fit(bounds layout.Rect, margin float64) Viewport {
	if bounds.W <= 0 || bounds.H <= 0 {
		v.Zoom = 1
		v.PanX, v.PanY = 0, 0
		return v
	}
	availW := math.Max(v.Width-2*margin, 1)
	availH := math.Max(v.Height-2*margin, 1)
	v.Zoom = clampZoom(math.Min(availW/bounds.W, availH/bounds.H))
	c := bounds.Center()
	v.PanX = v.Width/2 - c.X*v.Zoom
	v.PanY = v.Height/2 - c.Y*v.Zoom
	return v
}

func clampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}
