package render

import (
	"errors"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/highlight"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/pkg/schema"
)

// dimmedOpacity applies to elements that are not hovered while a hover is active.
const dimmedOpacity = 0.35

// Style is the visual treatment of one element.
type Style struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"stroke_width"`
	Text        string  `json:"text,omitempty"`
	Dashed      bool    `json:"dashed,omitempty"`
	Opacity     float64 `json:"opacity"`
}

// SceneNode is a node ready to draw.
type SceneNode struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Kind   diagram.NodeKind `json:"kind"`
	Action string           `json:"action"`
	Box    layout.Rect      `json:"box"`
	Mark   highlight.Mark   `json:"mark"`
	Style  Style            `json:"style"`
}

// SceneEdge is an edge ready to draw.
type SceneEdge struct {
	ID       string           `json:"id"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Label    string           `json:"label,omitempty"`
	Kind     diagram.EdgeKind `json:"kind"`
	Path     layout.PathStyle `json:"path"`
	Points   []layout.Point   `json:"points"`
	LabelAt  layout.Point     `json:"label_at"`
	Fallback bool             `json:"fallback,omitempty"`
	Mark     highlight.Mark   `json:"mark"`
	Style    Style            `json:"style"`
}

// SceneError is the explicit error state shown instead of a graph.
type SceneError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Scene is one frame. Coordinates are in layout space; Viewport maps them
// to the screen.
type Scene struct {
	Version   uint64           `json:"version"`
	Title     string           `json:"title,omitempty"`
	Direction layout.Direction `json:"direction"`
	Viewport  Viewport         `json:"viewport"`
	Bounds    layout.Rect      `json:"bounds"`
	// Pending is set while an asynchronous layout for Version is in flight.
	Pending bool        `json:"pending,omitempty"`
	Error   *SceneError `json:"error,omitempty"`
	Nodes   []SceneNode `json:"nodes"`
	Edges   []SceneEdge `json:"edges"`
}

var nodePalette = map[highlight.Class]Style{
	highlight.Active:  {Fill: "#1d4ed8", Stroke: "#1e3a8a", StrokeWidth: 3, Text: "#ffffff"},
	highlight.InPath:  {Fill: "#dbeafe", Stroke: "#3b82f6", StrokeWidth: 2, Text: "#1e3a8a"},
	highlight.Neutral: {Fill: "#ffffff", Stroke: "#94a3b8", StrokeWidth: 1, Text: "#0f172a"},
}

var edgePalette = map[highlight.Class]Style{
	highlight.Active:  {Stroke: "#1d4ed8", StrokeWidth: 2.5},
	highlight.InPath:  {Stroke: "#3b82f6", StrokeWidth: 2},
	highlight.Neutral: {Stroke: "#94a3b8", StrokeWidth: 1},
}

const hoverStroke = "#f59e0b"

func nodeStyle(kind diagram.NodeKind, m highlight.Mark, hovering bool) Style {
	s := nodePalette[m.Class]
	s.Opacity = 1
	if kind == diagram.NodeKindInput {
		s.Dashed = true
		s.StrokeWidth = s.StrokeWidth * 0.75
	}
	if m.Hovered {
		s.Stroke = hoverStroke
		s.StrokeWidth += 1
	} else if hovering {
		s.Opacity = dimmedOpacity
	}
	return s
}

func edgeStyle(kind diagram.EdgeKind, m highlight.Mark, hovering bool) Style {
	s := edgePalette[m.Class]
	s.Opacity = 1
	if kind == diagram.EdgeKindInput {
		s.Dashed = true
	}
	if hovering && !m.Hovered && m.Class == highlight.Neutral {
		s.Opacity = dimmedOpacity
	}
	return s
}

// Frame assembles the current scene from the cached layout and highlight state.
func (r *Renderer) Frame() Scene {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc := Scene{
		Version:   r.version,
		Direction: r.cfg.Direction,
		Viewport:  r.view,
	}
	if r.err != nil {
		sc.Error = sceneError(r.err)
		return sc
	}
	if r.graph == nil {
		return sc
	}
	sc.Title = r.graph.Title
	if r.positioned == nil {
		sc.Pending = true
		return sc
	}

	pg := r.positioned
	sc.Bounds = pg.Bounds
	sc.Nodes = make([]SceneNode, 0, len(pg.Nodes))
	for _, box := range pg.Nodes {
		n := r.graph.Node(box.ID)
		if n == nil {
			continue
		}
		m := r.state.Node(box.ID)
		sc.Nodes = append(sc.Nodes, SceneNode{
			ID:     n.ID,
			Label:  n.Label,
			Kind:   n.Kind,
			Action: n.Action,
			Box:    box.Rect,
			Mark:   m,
			Style:  nodeStyle(n.Kind, m, r.state.Hovering),
		})
	}
	sc.Edges = make([]SceneEdge, 0, len(pg.Edges))
	for _, ep := range pg.Edges {
		e, ok := r.graph.Edge(ep.ID)
		if !ok {
			continue
		}
		m := r.state.Edge(ep.ID)
		sc.Edges = append(sc.Edges, SceneEdge{
			ID:       e.ID,
			From:     e.From,
			To:       e.To,
			Label:    e.Label,
			Kind:     e.Kind,
			Path:     ep.Style,
			Points:   ep.Points,
			LabelAt:  ep.LabelAt,
			Fallback: ep.Fallback,
			Mark:     m,
			Style:    edgeStyle(e.Kind, m, r.state.Hovering),
		})
	}
	return sc
}

func sceneError(err error) *SceneError {
	var te *schema.TraceError
	if errors.As(err, &te) {
		return &SceneError{Code: te.Code, Message: te.Message}
	}
	return &SceneError{Code: "UNKNOWN", Message: err.Error()}
}
