package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an output format of RenderImage.
type ImageFormat string

const (
	FormatPNG ImageFormat = "png"
	FormatSVG ImageFormat = "svg"
)

// RenderImage renders a Graph with graphviz's dot layout and returns the
// encoded image. dir is "TB" or "LR".
func RenderImage(ctx context.Context, g *Graph, ov Overlay, dir string, format ImageFormat) ([]byte, error) {
	ov = overlayOrNone(ov)

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	if dir == "LR" {
		graph.SetRankDir(cgraph.LRRank)
	} else {
		graph.SetRankDir(cgraph.TBRank)
	}
	if g.Title != "" {
		graph.SetLabel(g.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(g.Nodes))
	for _, node := range g.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node, ov)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range g.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(edge.ID, fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s: %w", edge.ID, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		applyEdgeStyle(e, edge, ov)
	}

	gvFormat := graphviz.PNG
	if format == FormatSVG {
		gvFormat = graphviz.SVG
	}
	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and highlight.
func applyNodeStyle(gvNode *cgraph.Node, node *Node, ov Overlay) {
	if node.Kind == NodeKindInput {
		gvNode.SetShape(cgraph.EllipseShape)
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontSize(10)
	} else {
		gvNode.SetShape(cgraph.BoxShape)
	}

	class, hovered := ov.NodeHighlight(node.ID)
	switch class {
	case ClassActive:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#1d4ed8")
		gvNode.SetFontColor("white")
		gvNode.SetPenWidth(3)
	case ClassInPath:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#dbeafe")
		gvNode.SetFontColor("#1e3a8a")
		gvNode.SetPenWidth(2)
	}
	if hovered {
		gvNode.SetColor("#f59e0b")
	}
}

// applyEdgeStyle colors traversed edges.
func applyEdgeStyle(e *cgraph.Edge, edge Edge, ov Overlay) {
	if edge.Kind == EdgeKindInput {
		e.SetStyle(cgraph.DashedEdgeStyle)
	}
	switch class, _ := ov.EdgeHighlight(edge.ID); class {
	case ClassActive:
		e.SetColor("#1d4ed8")
		e.SetPenWidth(3)
	case ClassInPath:
		e.SetColor("#3b82f6")
		e.SetPenWidth(2)
	}
}
