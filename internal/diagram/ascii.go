package diagram

import (
	"fmt"
	"strings"
)

// highlightTag returns a short ASCII indicator for a highlight class.
func highlightTag(class string, hovered bool) string {
	tag := ""
	switch class {
	case ClassActive:
		tag = "[ACTIVE]"
	case ClassInPath:
		tag = "[PATH]"
	}
	if hovered {
		tag += "[HOVER]"
	}
	return tag
}

// RenderASCII renders a Graph as a text diagram, one row of boxes per level.
// levels are node IDs per rank, usually taken from a layout; nil falls back
// to insertion order. Transitions are listed below the boxes with traversed
// ones drawn as "==>".
func RenderASCII(g *Graph, ov Overlay, levels [][]string) string {
	ov = overlayOrNone(ov)
	if levels == nil {
		levels = defaultLevels(g)
	}

	var b strings.Builder

	if g.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", g.Title)
	}

	for levelIdx, level := range levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := g.Node(nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node, ov))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	var transitions []Edge
	for _, e := range g.Edges {
		if e.Kind == EdgeKindTransition {
			transitions = append(transitions, e)
		}
	}
	if len(transitions) > 0 {
		b.WriteString("\n--- transitions ---\n")
		for _, e := range transitions {
			arrow := "─→"
			if class, _ := ov.EdgeHighlight(e.ID); class == ClassInPath || class == ClassActive {
				arrow = "==>"
			}
			label := ""
			if e.Label != "" {
				label = " [" + e.Label + "]"
			}
			fmt.Fprintf(&b, "  %s %s %s%s\n", e.From, arrow, e.To, label)
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node, ov Overlay) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Kind == NodeKindInput {
		contentLines[0] = "(" + contentLines[0] + ")"
	}
	if tag := highlightTag(ov.NodeHighlight(node.ID)); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
