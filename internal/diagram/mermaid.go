package diagram

import (
	"fmt"
	"regexp"
	"strings"
)

// RenderMermaid renders a Graph as a Mermaid flowchart string. dir is "TB"
// or "LR". Highlighted elements get the active, inpath and hovered classes;
// traversed edges are restyled with linkStyle.
func RenderMermaid(g *Graph, ov Overlay, dir string) string {
	ov = overlayOrNone(ov)
	if dir != "LR" {
		dir = "TD"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "graph %s\n", dir)

	// Title as comment.
	if g.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", g.Title)
	}

	ids := mermaidIDs(g)
	for _, node := range g.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(ids[node.ID], node))
	}

	for _, edge := range g.Edges {
		arrow := "-->"
		if edge.Kind == EdgeKindInput {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", ids[edge.From], arrow, label, ids[edge.To])
	}

	b.WriteString("\n")
	b.WriteString("    classDef active fill:#1d4ed8,stroke:#1e3a8a,stroke-width:3px,color:#fff\n")
	b.WriteString("    classDef inpath fill:#dbeafe,stroke:#3b82f6,stroke-width:2px,color:#1e3a8a\n")
	b.WriteString("    classDef hovered stroke:#f59e0b,stroke-width:3px\n")
	b.WriteString("    classDef input fill:#f8fafc,stroke:#94a3b8,stroke-dasharray:4 3\n")

	for _, node := range g.Nodes {
		id := ids[node.ID]
		if node.Kind == NodeKindInput {
			fmt.Fprintf(&b, "    class %s input\n", id)
		}
		class, hovered := ov.NodeHighlight(node.ID)
		if class == ClassActive || class == ClassInPath {
			fmt.Fprintf(&b, "    class %s %s\n", id, class)
		}
		if hovered {
			fmt.Fprintf(&b, "    class %s hovered\n", id)
		}
	}

	for i, edge := range g.Edges {
		switch class, _ := ov.EdgeHighlight(edge.ID); class {
		case ClassActive:
			fmt.Fprintf(&b, "    linkStyle %d stroke:#1d4ed8,stroke-width:3px\n", i)
		case ClassInPath:
			fmt.Fprintf(&b, "    linkStyle %d stroke:#3b82f6,stroke-width:2px\n", i)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(id string, node *Node) string {
	label := mermaidEscapeLabel(firstLine(node.Label))

	if node.Kind == NodeKindInput {
		return fmt.Sprintf("%s([%q])", id, label)
	}
	return fmt.Sprintf("%s[%q]", id, label)
}

var (
	mermaidPlainID    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	mermaidPositionID = regexp.MustCompile(`^n[0-9]+$`)
)

// Words Mermaid parses as keywords when used as a node ID.
var mermaidReservedIDs = map[string]bool{
	"end": true, "graph": true, "flowchart": true, "subgraph": true, "direction": true,
	"class": true, "classdef": true, "style": true, "linkstyle": true, "click": true,
	"call": true, "href": true, "default": true,
}

// mermaidIDs maps node IDs to Mermaid identifiers. Plain IDs are kept so the
// source stays readable; any other ID becomes "n" plus the node's position.
// Kept IDs never look like positional ones, so the mapping is one to one.
func mermaidIDs(g *Graph) map[string]string {
	out := make(map[string]string, len(g.Nodes))
	for i, node := range g.Nodes {
		id := node.ID
		if !mermaidPlainID.MatchString(id) || mermaidPositionID.MatchString(id) || mermaidReservedIDs[strings.ToLower(id)] {
			id = fmt.Sprintf("n%d", i)
		}
		out[node.ID] = id
	}
	return out
}

// mermaidEscapeLabel escapes characters Mermaid treats as syntax inside labels.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
