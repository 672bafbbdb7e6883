package diagram

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RenderASCIIAuto tries to render using the mermaid-ascii CLI binary if available,
// falling back to the built-in RenderASCII renderer.
func RenderASCIIAuto(g *Graph, ov Overlay, levels [][]string, binDir string) string {
	if binDir != "" {
		binPath := filepath.Join(binDir, "mermaid-ascii")
		if _, err := os.Stat(binPath); err == nil {
			result, err := RenderASCIIViaCLI(g, ov, binPath)
			if err == nil {
				return result
			}
		}
	}
	return RenderASCII(g, ov, levels)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through the mermaid-ascii binary.
func RenderASCIIViaCLI(g *Graph, ov Overlay, binPath string) (string, error) {
	mermaid := RenderMermaidForCLI(g, ov)

	cmd := exec.Command(binPath)
	cmd.Stdin = strings.NewReader(mermaid)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates simplified Mermaid syntax compatible with the
// mermaid-ascii CLI tool. mermaid-ascii cannot parse ["label"] declarations or
// class statements, so the highlight is embedded in edge-referenced node IDs.
// Input nodes are omitted; they would crowd the text rendering.
func RenderMermaidForCLI(g *Graph, ov Overlay) string {
	ov = overlayOrNone(ov)

	var b strings.Builder
	b.WriteString("graph TD\n")

	displayID := make(map[string]string, len(g.Nodes))
	for _, node := range g.Nodes {
		displayID[node.ID] = cliNodeID(node, ov)
	}

	for _, edge := range g.Edges {
		if edge.Kind != EdgeKindTransition {
			continue
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", displayID[edge.From], label, displayID[edge.To])
	}

	return b.String()
}

// cliNodeID builds a display ID for the mermaid-ascii CLI with the highlight
// tag appended.
func cliNodeID(node *Node, ov Overlay) string {
	id := node.Label
	if id == "" {
		id = node.ID
	}
	id = firstLine(id)

	class, hovered := ov.NodeHighlight(node.ID)
	if tag := cliHighlightTag(class); tag != "" {
		id += "-" + tag
	}
	if hovered {
		id += "-HOVER"
	}

	return strings.ReplaceAll(id, " ", "-")
}

// cliHighlightTag returns a compact highlight indicator for node IDs.
func cliHighlightTag(class string) string {
	switch class {
	case ClassActive:
		return "ACTIVE"
	case ClassInPath:
		return "PATH"
	default:
		return ""
	}
}
