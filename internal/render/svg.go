package render

import (
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/rendis/tracelens/internal/layout"
)

// WriteSVG draws the current frame as a standalone SVG document sized to
// the viewport. Elements carry data-id and class attributes so a page can
// restyle them from highlight deltas without redrawing.
func (r *Renderer) WriteSVG(w io.Writer) error {
	return WriteSceneSVG(w, r.Frame())
}

// WriteSceneSVG draws a scene as SVG.
func WriteSceneSVG(w io.Writer, sc Scene) error {
	var b strings.Builder
	v := sc.Viewport
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s" data-version="%d" data-direction="%s">`+"\n",
		num(v.Width), num(v.Height), num(v.Width), num(v.Height), sc.Version, sc.Direction)
	b.WriteString(`<defs><marker id="arrow" viewBox="0 0 10 10" refX="9" refY="5" markerWidth="7" markerHeight="7" orient="auto-start-reverse"><path d="M0,0 L10,5 L0,10 z" fill="context-stroke"/></marker></defs>` + "\n")

	switch {
	case sc.Error != nil:
		fmt.Fprintf(&b, `<g class="error" data-code="%s"><rect x="16" y="16" width="%s" height="56" rx="6" fill="#fef2f2" stroke="#dc2626"/>`,
			esc(sc.Error.Code), num(maxf(v.Width-32, 0)))
		fmt.Fprintf(&b, `<text x="32" y="50" font-family="sans-serif" font-size="14" fill="#991b1b">%s</text></g>`+"\n", esc(sc.Error.Message))
	case sc.Pending:
		b.WriteString(`<g class="pending"><text x="16" y="32" font-family="sans-serif" font-size="14" fill="#64748b">laying out…</text></g>` + "\n")
	default:
		fmt.Fprintf(&b, `<g class="viewport" transform="translate(%s %s) scale(%s)">`+"\n", num(v.PanX), num(v.PanY), num(v.Zoom))
		for _, e := range sc.Edges {
			writeEdge(&b, e)
		}
		for _, n := range sc.Nodes {
			writeNode(&b, n)
		}
		b.WriteString("</g>\n")
	}
	b.WriteString("</svg>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeNode(b *strings.Builder, n SceneNode) {
	cls := "node " + string(n.Kind) + " " + string(n.Mark.Class)
	if n.Mark.Hovered {
		cls += " hovered"
	}
	fmt.Fprintf(b, `<g class="%s" data-id="%s" data-action="%s" opacity="%s">`, cls, esc(n.ID), esc(n.Action), num(n.Style.Opacity))
	fmt.Fprintf(b, `<rect x="%s" y="%s" width="%s" height="%s" rx="6" fill="%s" stroke="%s" stroke-width="%s"%s/>`,
		num(n.Box.X), num(n.Box.Y), num(n.Box.W), num(n.Box.H), n.Style.Fill, n.Style.Stroke, num(n.Style.StrokeWidth), dash(n.Style.Dashed))
	c := n.Box.Center()
	fmt.Fprintf(b, `<text x="%s" y="%s" text-anchor="middle" dominant-baseline="central" font-family="sans-serif" font-size="13" fill="%s">%s</text></g>`+"\n",
		num(c.X), num(c.Y), n.Style.Text, esc(n.Label))
}

func writeEdge(b *strings.Builder, e SceneEdge) {
	cls := "edge " + string(e.Kind) + " " + string(e.Mark.Class)
	if e.Fallback {
		cls += " fallback"
	}
	fmt.Fprintf(b, `<g class="%s" data-id="%s" opacity="%s">`, cls, esc(e.ID), num(e.Style.Opacity))
	fmt.Fprintf(b, `<path d="%s" fill="none" stroke="%s" stroke-width="%s"%s marker-end="url(#arrow)"/>`,
		pathData(e.Path, e.Points), e.Style.Stroke, num(e.Style.StrokeWidth), dash(e.Style.Dashed))
	if e.Label != "" {
		fmt.Fprintf(b, `<text x="%s" y="%s" text-anchor="middle" font-family="sans-serif" font-size="11" fill="#475569">%s</text>`,
			num(e.LabelAt.X), num(e.LabelAt.Y), esc(e.Label))
	}
	b.WriteString("</g>\n")
}

// pathData converts edge points to an SVG path.
func pathData(style layout.PathStyle, pts []layout.Point) string {
	if len(pts) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "M%s,%s", num(pts[0].X), num(pts[0].Y))
	if style == layout.PathBezier && len(pts) == 4 {
		fmt.Fprintf(&b, " C%s,%s %s,%s %s,%s",
			num(pts[1].X), num(pts[1].Y), num(pts[2].X), num(pts[2].Y), num(pts[3].X), num(pts[3].Y))
		return b.String()
	}
	for _, p := range pts[1:] {
		fmt.Fprintf(&b, " L%s,%s", num(p.X), num(p.Y))
	}
	return b.String()
}

func num(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func dash(on bool) string {
	if on {
		return ` stroke-dasharray="4 3"`
	}
	return ""
}

func esc(s string) string {
	return html.EscapeString(s)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
