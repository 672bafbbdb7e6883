package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/pkg/schema"
)

// Export formats.
const (
	FormatSVG     = "svg"
	FormatPNG     = "png"
	FormatMermaid = "mermaid"
	FormatASCII   = "ascii"
	FormatJSON    = "json"
)

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	switch format {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	case FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Export encodes the current view. svg and json use the renderer's own
// layout; png goes through graphviz; mermaid and ascii are text exports of
// the graph with the current highlight.
func (r *Renderer) Export(ctx context.Context, format string) ([]byte, error) {
	switch format {
	case FormatSVG, "":
		var buf bytes.Buffer
		if err := r.WriteSVG(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.Marshal(r.Frame())
	}

	r.mu.Lock()
	g, st, dir, pg, err := r.graph, r.state, r.cfg.Direction, r.positioned, r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no application loaded")
	}

	switch format {
	case FormatMermaid:
		return []byte(diagram.RenderMermaid(g, st, string(dir))), nil
	case FormatASCII:
		var levels [][]string
		if pg != nil {
			levels = pg.Ranks()
		}
		return []byte(diagram.RenderASCIIAuto(g, st, levels, r.asciiBin)), nil
	case FormatPNG:
		out, err := diagram.RenderImage(ctx, g, st, string(dir), diagram.FormatPNG)
		if err != nil {
			return nil, fmt.Errorf("render: export png: %w", err)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported export format %q", format)
	}
}
