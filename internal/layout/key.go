package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/rendis/tracelens/internal/diagram"
)

// Key returns a content hash of the graph topology and layout configuration.
// Two calls agree exactly when Compute would produce the same result.
func Key(g *diagram.Graph, cfg Config) string {
	cfg = cfg.withDefaults()
	d := xxhash.New()
	for _, n := range g.Nodes {
		writeField(d, "n", n.ID, string(n.Kind))
	}
	for _, e := range g.Edges {
		writeField(d, "e", e.ID, e.From, e.To, e.Label)
	}
	writeField(d, "d", string(cfg.Direction))
	var buf [8]byte
	for _, f := range []float64{
		cfg.NodeWidth, cfg.NodeHeight, cfg.InputNodeWidth, cfg.InputNodeHeight,
		cfg.NodeSpacing, cfg.RankSpacing, cfg.Margin, float64(cfg.MaxSweeps),
	} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func writeField(d *xxhash.Digest, parts ...string) {
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	_, _ = d.Write([]byte{'\n'})
}
