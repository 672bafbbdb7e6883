package diagram

// Highlight classes understood by the exporters.
const (
	ClassActive  = "active"
	ClassInPath  = "inpath"
	ClassNeutral = "neutral"
)

// Overlay supplies the highlight of each element to an exporter.
type Overlay interface {
	NodeHighlight(id string) (class string, hovered bool)
	EdgeHighlight(id string) (class string, hovered bool)
}

type noOverlay struct{}

func (noOverlay) NodeHighlight(string) (string, bool) { return ClassNeutral, false }
func (noOverlay) EdgeHighlight(string) (string, bool) { return ClassNeutral, false }

func overlayOrNone(ov Overlay) Overlay {
	if ov == nil {
		return noOverlay{}
	}
	return ov
}

// defaultLevels groups nodes by insertion order when no layout ranks are given:
// input nodes first, then one action per level.
func defaultLevels(g *Graph) [][]string {
	var inputs []string
	var levels [][]string
	for _, n := range g.Nodes {
		if n.Kind == NodeKindInput {
			inputs = append(inputs, n.ID)
			continue
		}
		levels = append(levels, []string{n.ID})
	}
	if len(inputs) > 0 {
		levels = append([][]string{inputs}, levels...)
	}
	return levels
}
