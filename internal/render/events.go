package render

import "github.com/rendis/tracelens/internal/layout"

// EventType names an interaction intent reported to the selection controller.
type EventType string

const (
	NodeClicked              EventType = "node_clicked"
	EdgeClicked              EventType = "edge_clicked"
	DirectionToggleRequested EventType = "direction_toggle_requested"
)

// Event is an interaction intent. The renderer never changes selection
// itself; the controller decides what a click means.
type Event struct {
	Type EventType `json:"type"`
	// Action is set for NodeClicked. Clicking an input node reports the
	// action that consumes it.
	Action string `json:"action,omitempty"`
	NodeID string `json:"node_id,omitempty"`

	EdgeID    string `json:"edge_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Condition string `json:"condition,omitempty"`
	// ConditionHeld reports whether the edge's condition holds for the most
	// recent completed step of its source action, when one is selected.
	ConditionHeld *bool `json:"condition_held,omitempty"`

	Direction layout.Direction `json:"direction,omitempty"`
}

// EventSink receives interaction events.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
