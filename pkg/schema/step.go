package schema

import "time"

// Step is one recorded execution of an action.
// A step without an End entry is still in flight.
type Step struct {
	Start        StartEntry    `json:"step_start_log"`
	End          *EndEntry     `json:"step_end_log,omitempty"`
	Spans        []Span        `json:"spans,omitempty"`
	Attributes   []Attribute   `json:"attributes,omitempty"`
	StreamEvents []StreamEvent `json:"streaming_events,omitempty"`
}

// StartEntry is logged when an action begins.
type StartEntry struct {
	Action     string         `json:"action"`
	StartTime  time.Time      `json:"start_time"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	SequenceID int64          `json:"sequence_id"`
}

// EndEntry is logged when an action completes or fails.
type EndEntry struct {
	Action     string         `json:"action"`
	EndTime    time.Time      `json:"end_time"`
	Result     map[string]any `json:"result,omitempty"`
	Exception  string         `json:"exception,omitempty"`
	SequenceID int64          `json:"sequence_id"`
}

// Span is a nested unit of work inside a step.
type Span struct {
	ID        string     `json:"span_id"`
	ParentID  string     `json:"parent_span_id,omitempty"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Attribute is a key/value logged during a step, optionally scoped to a span.
type Attribute struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	SpanID string `json:"span_id,omitempty"`
}

// StreamEvent is one item of a streaming action's output.
type StreamEvent struct {
	Type      string         `json:"type"`
	EventTime time.Time      `json:"event_time"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Action returns the name of the action this step invoked.
func (s *Step) Action() string {
	return s.Start.Action
}

// Sequence returns the step's sequence id.
func (s *Step) Sequence() int64 {
	if s.End != nil {
		return s.End.SequenceID
	}
	return s.Start.SequenceID
}

// Completed reports whether the step has an end entry.
func (s *Step) Completed() bool {
	return s.End != nil
}

// Failed reports whether the step ended with an exception.
func (s *Step) Failed() bool {
	return s.End != nil && s.End.Exception != ""
}

// Duration returns the step's wall time, or zero while in flight.
func (s *Step) Duration() time.Duration {
	if s.End == nil {
		return 0
	}
	return s.End.EndTime.Sub(s.Start.StartTime)
}

// Run bundles an application description with one run's step history.
type Run struct {
	Application Application `json:"application"`
	Steps       []Step      `json:"steps"`
}
