package streaming

import "context"

// Event types published on the hub.
const (
	EventStepsAppended      = "steps.appended"
	EventStepUpdated        = "step.updated"
	EventApplicationChanged = "application.changed"
	EventInteraction        = "interaction"
	EventFetchFailed        = "fetch.failed"
)

// StreamEvent is a real-time event about a tracked run or a viewer session.
// Topic is a run key (see RunTopic) or a viewer session id.
type StreamEvent struct {
	Topic     string `json:"topic"`
	EventType string `json:"event_type"`
	Sequence  int64  `json:"sequence_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// An empty Topics list matches every topic.
type EventFilter struct {
	Topics     []string `json:"topics,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run updates and viewer interactions.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// RunTopic is the topic under which updates of one tracked run are published.
func RunTopic(project, app, appID string) string {
	return "run:" + project + "/" + app + "/" + appID
}

// SessionTopic is the topic of one viewer session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}
