package streaming

import "context"

// StreamEvent is a real-time event emitted during workflow execution.
// StepIndex is -1 for execution-level events.
type StreamEvent struct {
	ExecutionID  string `json:"execution_id"`
	DefinitionID string `json:"definition_id,omitempty"`
	StepIndex    int    `json:"step_index"`
	EventType    string `json:"event_type"`
	Payload      any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID  string   `json:"execution_id,omitempty"`
	DefinitionID string   `json:"definition_id,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
