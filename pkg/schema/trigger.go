package schema

import "time"

// TriggerEvent is the context a domain event carries into dispatch. The
// engine snapshots it at fire time; executions never see later edits.
type TriggerEvent struct {
	Type       TriggerType    `json:"type"`
	ClientID   string         `json:"client_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"` // acting user, when the event has one
	Entity     map[string]any `json:"entity,omitempty"`   // entity snapshot at fire time
	Data       map[string]any `json:"data,omitempty"`     // event-specific payload (old/new status, task id, ...)
	OccurredAt time.Time      `json:"occurred_at"`
}

// Clone returns a deep-enough copy for snapshot isolation: the top-level
// maps are copied so concurrent executions cannot observe each other's
// mutations. Nested values are shared and treated as read-only.
func (e *TriggerEvent) Clone() *TriggerEvent {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Entity != nil {
		cp.Entity = make(map[string]any, len(e.Entity))
		for k, v := range e.Entity {
			cp.Entity[k] = v
		}
	}
	if e.Data != nil {
		cp.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}
