package expressions

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/clienthub/automation/pkg/schema"
)

// Scope holds all data available for placeholder resolution and expression
// evaluation during one execution: the entity snapshot, the trigger event,
// the acting user, the current time, and prior step outputs.
type Scope struct {
	mu      sync.RWMutex
	client  map[string]any
	trigger map[string]any
	actor   map[string]any
	now     time.Time
	steps   map[string]any // step index (as string) -> frozen output
}

// NewScope creates a Scope from a trigger event. The client and trigger maps
// are deep-copied so executions cannot observe later edits.
func NewScope(event *schema.TriggerEvent, now time.Time) *Scope {
	s := &Scope{
		now:   now,
		steps: make(map[string]any),
	}
	if event != nil {
		s.client = deepCopyMap(event.Entity)
		s.trigger = map[string]any{
			"type":        string(event.Type),
			"client_id":   event.ClientID,
			"actor_id":    event.ActorID,
			"occurred_at": event.OccurredAt.Format(time.RFC3339),
			"data":        deepCopyMap(event.Data),
		}
		if event.ActorID != "" {
			s.actor = map[string]any{"id": event.ActorID}
		}
	}
	return s
}

// SetActor attaches resolved actor details (name, role) to the scope.
func (s *Scope) SetActor(actor map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actor = deepCopyMap(actor)
}

// AddStepOutput registers a completed step's output under its index. The
// output is frozen (deep-copied) at insertion; re-registering an index is
// rejected because step outputs are immutable once logged.
func (s *Scope) AddStepOutput(index int, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.Itoa(index)
	if _, exists := s.steps[key]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"step %d output already registered; step outputs are immutable", index)
	}

	if len(output) == 0 {
		s.steps[key] = nil
		return nil
	}

	var parsed any
	if err := json.Unmarshal(output, &parsed); err != nil {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot parse step %d output: %s", index, err.Error())
	}
	s.steps[key] = deepCopyAny(parsed)
	return nil
}

// Data returns the scope as the map form the expression engines consume.
// All values are copies; callers may not mutate the scope through it.
func (s *Scope) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"client":  deepCopyMap(s.client),
		"trigger": deepCopyMap(s.trigger),
		"actor":   deepCopyMap(s.actor),
		"now":     nowMap(s.now),
		"steps":   deepCopyMap(s.steps),
	}
}

// Client returns a copy of the entity snapshot.
func (s *Scope) Client() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.client)
}

// Now returns the scope's evaluation time.
func (s *Scope) Now() time.Time {
	return s.now
}

// nowMap expands a timestamp into the fields exposed under the "now"
// namespace: date, time, datetime, weekday, hour, minute, unix.
func nowMap(t time.Time) map[string]any {
	return map[string]any{
		"date":     t.Format("2006-01-02"),
		"time":     t.Format("15:04"),
		"datetime": t.Format(time.RFC3339),
		"weekday":  t.Weekday().String(),
		"hour":     t.Hour(),
		"minute":   t.Minute(),
		"unix":     t.Unix(),
	}
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
