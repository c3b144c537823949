package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/pkg/schema"
)

// Action is an executable unit of work within a workflow step.
type Action interface {
	Name() schema.ActionType
	Description() string
	Execute(ctx context.Context, input *ActionInput) (*Result, error)
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	ClientID string          `json:"client_id,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"` // placeholder-resolved for leaf actions

	// Runtime collaborators, not serialized.
	Scope   *expressions.Scope        `json:"-"`
	EvalCtx *conditions.EvalContext   `json:"-"`
	Interp  *expressions.Interpolator `json:"-"`
}

// Result is the structured outcome of one action execution.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`

	// Wait is set when the step requests the execution be parked instead of
	// proceeding. Only the wait action produces it.
	Wait *WaitDirective `json:"wait,omitempty"`
}

// WaitDirective instructs the engine to persist a timer and pause the
// execution. The engine resumes at the next step when the timer is due.
type WaitDirective struct {
	Duration time.Duration `json:"duration"`
}

// marshalOutput encodes an action's output map, falling back to nil on error.
func marshalOutput(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return json.RawMessage(b)
}

// decodeParams parses a step's params block into a typed struct.
func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid params: %s", err.Error()).WithCause(err)
	}
	return nil
}
